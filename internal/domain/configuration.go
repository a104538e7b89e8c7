package domain

// Configuration is one row of the generic key/value configuration store.
type Configuration struct {
	Key   string
	Value map[string]any
}
