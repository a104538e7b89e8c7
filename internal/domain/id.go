// Package domain id.go contains functions to parse and validate block IDs
package domain

// BlockID is the canonical identifier of a stored block. The storage engine
// generates it on insert as 128 random bits encoded as 32 lowercase hex
// characters; this package never mints one.
type BlockID string

// ParseID validates s and returns it as a BlockID. It enforces:
// - non-empty
// - length == 32
// - only lowercase [0-9a-f]
// Returns ErrInvalidID on failure.
func ParseID(s string) (BlockID, error) {
	if !isValidID(s) {
		return "", ErrInvalidID
	}
	return BlockID(s), nil
}

// String returns the string form of the BlockID.
func (id BlockID) String() string { return string(id) }

// Valid reports whether the ID satisfies the same rules as ParseID.
func (id BlockID) Valid() bool { return isValidID(string(id)) }

// isValidID performs validation without allocating errors.
func isValidID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
