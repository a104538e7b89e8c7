package config

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

var int64Type = reflect.TypeOf(int64(0))

// StringToByteSize is a DecodeHookFunc that converts human sizes such as
// "256KiB" into an int64 byte count via ParseSize. Named int64 types such as
// time.Duration are left to their own hooks.
func StringToByteSize() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != int64Type {
			return data, nil
		}
		return ParseSize(data.(string))
	}
}
