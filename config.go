package ruleflow

import (
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/golobby/cast"
)

// Config is the opaque configuration blob handed to a setup when a module is
// configured. The engine passes it through unmodified; the typed getters are
// conveniences for setups and rules.
type Config map[string]any

// Clone returns a shallow copy.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	return maps.Clone(c)
}

// Has reports whether key is set.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// String returns the value of key as a string, or def.
func (c Config) String(key, def string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the value of key as an int, or def when absent or not convertible.
func (c Config) Int(key string, def int) int {
	if v, ok := convert[int](c, key); ok {
		return v
	}
	return def
}

// Float returns the value of key as a float64, or def.
func (c Config) Float(key string, def float64) float64 {
	if v, ok := convert[float64](c, key); ok {
		return v
	}
	return def
}

// Bool returns the value of key as a bool, or def.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := convert[bool](c, key); ok {
		return v
	}
	return def
}

// Duration returns the value of key as a duration, or def. Strings use
// time.ParseDuration syntax; integers are nanoseconds.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return def
		}
		return parsed
	}
	if n, ok := convert[int64](c, key); ok {
		return time.Duration(n)
	}
	return def
}

// convert reads key and converts it to T, going through golobby/cast for
// values that are not already a T.
func convert[T any](c Config, key string) (T, bool) {
	var zero T
	v, ok := c[key]
	if !ok || v == nil {
		return zero, false
	}
	if typed, ok := v.(T); ok {
		return typed, true
	}
	out, err := cast.FromType(fmt.Sprint(v), reflect.TypeOf(zero))
	if err != nil {
		return zero, false
	}
	typed, ok := out.(T)
	return typed, ok
}
