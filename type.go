// File: lixenwraith/confgraph/type.go
package confgraph

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Lookup resolves path and asserts the result to T. It is the usual way to
// fetch an instance built by an object tag.
func Lookup[T any](c *Config, path string) (T, error) {
	var zero T
	val, err := c.Get(path)
	if err != nil {
		return zero, err
	}
	typed, ok := val.(T)
	if !ok {
		return zero, newError(ErrDecode, nil, "value at %s is %T, not %s", path, val, reflect.TypeFor[T]())
	}
	return typed, nil
}

// GetString retrieves a string configuration value using the path.
// Attempts conversion from common types if the stored value isn't already a string.
func (c *Config) GetString(path string) (string, error) {
	val, err := c.Get(path)
	if err != nil {
		return "", err
	}
	s, err := toString(val)
	if err != nil {
		return "", newError(ErrDecode, err, "path %s", path)
	}
	return s, nil
}

// GetInt64 retrieves an int64 configuration value using the path.
// Attempts conversion from numeric types, parsable strings, and booleans.
func (c *Config) GetInt64(path string) (int64, error) {
	val, err := c.Get(path)
	if err != nil {
		return 0, err
	}
	i, err := toInt64(val)
	if err != nil {
		return 0, newError(ErrDecode, err, "path %s", path)
	}
	return i, nil
}

// GetBool retrieves a boolean configuration value using the path.
// Numbers convert as 0=false, non-zero=true.
func (c *Config) GetBool(path string) (bool, error) {
	val, err := c.Get(path)
	if err != nil {
		return false, err
	}
	b, err := toBool(val)
	if err != nil {
		return false, newError(ErrDecode, err, "path %s", path)
	}
	return b, nil
}

// GetFloat64 retrieves a float64 configuration value using the path.
func (c *Config) GetFloat64(path string) (float64, error) {
	val, err := c.Get(path)
	if err != nil {
		return 0, err
	}
	f, err := toFloat64(val)
	if err != nil {
		return 0, newError(ErrDecode, err, "path %s", path)
	}
	return f, nil
}

// GetDuration retrieves a duration. Strings use time.ParseDuration, integers are nanoseconds.
func (c *Config) GetDuration(path string) (time.Duration, error) {
	val, err := c.Get(path)
	if err != nil {
		return 0, err
	}

	switch v := val.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, newError(ErrDecode, err, "path %s", path)
		}
		return d, nil
	}

	n, err := toInt64(val)
	if err != nil {
		return 0, newError(ErrDecode, err, "path %s", path)
	}
	return time.Duration(n), nil
}

// GetStringSlice retrieves a list of strings. A scalar string is split on commas.
func (c *Config) GetStringSlice(path string) ([]string, error) {
	val, err := c.Get(path)
	if err != nil {
		return nil, err
	}

	switch v := val.(type) {
	case []string:
		return v, nil
	case string:
		if v == "" {
			return []string{}, nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	case []any:
		out := make([]string, len(v))
		for i, elem := range v {
			s, err := toString(elem)
			if err != nil {
				return nil, newError(ErrDecode, err, "path %s, element %d", path, i)
			}
			out[i] = s
		}
		return out, nil
	}

	return nil, newError(ErrDecode, nil, "cannot convert type %T to []string for path %s", val, path)
}

func toString(val any) (string, error) {
	switch v := val.(type) {
	case nil:
		return "", nil // Treat nil as empty string for convenience
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case error:
		return v.Error(), nil
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	}
	return "", fmt.Errorf("cannot convert type %T to string", val)
}

func toInt64(val any) (int64, error) {
	if val == nil {
		return 0, fmt.Errorf("value is nil, cannot convert to int64")
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > uint64(1<<63-1) {
			return 0, fmt.Errorf("unsigned integer %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), nil // Truncate
	case reflect.String:
		s := rv.String()
		// Base 0 accepts "0x1F", "0o17" and "0b101"
		i, err := strconv.ParseInt(s, 0, 64)
		if err == nil {
			return i, nil
		}
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int64(f), nil
		}
		return 0, fmt.Errorf("cannot convert string %q to int64: %w", s, err)
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot convert type %T to int64", val)
}

func toBool(val any) (bool, error) {
	if val == nil {
		return false, fmt.Errorf("value is nil, cannot convert to bool")
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		b, err := strconv.ParseBool(rv.String())
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to bool: %w", rv.String(), err)
		}
		return b, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0, nil
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0, nil
	}
	return false, fmt.Errorf("cannot convert type %T to bool", val)
}

func toFloat64(val any) (float64, error) {
	if val == nil {
		return 0, fmt.Errorf("value is nil, cannot convert to float64")
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.String:
		f, err := strconv.ParseFloat(rv.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string %q to float64: %w", rv.String(), err)
		}
		return f, nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot convert type %T to float64", val)
}
