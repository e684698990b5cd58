// FILE: lixenwraith/confgraph/decode.go
package confgraph

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Scan decodes the resolved section at basePath into target, a non-nil
// pointer to a struct or map. Every deferred value in the section is
// resolved. Fields are matched by the "yaml" struct tag unless
// Options.TagName says otherwise. A missing section decodes as empty.
func (c *Config) Scan(basePath string, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return newError(ErrDecode, nil, "scan target must be non-nil pointer, got %T", target)
	}

	c.mutex.RLock()
	section, err := c.section(basePath)
	c.mutex.RUnlock()
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          c.options.TagName,
		WeaklyTypedInput: true,
		DecodeHook:       decodeHook(),
		ZeroFields:       true,
	})
	if err != nil {
		return newError(ErrDecode, err, "decoder creation failed")
	}

	if err := decoder.Decode(section); err != nil {
		return newError(ErrDecode, err, "decode failed for path %q", basePath)
	}
	return nil
}

// section returns the resolved plain map at basePath. Caller holds the read lock.
func (c *Config) section(basePath string) (map[string]any, error) {
	basePath = strings.TrimSuffix(basePath, ".")
	if basePath == "" {
		return c.parsed.ToMap()
	}

	value, err := c.parsed.GetPath(basePath)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return make(map[string]any), nil // Empty section
		}
		return nil, err
	}

	switch v := value.(type) {
	case *Tree:
		return v.ToMap()
	case map[string]any:
		return v, nil
	case nil:
		return make(map[string]any), nil
	default:
		return nil, newError(ErrDecode, nil, "path %q refers to non-map value (type %T)", basePath, value)
	}
}

// ScanRaw decodes the raw snapshot at basePath into target. Custom tags
// decode as their inert strings, so nothing is constructed or resolved.
func (c *Config) ScanRaw(basePath string, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return newError(ErrDecode, nil, "scan target must be non-nil pointer, got %T", target)
	}

	c.mutex.RLock()
	sectionData := navigateToPath(c.raw, basePath)
	if sectionData == nil {
		sectionData = make(map[string]any)
	}
	sectionData = deepCopyValue(sectionData)
	c.mutex.RUnlock()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          c.options.TagName,
		WeaklyTypedInput: true,
		DecodeHook:       decodeHook(),
		ZeroFields:       true,
	})
	if err != nil {
		return newError(ErrDecode, err, "decoder creation failed")
	}

	if err := decoder.Decode(sectionData); err != nil {
		return newError(ErrDecode, err, "decode failed for path %q", basePath)
	}
	return nil
}

// decodeInto decodes input onto output, leaving fields absent from input untouched.
func decodeInto(input any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       decodeHook(),
	})
	if err != nil {
		return fmt.Errorf("decoder creation failed: %w", err)
	}
	return decoder.Decode(input)
}

// decodeHook returns the composite decode hook for all type conversions
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		parsedStringHook("IP address", 45, parseIP),
		parsedStringHook("CIDR", 49, parseCIDR),
		parsedStringHook("URL", 2048, url.Parse),

		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// parsedStringHook converts strings to T or *T with parse. Strings longer
// than maxLen are rejected before parsing.
func parsedStringHook[T any](name string, maxLen int, parse func(string) (*T, error)) mapstructure.DecodeHookFunc {
	target := reflect.TypeFor[T]()
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		pointer := t.Kind() == reflect.Ptr && t.Elem() == target
		if t != target && !pointer {
			return data, nil
		}

		str := reflect.ValueOf(data).String()
		if len(str) > maxLen {
			return nil, fmt.Errorf("invalid %s: %d bytes exceeds %d", name, len(str), maxLen)
		}
		parsed, err := parse(str)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		if pointer {
			return parsed, nil
		}
		return *parsed, nil
	}
}

func parseIP(s string) (*net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("cannot parse %q", s)
	}
	return &ip, nil
}

func parseCIDR(s string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(s)
	return ipnet, err
}
