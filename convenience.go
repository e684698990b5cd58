// File: lixenwraith/confgraph/convenience.go
package confgraph

import (
	"fmt"
	"io"
	"strings"
)

// Quick creates a Config that resolves object tags through resolver and
// loads files in order. A nil resolver uses DefaultSymbols().
func Quick(resolver NameResolver, files ...string) (*Config, error) {
	opts := DefaultOptions()
	if resolver != nil {
		opts.Resolver = resolver
	}
	cfg := NewWithOptions(opts)
	return cfg, cfg.Load(files...)
}

// MustQuick is like Quick but panics on error
func MustQuick(resolver NameResolver, files ...string) *Config {
	cfg, err := Quick(resolver, files...)
	if err != nil {
		panic(fmt.Sprintf("config initialization failed: %v", err))
	}
	return cfg
}

// Validate checks that every required path exists and resolves to a non-nil value.
func (c *Config) Validate(required ...string) error {
	var missing []string
	for _, path := range required {
		value, err := c.Get(path)
		if err != nil {
			missing = append(missing, path+" ("+err.Error()+")")
			continue
		}
		if value == nil {
			missing = append(missing, path)
		}
	}

	if len(missing) > 0 {
		return newError(ErrKeyNotFound, nil, "missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Debug returns a formatted string showing loaded files and every top-level
// key with its raw and stored value.
func (c *Config) Debug() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var b strings.Builder
	b.WriteString("Configuration Debug Info:\n")
	b.WriteString(fmt.Sprintf("Files: %v\n", c.files))
	b.WriteString(fmt.Sprintf("Tags: %v\n", c.registry.Tags()))
	b.WriteString(fmt.Sprintf("Tag families: %v\n", c.registry.MultiTags()))
	b.WriteString("Current values:\n")

	for key, value := range c.parsed.All() {
		b.WriteString(fmt.Sprintf("  %s:\n", key))
		b.WriteString(fmt.Sprintf("    Raw: %v\n", c.raw[key]))
		switch v := value.(type) {
		case *Object:
			b.WriteString(fmt.Sprintf("    Object: %s (%s, constructed: %t)\n", v.Path, v.Mode, v.Constructed()))
		case *Reference:
			b.WriteString(fmt.Sprintf("    Reference: %s\n", v.Payload()))
		case *Expression:
			b.WriteString(fmt.Sprintf("    Expression: %s\n", v.Source))
		case *Tree:
			b.WriteString(fmt.Sprintf("    Tree: %d keys\n", v.Len()))
		default:
			b.WriteString(fmt.Sprintf("    Value: %v\n", v))
		}
	}

	return b.String()
}

// Dump writes the rendered configuration to w
func (c *Config) Dump(w io.Writer) error {
	return c.Encode(w)
}
