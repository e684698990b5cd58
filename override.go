// FILE: lixenwraith/confgraph/override.go
package confgraph

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadCLI applies --path=value, --path value and --flag overrides to both
// snapshots. Values are parsed as YAML scalars; a bare flag is true.
func (c *Config) LoadCLI(args []string) error {
	parsedCLI, err := parseArgs(args)
	if err != nil {
		return newError(ErrCLIParse, err, "invalid command-line arguments")
	}

	flattenedCLI := flattenMap(parsedCLI, "")
	if len(flattenedCLI) == 0 {
		return nil // No CLI args to process.
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, path := range sortedKeys(flattenedCLI) {
		value := parseValue(fmt.Sprint(flattenedCLI[path]))
		if err := c.override(path, value); err != nil {
			return newError(ErrCLIParse, err, "cannot apply --%s", path)
		}
	}

	c.logger.Debug().Int("count", len(flattenedCLI)).Msg("Command-line overrides applied")
	return nil
}

// LoadEnv overrides every leaf path of the raw snapshot from the environment.
// An empty prefix falls back to Options.EnvPrefix; "server.port" maps to
// PREFIX + "SERVER_PORT" unless Options.EnvTransform is set.
func (c *Config) LoadEnv(prefix string) error {
	if prefix == "" {
		prefix = c.options.EnvPrefix
	}
	transform := c.options.EnvTransform
	if transform == nil {
		transform = defaultEnvTransform(prefix)
	}

	// -- 1. Collect paths (Read-Lock)
	c.mutex.RLock()
	paths := sortedKeys(flattenMap(c.raw, ""))
	c.mutex.RUnlock()

	// -- 2. Read env vars (No Lock)
	found := make(map[string]string)
	for _, path := range paths {
		if value, exists := os.LookupEnv(transform(path)); exists {
			if len(value) > MaxValueSize {
				return newError(ErrValueSize, nil, "environment value for %s exceeds %d bytes", path, MaxValueSize)
			}
			found[path] = value
		}
	}

	if len(found) == 0 {
		return nil
	}

	// -- 3. Apply (Write-Lock)
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, path := range sortedKeys(found) {
		if err := c.override(path, parseValue(found[path])); err != nil {
			return err
		}
	}

	c.logger.Debug().Int("count", len(found)).Msg("Environment overrides applied")
	return nil
}

// DiscoverEnv returns path -> variable name for every leaf path that has a
// matching environment variable set.
func (c *Config) DiscoverEnv(prefix string) map[string]string {
	transform := c.options.EnvTransform
	if transform == nil {
		transform = defaultEnvTransform(prefix)
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	discovered := make(map[string]string)
	for path := range flattenMap(c.raw, "") {
		envVar := transform(path)
		if _, exists := os.LookupEnv(envVar); exists {
			discovered[path] = envVar
		}
	}
	return discovered
}

// override writes value at path in both snapshots. Caller holds the write lock.
func (c *Config) override(path string, value any) error {
	if len(fmt.Sprint(value)) > MaxValueSize {
		return newError(ErrValueSize, nil, "value for %s exceeds %d bytes", path, MaxValueSize)
	}
	if err := c.parsed.SetPath(path, value); err != nil {
		return err
	}
	setNestedValue(c.raw, path, value)
	return nil
}

// defaultEnvTransform creates the default environment variable transformer
func defaultEnvTransform(prefix string) EnvTransformFunc {
	return func(path string) string {
		env := strings.ReplaceAll(path, ".", "_")
		env = strings.ReplaceAll(env, "-", "_")
		env = strings.ToUpper(env)
		if prefix != "" {
			env = prefix + env
		}
		return env
	}
}

// parseValue parses s as a YAML scalar or sequence. Anything else, including
// text that would parse as a mapping, stays a string.
func parseValue(s string) any {
	if s == "" {
		return ""
	}
	var value any
	if err := yaml.Unmarshal([]byte(s), &value); err != nil {
		return s
	}
	switch value.(type) {
	case nil:
		return nil
	case map[string]any, map[any]any:
		return s
	}
	return value
}

// parseArgs processes command-line arguments into a nested map structure.
func parseArgs(args []string) (map[string]any, error) {
	result := make(map[string]any)
	i := 0
	for i < len(args) {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			// Skip non-flag arguments
			i++
			continue
		}

		argContent := strings.TrimPrefix(arg, "--")
		if argContent == "" {
			// Skip "--" argument if used as a separator
			i++
			continue
		}

		var keyPath string
		var valueStr string

		// Check for "--key=value" format
		if strings.Contains(argContent, "=") {
			parts := strings.SplitN(argContent, "=", 2)
			keyPath = parts[0]
			valueStr = parts[1]
			i++ // Consume only this argument
		} else {
			// Handle "--key value" or "--booleanflag"
			keyPath = argContent
			// Check if it's a boolean flag (next arg is another flag or end of args)
			if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
				valueStr = "true"
				i++ // Consume only the flag argument
			} else {
				// It's a key-value pair with a space
				valueStr = args[i+1]
				i += 2 // Consume both flag and value arguments
			}
		}

		if keyPath == "" {
			// Skip invalid flags like --=value
			continue
		}

		if !validatePath(keyPath) {
			return nil, fmt.Errorf("invalid command-line key path %q", keyPath)
		}

		// Stored as string, typed by parseValue when applied
		setNestedValue(result, keyPath, valueStr)
	}

	return result, nil
}
