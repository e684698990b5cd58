// FILE: lixenwraith/confgraph/config.go
package confgraph

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// MaxValueSize limits the length of a single override value.
const MaxValueSize = 1024 * 1024 // 1MB

// EnvTransformFunc converts a configuration path to an environment variable name.
type EnvTransformFunc func(path string) string

// SecurityOptions restricts which configuration files may be loaded.
type SecurityOptions struct {
	// PreventPathTraversal rejects relative paths that escape the working directory
	PreventPathTraversal bool
	// MaxFileSize rejects larger files (0 = unlimited)
	MaxFileSize int64
	// EnforceFileOwnership rejects files not owned by the current user (Unix only)
	EnforceFileOwnership bool
}

// Options configures a Config.
type Options struct {
	// Registry supplies tag constructors and representers.
	// Default: DefaultRegistry()
	Registry *Registry

	// Resolver resolves object tag paths.
	// Default: DefaultSymbols()
	Resolver NameResolver

	// Logger receives load, override and reload events.
	// Default: disabled
	Logger *zerolog.Logger

	// Format forces the source format ("yaml", "json", "toml").
	// Default: detected from extension, then content
	Format string

	// TagName is the struct tag used by Scan.
	TagName string

	// EnvPrefix is prepended to environment variable names by LoadEnv.
	EnvPrefix string

	// EnvTransform customizes how paths map to environment variables.
	EnvTransform EnvTransformFunc

	// Security restricts file loading. nil disables all checks.
	Security *SecurityOptions
}

// DefaultOptions returns the standard options.
func DefaultOptions() Options {
	return Options{
		Registry: DefaultRegistry(),
		Resolver: DefaultSymbols(),
		TagName:  "yaml",
	}
}

// Config is a configuration document. It keeps a raw snapshot in which
// custom tags are inert strings and a parsed tree in which they are live
// deferred values. Both are merged top-level key by key in load order.
type Config struct {
	registry *Registry
	resolver NameResolver
	logger   zerolog.Logger
	options  Options

	raw    map[string]any
	parsed *Tree
	files  []string

	mutex sync.RWMutex

	// Watcher state
	watcher *watcher
}

// New creates an empty Config with default options.
func New() *Config {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates an empty Config.
func NewWithOptions(opts Options) *Config {
	defaults := DefaultOptions()
	if opts.Registry == nil {
		opts.Registry = defaults.Registry
	}
	if opts.Resolver == nil {
		opts.Resolver = defaults.Resolver
	}
	if opts.TagName == "" {
		opts.TagName = defaults.TagName
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Config{
		registry: opts.Registry,
		resolver: opts.Resolver,
		logger:   logger,
		options:  opts,
		raw:      make(map[string]any),
		parsed:   &Tree{},
	}
}

// Registry returns the registry used by the parsed pass.
func (c *Config) Registry() *Registry {
	return c.registry
}

// Has reports whether path exists in the parsed tree. Deferred values are
// not resolved, so a path into an object that has not been constructed yet
// reports false until the object is read.
func (c *Config) Has(path string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.parsed.Has(path) || c.parsed.HasPath(path)
}

// Len returns the number of top-level keys.
func (c *Config) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.parsed.Len()
}

// Keys returns the top-level keys in load order.
func (c *Config) Keys() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.parsed.Keys()
}

// Get returns the resolved value at a dot-separated path.
// Deferred values are resolved against the tree that holds them.
func (c *Config) Get(path string) (any, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.parsed.Has(path) {
		return c.parsed.Get(path)
	}
	return c.parsed.GetPath(path)
}

// Set writes value at a dot-separated path of the parsed tree, creating
// intermediate trees. The raw snapshot is not changed.
func (c *Config) Set(path string, value any) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.parsed.SetPath(path, value); err != nil {
		return err
	}
	c.logger.Debug().Str("path", path).Msg("Configuration value set")
	return nil
}

// Range calls fn for every top-level key with its resolved value, in load
// order, until fn returns false. A resolution error stops the iteration.
func (c *Config) Range(fn func(key string, value any) bool) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, key := range c.parsed.Keys() {
		value, err := c.parsed.Get(key)
		if err != nil {
			return err
		}
		if !fn(key, value) {
			return nil
		}
	}
	return nil
}

// Tree returns the parsed tree. Callers mutating it must not do so
// concurrently with other Config methods.
func (c *Config) Tree() *Tree {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.parsed
}

// Raw returns a deep copy of the raw snapshot.
func (c *Config) Raw() map[string]any {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return deepCopyMap(c.raw)
}

// Repr renders the raw snapshot for diagnostics.
func (c *Config) Repr() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return fmt.Sprintf("%v", c.raw)
}

// Files returns the files loaded so far, in load order.
func (c *Config) Files() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	files := make([]string, len(c.files))
	copy(files, c.files)
	return files
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return deepCopyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = deepCopyValue(elem)
		}
		return out
	default:
		return value
	}
}
