// File: lixenwraith/confgraph/builder.go
package confgraph

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ValidatorFunc defines the signature for a function that can validate a Config instance.
// It receives the fully loaded *Config object and should return an error if validation fails.
type ValidatorFunc func(c *Config) error

// Builder provides a fluent interface for building configurations
type Builder struct {
	opts       Options
	files      []string
	args       []string
	useEnv     bool
	discovery  *FileDiscoveryOptions
	err        error
	validators []ValidatorFunc
}

// NewBuilder creates a new configuration builder
func NewBuilder() *Builder {
	return &Builder{
		opts:       DefaultOptions(),
		validators: make([]ValidatorFunc, 0),
	}
}

// WithRegistry sets the tag registry
func (b *Builder) WithRegistry(r *Registry) *Builder {
	if r == nil {
		b.err = errors.Join(b.err, fmt.Errorf("registry cannot be nil"))
		return b
	}
	b.opts.Registry = r
	return b
}

// WithResolver sets the resolver for object tag paths
func (b *Builder) WithResolver(r NameResolver) *Builder {
	if r == nil {
		b.err = errors.Join(b.err, fmt.Errorf("resolver cannot be nil"))
		return b
	}
	b.opts.Resolver = r
	return b
}

// WithLogger sets the logger
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.opts.Logger = &logger
	return b
}

// WithFile adds a configuration file. Files are loaded in the order added.
func (b *Builder) WithFile(path string) *Builder {
	b.files = append(b.files, path)
	return b
}

// WithFiles adds several configuration files
func (b *Builder) WithFiles(paths ...string) *Builder {
	b.files = append(b.files, paths...)
	return b
}

// WithFormat forces the source format of every file
func (b *Builder) WithFormat(format string) *Builder {
	switch format {
	case "", "auto", "yaml", "yml", "json", "toml":
		b.opts.Format = format
	default:
		b.err = errors.Join(b.err, fmt.Errorf("unsupported format %q", format))
	}
	return b
}

// WithArgs sets command-line arguments applied as overrides after the files
func (b *Builder) WithArgs(args []string) *Builder {
	b.args = args
	return b
}

// WithEnvPrefix enables environment overrides with the given prefix
func (b *Builder) WithEnvPrefix(prefix string) *Builder {
	b.opts.EnvPrefix = prefix
	b.useEnv = true
	return b
}

// WithEnvTransform sets a custom environment variable transformer
func (b *Builder) WithEnvTransform(fn EnvTransformFunc) *Builder {
	b.opts.EnvTransform = fn
	b.useEnv = true
	return b
}

// WithSecurityOptions restricts which files may be loaded
func (b *Builder) WithSecurityOptions(sec SecurityOptions) *Builder {
	b.opts.Security = &sec
	return b
}

// WithValidator adds a validation function that runs at the end of the build process
// Multiple validators can be added and are executed in the order they are added
func (b *Builder) WithValidator(fn ValidatorFunc) *Builder {
	if fn != nil {
		b.validators = append(b.validators, fn)
	}
	return b
}

// Build creates the Config instance with all specified options.
// Missing files are reported with ErrConfigNotFound alongside a usable Config.
func (b *Builder) Build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}

	cfg := NewWithOptions(b.opts)

	files := b.files
	args := b.args
	if b.discovery != nil {
		if found := discoverFile(*b.discovery, args); found != "" {
			files = append(files, found)
		}
		args = stripFlag(args, b.discovery.CLIFlag)
	}

	var loadErrors []error
	for _, file := range files {
		if err := cfg.LoadFile(file); err != nil {
			if errors.Is(err, ErrConfigNotFound) {
				loadErrors = append(loadErrors, err)
				continue
			}
			return nil, err // Fatal error
		}
	}

	if b.useEnv {
		if err := cfg.LoadEnv(b.opts.EnvPrefix); err != nil {
			return nil, err
		}
	}

	if len(args) > 0 {
		if err := cfg.LoadCLI(args); err != nil {
			return nil, err
		}
	}

	// Run validators
	for _, validator := range b.validators {
		if err := validator(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	// ErrConfigNotFound or nil
	return cfg, errors.Join(loadErrors...)
}

// MustBuild is like Build but panics on error
func (b *Builder) MustBuild() *Config {
	cfg, err := b.Build()
	if err != nil {
		// Ignore ErrConfigNotFound as it is not a fatal error for MustBuild.
		if !errors.Is(err, ErrConfigNotFound) {
			panic(fmt.Sprintf("config build failed: %v", err))
		}
	}
	return cfg
}

// BuildAndScan builds and decodes the whole configuration into the provided target struct pointer
func (b *Builder) BuildAndScan(target any) error {
	cfg, err := b.Build()
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return err
	}

	if scanErr := cfg.Scan("", target); scanErr != nil {
		return fmt.Errorf("failed to scan final config into target: %w", scanErr)
	}

	// ErrConfigNotFound or nil
	return err
}
