// FILE: lixenwraith/confgraph/config_test.go
package confgraph

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadYAML builds a Config from text using resolver (DefaultSymbols when nil).
func loadYAML(t *testing.T, resolver NameResolver, text string) *Config {
	t.Helper()
	opts := DefaultOptions()
	if resolver != nil {
		opts.Resolver = resolver
	}
	cfg := NewWithOptions(opts)
	require.NoError(t, cfg.LoadBytes([]byte(text), "yaml"))
	return cfg
}

// writeFile writes content under dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestConfigCreation tests the constructors and their defaults
func TestConfigCreation(t *testing.T) {
	t.Run("NewWithDefaultOptions", func(t *testing.T) {
		cfg := New()
		require.NotNil(t, cfg)
		assert.Same(t, DefaultRegistry(), cfg.Registry())
		assert.Equal(t, "yaml", cfg.options.TagName)
		assert.Equal(t, 0, cfg.Len())
		assert.Empty(t, cfg.Files())
	})

	t.Run("NewWithCustomOptions", func(t *testing.T) {
		r := NewRegistry()
		cfg := NewWithOptions(Options{Registry: r, TagName: "json", EnvPrefix: "APP_"})
		assert.Same(t, r, cfg.Registry())
		assert.Equal(t, "json", cfg.options.TagName)
		assert.Equal(t, "APP_", cfg.options.EnvPrefix)
		assert.NotNil(t, cfg.resolver)
	})
}

// TestConfigAccess tests reads and writes through dotted paths
func TestConfigAccess(t *testing.T) {
	cfg := loadYAML(t, nil, `
server:
  host: localhost
  port: 8080
  tags: [a, b]
  backends:
    - name: one
    - name: two
debug: true
`)

	t.Run("TopLevelKeysInOrder", func(t *testing.T) {
		assert.Equal(t, []string{"server", "debug"}, cfg.Keys())
		assert.Equal(t, 2, cfg.Len())
	})

	t.Run("GetByPath", func(t *testing.T) {
		host, err := cfg.Get("server.host")
		require.NoError(t, err)
		assert.Equal(t, "localhost", host)

		port, err := cfg.Get("server.port")
		require.NoError(t, err)
		assert.Equal(t, 8080, port)

		name, err := cfg.Get("server.backends.1.name")
		require.NoError(t, err)
		assert.Equal(t, "two", name)
	})

	t.Run("NestedMappingsAreTrees", func(t *testing.T) {
		server, err := cfg.Get("server")
		require.NoError(t, err)
		tree, ok := server.(*Tree)
		require.True(t, ok, "expected *Tree, got %T", server)
		assert.Equal(t, []string{"host", "port", "tags", "backends"}, tree.Keys())

		backends, err := tree.Get("backends")
		require.NoError(t, err)
		list := backends.([]any)
		require.Len(t, list, 2)
		assert.IsType(t, &Tree{}, list[0])
	})

	t.Run("Has", func(t *testing.T) {
		assert.True(t, cfg.Has("server"))
		assert.True(t, cfg.Has("server.tags.0"))
		assert.False(t, cfg.Has("server.missing"))
		assert.False(t, cfg.Has("nothing"))
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := cfg.Get("server.missing")
		assert.ErrorIs(t, err, ErrKeyNotFound)
		var ce *ConfigurationError
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("SetCreatesIntermediates", func(t *testing.T) {
		require.NoError(t, cfg.Set("cache.redis.addr", "127.0.0.1:6379"))
		addr, err := cfg.Get("cache.redis.addr")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:6379", addr)

		// Raw snapshot is left alone
		_, exists := cfg.Raw()["cache"]
		assert.False(t, exists)
	})

	t.Run("SetMappingWrapsTree", func(t *testing.T) {
		require.NoError(t, cfg.Set("limits", map[string]any{"rps": 10}))
		rps, err := cfg.Get("limits.rps")
		require.NoError(t, err)
		assert.Equal(t, 10, rps)
	})

	t.Run("SetThroughScalarFails", func(t *testing.T) {
		err := cfg.Set("debug.level", 3)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("Range", func(t *testing.T) {
		var keys []string
		require.NoError(t, cfg.Range(func(key string, value any) bool {
			keys = append(keys, key)
			return key != "debug"
		}))
		assert.Equal(t, []string{"server", "debug"}, keys)
	})
}

// TestConfigSnapshots tests the raw and parsed views of the same source
func TestConfigSnapshots(t *testing.T) {
	var calls atomic.Int32
	symbols := NewSymbolTable().MustRegister("test.make", func() string {
		calls.Add(1)
		return "made"
	})

	cfg := loadYAML(t, symbols, `
made: !!object/call:test.make
later: !!object/lazy:test.make
pointer: !!ref:made
plain: value
`)

	raw := cfg.Raw()
	assert.Equal(t, "!!object/call:test.make", raw["made"])
	assert.Equal(t, "!!object/lazy:test.make", raw["later"])
	assert.Equal(t, "!!ref:made", raw["pointer"])
	assert.Equal(t, "value", raw["plain"])

	// Call mode ran exactly once while loading
	assert.Equal(t, int32(1), calls.Load())

	made, err := cfg.Get("made")
	require.NoError(t, err)
	assert.Equal(t, "made", made)

	pointer, err := cfg.Get("pointer")
	require.NoError(t, err)
	assert.Equal(t, "made", pointer)
	assert.Equal(t, int32(1), calls.Load())

	assert.Contains(t, cfg.Repr(), "!!object/lazy:test.make")

	// Mutating the copy does not touch the configuration
	raw["plain"] = "changed"
	assert.Equal(t, "value", cfg.Raw()["plain"])
}

// TestConfigMerge tests multi-document and multi-file merging
func TestConfigMerge(t *testing.T) {
	t.Run("LaterDocumentsOverrideTopLevel", func(t *testing.T) {
		cfg := loadYAML(t, nil, `
server:
  host: a
  port: 1
name: first
---
server:
  host: b
extra: true
`)
		host, err := cfg.Get("server.host")
		require.NoError(t, err)
		assert.Equal(t, "b", host)

		// Whole subtree was replaced
		assert.False(t, cfg.Has("server.port"))
		assert.Equal(t, []string{"server", "name", "extra"}, cfg.Keys())
	})

	t.Run("LaterFilesOverrideEarlier", func(t *testing.T) {
		dir := t.TempDir()
		base := writeFile(t, dir, "base.yaml", "a: 1\nb: 2\n")
		override := writeFile(t, dir, "override.yaml", "b: 3\nc: 4\n")

		cfg := New()
		require.NoError(t, cfg.Load(base, override))

		assert.Equal(t, []string{base, override}, cfg.Files())
		for key, want := range map[string]int{"a": 1, "b": 3, "c": 4} {
			got, err := cfg.Get(key)
			require.NoError(t, err)
			assert.Equal(t, want, got, key)
		}
		assert.Equal(t, 3, cfg.Raw()["b"])
	})

	t.Run("FailedLoadLeavesConfigUntouched", func(t *testing.T) {
		cfg := loadYAML(t, nil, "a: 1\n")
		err := cfg.LoadBytes([]byte("a: 2\nb: !!object/call:bad.item\n"), "yaml")
		require.Error(t, err)

		a, err := cfg.Get("a")
		require.NoError(t, err)
		assert.Equal(t, 1, a)
		assert.False(t, cfg.Has("b"))
	})
}

// TestConfigErrors tests the load-time failure modes
func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		kind    error
		message string
	}{
		{"UnparsableSyntax", "a: [1, 2\n", ErrSyntax, "failed to parse"},
		{"ScalarRoot", "test:bad yaml format", ErrSyntax, "must be a mapping"},
		{"SequenceRoot", "- a\n- b\n", ErrSyntax, "must be a mapping"},
		{"UnresolvableObject", "x: !!object/lazy:bad.item\n", ErrImport, "failed to import bad.item"},
		{"UnresolvableCallObject", "x: !!object/call:bad.item\n", ErrImport, "failed to import bad.item"},
		{"UnresolvablePlainObject", "x: !!object:bad.item\n", ErrImport, "failed to import bad.item"},
		{"MalformedEnvelope", "x: !!blablabla:\n", ErrMalformedTag, "malformed tag"},
		{"ObjectWithoutPath", "x: !!object/call:\n", ErrMalformedTag, ""},
		{"InvalidExpression", "x: !!expr \"1 +\"\n", ErrExpression, "invalid expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			err := cfg.LoadBytes([]byte(tt.text), "yaml")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}

	t.Run("UnknownTagIsInert", func(t *testing.T) {
		cfg := loadYAML(t, nil, "x: !!blablabla hello\ny: !custom\n")
		x, err := cfg.Get("x")
		require.NoError(t, err)
		assert.Equal(t, "!!blablabla hello", x)

		y, err := cfg.Get("y")
		require.NoError(t, err)
		assert.Equal(t, "!custom", y)
	})

	t.Run("MissingReferenceFailsOnRead", func(t *testing.T) {
		cfg := loadYAML(t, nil, "x: !!ref:missing.path\n")
		_, err := cfg.Get("x")
		assert.ErrorIs(t, err, ErrUnresolvedReference)
		assert.Contains(t, err.Error(), "missing.path")
	})
}

// TestConcurrentAccess tests concurrent reads against writes
func TestConcurrentAccess(t *testing.T) {
	var constructed atomic.Int32
	symbols := NewSymbolTable().MustRegister("test.slow", func() *struct{ ID int } {
		constructed.Add(1)
		return &struct{ ID int }{ID: 7}
	})

	cfg := loadYAML(t, symbols, `
counter: 0
obj: !!object/lazy:test.slow
mirror: !!ref:counter
`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := cfg.Get("obj")
				assert.NoError(t, err)
				_, err = cfg.Get("mirror")
				assert.NoError(t, err)
			}
		}()
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, cfg.Set(fmt.Sprintf("writer%d", n), j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), constructed.Load())
	assert.Equal(t, 23, cfg.Len())
}

// TestTypedGetters tests the conversion helpers
func TestTypedGetters(t *testing.T) {
	cfg := loadYAML(t, nil, `
name: service
port: 8080
port_str: "9090"
hex: "0x1F"
ratio: 0.75
enabled: true
enabled_str: "false"
zero: 0
empty: null
items: [1, 2]
`)

	s, err := cfg.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "service", s)

	s, err = cfg.GetString("port")
	require.NoError(t, err)
	assert.Equal(t, "8080", s)

	s, err = cfg.GetString("empty")
	require.NoError(t, err)
	assert.Equal(t, "", s)

	i, err := cfg.GetInt64("port_str")
	require.NoError(t, err)
	assert.Equal(t, int64(9090), i)

	i, err = cfg.GetInt64("hex")
	require.NoError(t, err)
	assert.Equal(t, int64(31), i)

	i, err = cfg.GetInt64("ratio")
	require.NoError(t, err)
	assert.Equal(t, int64(0), i)

	b, err := cfg.GetBool("enabled")
	require.NoError(t, err)
	assert.True(t, b)

	b, err = cfg.GetBool("enabled_str")
	require.NoError(t, err)
	assert.False(t, b)

	b, err = cfg.GetBool("zero")
	require.NoError(t, err)
	assert.False(t, b)

	f, err := cfg.GetFloat64("ratio")
	require.NoError(t, err)
	assert.Equal(t, 0.75, f)

	f, err = cfg.GetFloat64("port")
	require.NoError(t, err)
	assert.Equal(t, 8080.0, f)

	_, err = cfg.GetInt64("name")
	assert.ErrorIs(t, err, ErrDecode)

	_, err = cfg.GetBool("items")
	assert.ErrorIs(t, err, ErrDecode)

	_, err = cfg.GetInt64("empty")
	assert.ErrorIs(t, err, ErrDecode)

	_, err = cfg.GetString("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// TestDurationAndSliceGetters tests the duration and list getters
func TestDurationAndSliceGetters(t *testing.T) {
	cfg := loadYAML(t, nil, `
timeout: 2m30s
nanos: 1500
bad_timeout: soon
hosts: [a.example.com, b.example.com]
ports: [80, 443]
csv: "red, green,blue"
blank: ""
nested:
  key: value
`)

	d, err := cfg.GetDuration("timeout")
	require.NoError(t, err)
	assert.Equal(t, 150*time.Second, d)

	d, err = cfg.GetDuration("nanos")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Nanosecond, d)

	_, err = cfg.GetDuration("bad_timeout")
	assert.ErrorIs(t, err, ErrDecode)

	list, err := cfg.GetStringSlice("hosts")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, list)

	list, err = cfg.GetStringSlice("ports")
	require.NoError(t, err)
	assert.Equal(t, []string{"80", "443"}, list)

	list, err = cfg.GetStringSlice("csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "green", "blue"}, list)

	list, err = cfg.GetStringSlice("blank")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = cfg.GetStringSlice("nested")
	assert.ErrorIs(t, err, ErrDecode)
}

// TestLookup tests typed retrieval of constructed objects
func TestLookup(t *testing.T) {
	var counter atomic.Int64
	cfg := loadYAML(t, objectSymbols(&counter, &widget{}), `
w: !!object/lazy:test.widget
name: plain
`)

	w, err := Lookup[*widget](cfg, "w")
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.ID)

	again, err := Lookup[*widget](cfg, "w")
	require.NoError(t, err)
	assert.Same(t, w, again)

	_, err = Lookup[*widget](cfg, "name")
	assert.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "not *confgraph.widget")

	_, err = Lookup[string](cfg, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// TestHasDoesNotResolve tests that containment checks leave deferred values alone
func TestHasDoesNotResolve(t *testing.T) {
	var counter atomic.Int64
	cfg := loadYAML(t, objectSymbols(&counter, &widget{}), `
server:
  host: localhost
  tags: [a, b]
api: !!object/lazy:test.named
  name: gateway
alias: !!ref:server
dangling: !!ref:no.such.path
`)

	assert.True(t, cfg.Has("api"))
	assert.False(t, cfg.Has("api.name"), "object not constructed yet")
	assert.Equal(t, int64(0), counter.Load())

	// References are followed without being resolved
	assert.True(t, cfg.Has("alias.host"))
	assert.True(t, cfg.Has("alias.tags.1"))
	assert.False(t, cfg.Has("alias.port"))
	assert.True(t, cfg.Has("dangling"))
	assert.False(t, cfg.Has("dangling.x"))

	_, err := cfg.Get("api")
	require.NoError(t, err)
	assert.True(t, cfg.Has("api.name"))
	assert.False(t, cfg.Has("api.missing"))
	assert.Equal(t, int64(1), counter.Load())
}
