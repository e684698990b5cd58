// FILE: lixenwraith/confgraph/object_test.go
package confgraph

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name  string `yaml:"name"`
	Level int    `yaml:"level"`
	ID    int64
}

type recordedCall struct {
	Args   []any
	Kwargs map[string]any
}

// objectSymbols returns a table with a counting widget factory and a recorder.
func objectSymbols(counter *atomic.Int64, shared *widget) *SymbolTable {
	return NewSymbolTable().
		MustRegister("test.widget", func() *widget {
			return &widget{ID: counter.Add(1)}
		}).
		MustRegister("test.named", func(opts widget) *widget {
			opts.ID = counter.Add(1)
			return &opts
		}).
		MustRegister("test.shared", shared).
		MustRegister("test.record", Factory(func(args []any, kwargs map[string]any) (any, error) {
			return recordedCall{Args: args, Kwargs: kwargs}, nil
		}))
}

// TestObjectModes tests when each mode constructs its instance
func TestObjectModes(t *testing.T) {
	t.Run("CallConstructsDuringLoad", func(t *testing.T) {
		var counter atomic.Int64
		cfg := loadYAML(t, objectSymbols(&counter, &widget{}), "w: !!object/call:test.widget\n")
		assert.Equal(t, int64(1), counter.Load(), "constructed before any read")

		first, err := cfg.Get("w")
		require.NoError(t, err)
		second, err := cfg.Get("w")
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, int64(1), counter.Load())
	})

	t.Run("LazyConstructsOnFirstRead", func(t *testing.T) {
		var counter atomic.Int64
		cfg := loadYAML(t, objectSymbols(&counter, &widget{}), "w: !!object/lazy:test.widget\n")
		assert.Equal(t, int64(0), counter.Load())

		raw, _ := cfg.Tree().Raw("w")
		obj := raw.(*Object)
		assert.Equal(t, ModeLazy, obj.Mode)
		assert.False(t, obj.Constructed())

		first, err := cfg.Get("w")
		require.NoError(t, err)
		assert.Equal(t, int64(1), counter.Load())
		assert.True(t, obj.Constructed())

		second, err := cfg.Get("w")
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, int64(1), counter.Load())
	})

	t.Run("PlainReturnsTarget", func(t *testing.T) {
		var counter atomic.Int64
		shared := &widget{Name: "before"}
		cfg := loadYAML(t, objectSymbols(&counter, shared), "w: !!object:test.shared\n")

		w, err := cfg.Get("w")
		require.NoError(t, err)
		assert.Same(t, shared, w)
		assert.Equal(t, "before", shared.Name)
		assert.Equal(t, int64(0), counter.Load())
	})

	t.Run("PlainAssignsAttributes", func(t *testing.T) {
		var counter atomic.Int64
		shared := &widget{Name: "before", Level: 1}
		cfg := loadYAML(t, objectSymbols(&counter, shared), `
w: !!object:test.shared
  name: after
`)
		// Attributes are set while loading
		assert.Equal(t, "after", shared.Name)
		assert.Equal(t, 1, shared.Level)

		w, err := cfg.Get("w")
		require.NoError(t, err)
		assert.Same(t, shared, w)
	})

	t.Run("PlainFunctionIsNotCalled", func(t *testing.T) {
		var counter atomic.Int64
		cfg := loadYAML(t, objectSymbols(&counter, &widget{}), "w: !!object:test.widget\n")
		w, err := cfg.Get("w")
		require.NoError(t, err)
		_, ok := w.(func() *widget)
		assert.True(t, ok, "got %T", w)
		assert.Equal(t, int64(0), counter.Load())
	})

	t.Run("NamedArgumentsDecodeIntoStruct", func(t *testing.T) {
		var counter atomic.Int64
		cfg := loadYAML(t, objectSymbols(&counter, &widget{}), `
w: !!object/lazy:test.named
  kwargs:
    name: gear
    level: "3"
`)
		w, err := cfg.Get("w")
		require.NoError(t, err)
		assert.Equal(t, "gear", w.(*widget).Name)
		assert.Equal(t, 3, w.(*widget).Level)
	})
}

// TestObjectArguments tests how the node body becomes arguments
func TestObjectArguments(t *testing.T) {
	var counter atomic.Int64
	symbols := objectSymbols(&counter, &widget{})

	tests := []struct {
		name   string
		text   string
		args   []any
		kwargs map[string]any
	}{
		{"NoBody", "x: !!object/call:test.record\n", []any{}, map[string]any{}},
		{"EmptyMapping", "x: !!object/call:test.record {}\n", []any{}, map[string]any{}},
		{"ArgsAndKwargs", "x: !!object/call:test.record\n  args: [1, two]\n  kwargs: {a: x}\n",
			[]any{1, "two"}, map[string]any{"a": "x"}},
		{"ArgsOnly", "x: !!object/call:test.record {args: [true]}\n", []any{true}, map[string]any{}},
		{"ScalarArgs", "x: !!object/call:test.record {args: 7}\n", []any{7}, map[string]any{}},
		{"KwargsOnly", "x: !!object/call:test.record {kwargs: {k: v}}\n", []any{}, map[string]any{"k": "v"}},
		{"BareMapping", "x: !!object/call:test.record\n  a: 1\n  b: [2]\n", []any{}, map[string]any{"a": 1, "b": []any{2}}},
		{"Sequence", "x: !!object/call:test.record [1, two, {three: 3}]\n",
			[]any{1, "two", map[string]any{"three": 3}}, map[string]any{}},
		{"Scalar", "x: !!object/call:test.record 5\n", []any{5}, map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadYAML(t, symbols, tt.text)
			x, err := cfg.Get("x")
			require.NoError(t, err)
			call := x.(recordedCall)
			assert.Equal(t, tt.args, call.Args)
			assert.Equal(t, tt.kwargs, call.Kwargs)
		})
	}

	t.Run("KwargsMustBeMapping", func(t *testing.T) {
		cfg := NewWithOptions(Options{Resolver: symbols})
		err := cfg.LoadBytes([]byte("x: !!object/call:test.record {kwargs: [1]}\n"), "yaml")
		assert.ErrorIs(t, err, ErrMalformedTag)
	})

	t.Run("DeferredArgumentsResolveOnRead", func(t *testing.T) {
		cfg := loadYAML(t, symbols, `
host: db.internal
x: !!object/lazy:test.record
  kwargs:
    url: !!ref:host:/app
    nested: {port: !!expr "2 * 2"}
`)
		x, err := cfg.Get("x")
		require.NoError(t, err)
		call := x.(recordedCall)
		assert.Equal(t, "db.internal/app", call.Kwargs["url"])
		assert.Equal(t, map[string]any{"port": 4}, call.Kwargs["nested"])
	})

	t.Run("ObjectAsArgument", func(t *testing.T) {
		cfg := loadYAML(t, symbols, `
x: !!object/lazy:test.record
  - !!object/call:test.widget
`)
		x, err := cfg.Get("x")
		require.NoError(t, err)
		call := x.(recordedCall)
		require.Len(t, call.Args, 1)
		assert.IsType(t, &widget{}, call.Args[0])
	})
}

// TestObjectFailures tests failing resolution and construction
func TestObjectFailures(t *testing.T) {
	var attempts atomic.Int32
	symbols := NewSymbolTable().
		MustRegister("test.flaky", func() (*widget, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("not yet")
			}
			return &widget{Name: "ok"}, nil
		}).
		MustRegister("test.panics", func() int { panic("kaboom") }).
		MustRegister("test.value", 42)

	t.Run("ImportFailureOnLoad", func(t *testing.T) {
		for _, tag := range []string{"object", "object/call", "object/lazy"} {
			cfg := NewWithOptions(Options{Resolver: symbols})
			err := cfg.LoadBytes([]byte("x: !!"+tag+":bad.item\n"), "yaml")
			require.Error(t, err, tag)
			assert.ErrorIs(t, err, ErrImport)
			assert.Contains(t, err.Error(), "failed to import bad.item")
		}
	})

	t.Run("FailedConstructionIsRetried", func(t *testing.T) {
		cfg := loadYAML(t, symbols, "x: !!object/lazy:test.flaky\n")

		_, err := cfg.Get("x")
		assert.ErrorIs(t, err, ErrInvoke)
		assert.Contains(t, err.Error(), "not yet")

		x, err := cfg.Get("x")
		require.NoError(t, err)
		assert.Equal(t, "ok", x.(*widget).Name)
	})

	t.Run("CallFailureFailsLoad", func(t *testing.T) {
		cfg := NewWithOptions(Options{Resolver: symbols})
		err := cfg.LoadBytes([]byte("x: !!object/call:test.panics\n"), "yaml")
		assert.ErrorIs(t, err, ErrInvoke)
		assert.Contains(t, err.Error(), "kaboom")
	})

	t.Run("NotCallable", func(t *testing.T) {
		cfg := loadYAML(t, symbols, "x: !!object/lazy:test.value\n")
		_, err := cfg.Get("x")
		assert.ErrorIs(t, err, ErrInvoke)
		assert.Contains(t, err.Error(), "not callable")
	})

	t.Run("PlainAttributesOnScalar", func(t *testing.T) {
		cfg := NewWithOptions(Options{Resolver: symbols})
		err := cfg.LoadBytes([]byte("x: !!object:test.value {a: 1}\n"), "yaml")
		assert.ErrorIs(t, err, ErrInvoke)
	})
}

// TestNewObject tests building descriptors without a document
func TestNewObject(t *testing.T) {
	called := 0
	target := func(n int) int {
		called++
		return n * 2
	}

	obj, err := NewObject("double", target, ModeCall, []any{21}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, called)
	assert.True(t, obj.Constructed())
	assert.NotNil(t, obj.Target())

	v, err := obj.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, called)

	lazy, err := NewObject("double", target, ModeLazy, []any{1}, nil)
	require.NoError(t, err)
	assert.False(t, lazy.Constructed())
	assert.Equal(t, map[string]any{}, lazy.Kwargs)

	assert.Equal(t, "plain", ModePlain.String())
	assert.Equal(t, "call", ModeCall.String())
	assert.Equal(t, "lazy", ModeLazy.String())
}

// TestObjectCycles tests that objects whose arguments lead back to themselves fail
func TestObjectCycles(t *testing.T) {
	// getWithin fails the test instead of hanging when a read never returns
	getWithin := func(t *testing.T, cfg *Config, path string) error {
		t.Helper()
		result := make(chan error, 1)
		go func() {
			_, err := cfg.Get(path)
			result <- err
		}()
		select {
		case err := <-result:
			return err
		case <-time.After(3 * time.Second):
			t.Fatalf("Get(%q) did not return", path)
			return nil
		}
	}

	t.Run("SelfReference", func(t *testing.T) {
		var counter atomic.Int64
		cfg := loadYAML(t, objectSymbols(&counter, &widget{}), `
a: !!object/lazy:test.record
  - "%v"
  - !!ref:a
`)
		err := getWithin(t, cfg, "a")
		assert.ErrorIs(t, err, ErrUnresolvedReference)
		assert.Contains(t, err.Error(), "cycle constructing test.record")
		assert.False(t, mustObject(t, cfg, "a").Constructed())

		// The config stays usable after the failed read
		require.NoError(t, cfg.Set("other", 1))
	})

	t.Run("TwoObjects", func(t *testing.T) {
		var counter atomic.Int64
		cfg := loadYAML(t, objectSymbols(&counter, &widget{}), `
b: !!object/lazy:test.record [!!ref:c]
c: !!object/lazy:test.record {peer: !!ref:b}
`)
		assert.ErrorIs(t, getWithin(t, cfg, "b"), ErrUnresolvedReference)
		assert.ErrorIs(t, getWithin(t, cfg, "c"), ErrUnresolvedReference)
	})

	t.Run("ConcurrentReadsOfCycle", func(t *testing.T) {
		var counter atomic.Int64
		cfg := loadYAML(t, objectSymbols(&counter, &widget{}), `
b: !!object/lazy:test.record [!!ref:c]
c: !!object/lazy:test.record [!!ref:b]
`)
		var wg sync.WaitGroup
		errs := make([]error, 20)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = cfg.Get([]string{"b", "c"}[i%2])
			}(i)
		}

		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent reads of a cycle did not return")
		}

		for i, err := range errs {
			assert.ErrorIs(t, err, ErrUnresolvedReference, "read %d", i)
		}
	})

	t.Run("SharedDependencyIsNotACycle", func(t *testing.T) {
		var counter atomic.Int64
		cfg := loadYAML(t, objectSymbols(&counter, &widget{}), `
base: !!object/lazy:test.widget
left: !!object/lazy:test.record [!!ref:base]
right: !!object/lazy:test.record [!!ref:base, !!ref:left]
`)
		right, err := cfg.Get("right")
		require.NoError(t, err)
		call := right.(recordedCall)
		require.Len(t, call.Args, 2)
		assert.Same(t, call.Args[0].(*widget), call.Args[1].(recordedCall).Args[0].(*widget))
		assert.Equal(t, int64(1), counter.Load())
	})
}

func mustObject(t *testing.T, cfg *Config, key string) *Object {
	t.Helper()
	raw, ok := cfg.Tree().Raw(key)
	require.True(t, ok)
	obj, ok := raw.(*Object)
	require.True(t, ok, "%s is %T", key, raw)
	return obj
}
