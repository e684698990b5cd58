// FILE: lixenwraith/confgraph/tree.go
package confgraph

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// Deferred is a value computed when it is read rather than when it is loaded.
// scope is the tree holding the value; it may be nil when no tree exists yet.
type Deferred interface {
	Resolve(scope *Tree) (any, error)
}

// resolution is the state of one read through nested deferred values.
// It belongs to a single goroutine; waiting is guarded by constructMu.
type resolution struct {
	depth   int
	waiting *Object
}

// chainedDeferred is implemented by deferred values that reach other
// deferred values and must share the read in progress.
type chainedDeferred interface {
	resolveIn(scope *Tree, rs *resolution) (any, error)
}

func resolveDeferred(d Deferred, scope *Tree, rs *resolution) (any, error) {
	if chained, ok := d.(chainedDeferred); ok {
		return chained.resolveIn(scope, rs)
	}
	return d.Resolve(scope)
}

// Tree is an ordered mapping node of a configuration. Nested mappings are
// stored as *Tree and sequences have their mapping elements wrapped, so any
// nested mapping is reachable by key and by dotted path.
//
// Tree is not safe for concurrent mutation; Config serializes access to its root.
type Tree struct {
	keys   []string
	values map[string]any
}

// NewTree creates a tree from m. Keys are inserted in lexical order.
func NewTree(m map[string]any) *Tree {
	t := &Tree{values: make(map[string]any, len(m))}
	for _, key := range sortedKeys(m) {
		t.Set(key, m[key])
	}
	return t
}

// wrapValue converts mappings into trees and wraps mapping elements of sequences.
func wrapValue(value any) any {
	switch v := value.(type) {
	case *Tree:
		return v
	case map[string]any:
		return NewTree(v)
	case map[string]string:
		t := &Tree{values: make(map[string]any, len(v))}
		for _, key := range sortedKeys(v) {
			t.Set(key, v[key])
		}
		return t
	case map[any]any:
		converted := make(map[string]any, len(v))
		for key, elem := range v {
			converted[fmt.Sprint(key)] = elem
		}
		return NewTree(converted)
	case []any:
		wrapped := make([]any, len(v))
		for i, elem := range v {
			wrapped[i] = wrapValue(elem)
		}
		return wrapped
	case []map[string]any:
		wrapped := make([]any, len(v))
		for i, elem := range v {
			wrapped[i] = NewTree(elem)
		}
		return wrapped
	default:
		return value
	}
}

// Set stores value under key, wrapping nested mappings.
func (t *Tree) Set(key string, value any) {
	t.setRaw(key, wrapValue(value))
}

// setRaw stores value without wrapping it.
func (t *Tree) setRaw(key string, value any) {
	if t.values == nil {
		t.values = make(map[string]any)
	}
	if _, exists := t.values[key]; !exists {
		t.keys = append(t.keys, key)
	}
	t.values[key] = value
}

// Get returns the value stored under key. Deferred values are resolved with
// the tree as scope; lists have their deferred elements resolved.
func (t *Tree) Get(key string) (any, error) {
	return t.get(key, &resolution{})
}

func (t *Tree) get(key string, rs *resolution) (any, error) {
	value, ok := t.Raw(key)
	if !ok {
		return nil, newError(ErrKeyNotFound, nil, "no such key %q", key)
	}
	return resolveValue(value, t, rs)
}

// Raw returns the stored value without resolving it.
func (t *Tree) Raw(key string) (any, bool) {
	if t == nil || t.values == nil {
		return nil, false
	}
	value, ok := t.values[key]
	return value, ok
}

// Has reports whether key is present.
func (t *Tree) Has(key string) bool {
	_, ok := t.Raw(key)
	return ok
}

// Len returns the number of keys.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Keys returns the keys in insertion order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	keys := make([]string, len(t.keys))
	copy(keys, t.keys)
	return keys
}

// All iterates stored (unresolved) values in insertion order.
func (t *Tree) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		if t == nil {
			return
		}
		for _, key := range t.keys {
			if !yield(key, t.values[key]) {
				return
			}
		}
	}
}

// Delete removes key and reports whether it was present.
func (t *Tree) Delete(key string) bool {
	if !t.Has(key) {
		return false
	}
	delete(t.values, key)
	for i, k := range t.keys {
		if k == key {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			break
		}
	}
	return true
}

// Update merges other into the tree. Existing keys are replaced wholesale,
// nested trees are not merged. Values that are not mappings are ignored.
func (t *Tree) Update(other any) {
	switch o := other.(type) {
	case *Tree:
		if o == nil {
			return
		}
		for _, key := range o.keys {
			t.Set(key, o.values[key])
		}
	case map[string]any:
		for _, key := range sortedKeys(o) {
			t.Set(key, o[key])
		}
	case map[any]any:
		if wrapped, ok := wrapValue(o).(*Tree); ok {
			t.Update(wrapped)
		}
	}
}

// GetPath resolves a dot-separated path. Numeric segments index into lists;
// other segments may also address fields of resolved Go values.
func (t *Tree) GetPath(path string) (any, error) {
	return t.getPath(path, &resolution{})
}

func (t *Tree) getPath(path string, rs *resolution) (any, error) {
	if path == "" {
		return nil, newError(ErrKeyNotFound, nil, "empty path")
	}

	var current any = t
	scope := t
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case *Tree:
			if !node.Has(segment) {
				return nil, newError(ErrKeyNotFound, nil, "no such path %q", path)
			}
			value, err := node.get(segment, rs)
			if err != nil {
				return nil, err
			}
			scope = node
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, newError(ErrKeyNotFound, err, "no such path %q", path)
			}
			value, err := resolveValue(node[index], scope, rs)
			if err != nil {
				return nil, err
			}
			current = value
		default:
			value, ok := member(node, segment)
			if !ok {
				return nil, newError(ErrKeyNotFound, nil, "no such path %q", path)
			}
			resolved, err := resolveValue(value, scope, rs)
			if err != nil {
				return nil, err
			}
			current = resolved
		}
	}

	return current, nil
}

// HasPath reports whether a dot-separated path exists without resolving
// deferred values. References are followed to the node they name. A path
// continuing into an expression or an unconstructed object reports false.
func (t *Tree) HasPath(path string) bool {
	return t.hasPath(path, 0)
}

func (t *Tree) hasPath(path string, depth int) bool {
	if path == "" || depth > MaxReferenceDepth {
		return false
	}

	segments := strings.Split(path, ".")
	var current any = t
	scope := t
	for i, segment := range segments {
		switch d := current.(type) {
		case *Reference:
			return scope.hasPath(d.Path+"."+strings.Join(segments[i:], "."), depth+1)
		case *Object:
			instance, ok := d.constructed()
			if !ok {
				return false
			}
			current = instance
		case Deferred:
			return false
		}

		switch node := current.(type) {
		case *Tree:
			value, ok := node.Raw(segment)
			if !ok {
				return false
			}
			scope = node
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return false
			}
			current = node[index]
		default:
			value, ok := member(node, segment)
			if !ok {
				return false
			}
			current = value
		}
	}
	return true
}

// SetPath stores value at a dot-separated path, creating intermediate trees.
// An intermediate value that is neither a tree nor a list fails with ErrKeyNotFound.
func (t *Tree) SetPath(path string, value any) error {
	if path == "" {
		return newError(ErrKeyNotFound, nil, "empty path")
	}

	segments := strings.Split(path, ".")
	var current any = t
	for i, segment := range segments {
		last := i == len(segments)-1
		switch node := current.(type) {
		case *Tree:
			if last {
				node.Set(segment, value)
				return nil
			}
			next, ok := node.Raw(segment)
			if !ok {
				next = &Tree{}
				node.Set(segment, next)
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return newError(ErrKeyNotFound, err, "no such path %q", path)
			}
			if last {
				node[index] = wrapValue(value)
				return nil
			}
			current = node[index]
		default:
			return newError(ErrKeyNotFound, nil, "cannot set %q: segment %q is not a mapping", path, segment)
		}
	}
	return nil
}

// ToMap returns a deep copy with every deferred value resolved and every tree
// converted to map[string]any.
func (t *Tree) ToMap() (map[string]any, error) {
	return t.toMap(&resolution{})
}

func (t *Tree) toMap(rs *resolution) (map[string]any, error) {
	out := make(map[string]any, t.Len())
	for _, key := range t.Keys() {
		value, err := t.get(key, rs)
		if err != nil {
			return nil, err
		}
		plain, err := plainValue(value, t, rs)
		if err != nil {
			return nil, err
		}
		out[key] = plain
	}
	return out, nil
}

// String renders the tree with the default registry.
func (t *Tree) String() string {
	data, err := renderValue(newRenderParser(DefaultRegistry()), t, RenderOptions{})
	if err != nil {
		return fmt.Sprintf("<tree: %v>", err)
	}
	return string(data)
}

// staticMap converts the tree to plain maps, leaving out deferred values.
func (t *Tree) staticMap() map[string]any {
	out := make(map[string]any, t.Len())
	for key, value := range t.All() {
		if plain, ok := staticValue(value); ok {
			out[key] = plain
		}
	}
	return out
}

func staticValue(value any) (any, bool) {
	switch v := value.(type) {
	case Deferred:
		return nil, false
	case *Tree:
		return v.staticMap(), true
	case []any:
		out := make([]any, 0, len(v))
		for _, elem := range v {
			if plain, ok := staticValue(elem); ok {
				out = append(out, plain)
			}
		}
		return out, true
	default:
		return value, true
	}
}

func resolveValue(value any, scope *Tree, rs *resolution) (any, error) {
	switch v := value.(type) {
	case Deferred:
		return resolveDeferred(v, scope, rs)
	case []any:
		return resolveList(v, scope, rs)
	default:
		return value, nil
	}
}

// resolveList returns list unchanged unless it holds deferred elements, in
// which case a copy with resolved elements is returned.
func resolveList(list []any, scope *Tree, rs *resolution) ([]any, error) {
	var out []any
	for i, elem := range list {
		d, ok := elem.(Deferred)
		if !ok {
			continue
		}
		if out == nil {
			out = make([]any, len(list))
			copy(out, list)
		}
		resolved, err := resolveDeferred(d, scope, rs)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	if out == nil {
		return list, nil
	}
	return out, nil
}

func plainValue(value any, scope *Tree, rs *resolution) (any, error) {
	switch v := value.(type) {
	case *Tree:
		return v.toMap(rs)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := resolveValue(elem, scope, rs)
			if err != nil {
				return nil, err
			}
			plain, err := plainValue(resolved, scope, rs)
			if err != nil {
				return nil, err
			}
			out[i] = plain
		}
		return out, nil
	default:
		return value, nil
	}
}
