// FILE: lixenwraith/confgraph/object.go
package confgraph

import (
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Object tag families.
const (
	TagObject     = "object"
	TagObjectCall = "object/call"
	TagObjectLazy = "object/lazy"
)

// Mode selects when an Object constructs its instance.
type Mode int

const (
	// ModePlain uses the resolved target itself as the instance.
	ModePlain Mode = iota
	// ModeCall invokes the target while the document is loaded.
	ModeCall
	// ModeLazy invokes the target on first read.
	ModeLazy
)

func (m Mode) String() string {
	switch m {
	case ModeCall:
		return "call"
	case ModeLazy:
		return "lazy"
	default:
		return "plain"
	}
}

func (m Mode) tag() string {
	switch m {
	case ModeCall:
		return TagObjectCall
	case ModeLazy:
		return TagObjectLazy
	default:
		return TagObject
	}
}

// Object is a deferred runtime object named by a dotted path.
// Once constructed, the instance is memoized and returned on every read.
type Object struct {
	Path   string
	Mode   Mode
	Args   []any
	Kwargs map[string]any

	target any

	// Guarded by constructMu.
	instance any
	resolved bool
	owner    *resolution
	done     chan struct{}
}

// constructMu guards construction state of every Object and the waiting
// field of every resolution. It is never held while a target runs.
var constructMu sync.Mutex

// NewObject creates an object descriptor for an already resolved target.
// ModeCall invokes target immediately; ModePlain assigns kwargs onto it.
func NewObject(path string, target any, mode Mode, args []any, kwargs map[string]any) (*Object, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	o := &Object{Path: path, Mode: mode, Args: args, Kwargs: kwargs, target: target}

	switch mode {
	case ModeCall:
		if _, err := o.Resolve(nil); err != nil {
			return nil, err
		}
	case ModePlain:
		if err := applyAttributes(target, kwargs); err != nil {
			return nil, newError(ErrInvoke, err, "failed to set attributes on %s", path)
		}
		o.instance, o.resolved = target, true
	}
	return o, nil
}

// Target returns the value the path resolved to.
func (o *Object) Target() any {
	return o.target
}

// Constructed reports whether the instance has been memoized.
func (o *Object) Constructed() bool {
	_, ok := o.constructed()
	return ok
}

func (o *Object) constructed() (any, bool) {
	constructMu.Lock()
	defer constructMu.Unlock()
	return o.instance, o.resolved
}

// Resolve returns the memoized instance, constructing it on first use.
// Concurrent first reads construct once; the others wait for the result.
// An object whose arguments lead back to itself fails with
// ErrUnresolvedReference. A failed construction is not memoized.
func (o *Object) Resolve(scope *Tree) (any, error) {
	return o.resolveIn(scope, &resolution{})
}

func (o *Object) resolveIn(scope *Tree, rs *resolution) (any, error) {
	for {
		constructMu.Lock()
		if o.resolved {
			instance := o.instance
			constructMu.Unlock()
			return instance, nil
		}
		if o.owner == nil {
			o.owner, o.done = rs, make(chan struct{})
			constructMu.Unlock()
			break
		}
		if o.waitsOn(rs) {
			constructMu.Unlock()
			return nil, newError(ErrUnresolvedReference, nil, "cycle constructing %s", o.Path)
		}
		rs.waiting = o
		done := o.done
		constructMu.Unlock()

		<-done

		constructMu.Lock()
		rs.waiting = nil
		constructMu.Unlock()
	}

	instance, err := o.construct(scope, rs)

	constructMu.Lock()
	if err == nil {
		o.instance, o.resolved = instance, true
	}
	close(o.done)
	o.owner, o.done = nil, nil
	constructMu.Unlock()

	return instance, err
}

// waitsOn follows the chain of reads blocked on constructions, starting at
// the read constructing o, and reports whether it reaches rs. Waiting for o
// from rs would then never return. Caller holds constructMu.
func (o *Object) waitsOn(rs *resolution) bool {
	for owner := o.owner; owner != nil; {
		if owner == rs {
			return true
		}
		if owner.waiting == nil {
			return false
		}
		owner = owner.waiting.owner
	}
	return false
}

func (o *Object) construct(scope *Tree, rs *resolution) (any, error) {
	args, err := resolveArgs(o.Args, scope, rs)
	if err != nil {
		return nil, err
	}
	kwargs, err := resolveKwargs(o.Kwargs, scope, rs)
	if err != nil {
		return nil, err
	}

	instance, err := invoke(o.target, args, kwargs)
	if err != nil {
		return nil, asConfigurationError(ErrInvoke, err, "failed to construct %s", o.Path)
	}
	return instance, nil
}

// ConstructObject is the constructor of the object tag family.
func ConstructObject(p *Parser, path string, node *yaml.Node) (any, error) {
	if path == "" {
		return nil, newError(ErrMalformedTag, nil, "object tag %q at line %d has no path", node.Tag, node.Line)
	}

	mode := ModePlain
	family := normalizeTag(node.Tag)
	switch {
	case strings.HasPrefix(family, TagObjectCall+":"):
		mode = ModeCall
	case strings.HasPrefix(family, TagObjectLazy+":"):
		mode = ModeLazy
	}

	target, err := p.ResolveName(path)
	if err != nil {
		return nil, asConfigurationError(ErrImport, err, "failed to import %s", path)
	}

	args, kwargs, err := objectArguments(p, node)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("path", path).
		Stringer("mode", mode).
		Int("args", len(args)).
		Int("kwargs", len(kwargs)).
		Msg("Constructing object")

	return NewObject(path, target, mode, args, kwargs)
}

// objectArguments extracts positional and named arguments from an object body.
func objectArguments(p *Parser, node *yaml.Node) ([]any, map[string]any, error) {
	args := []any{}
	kwargs := map[string]any{}

	switch node.Kind {
	case yaml.MappingNode:
		body, err := p.ConstructPlain(untaggedNode(node))
		if err != nil {
			return nil, nil, err
		}
		data, _ := body.(map[string]any)
		rawArgs, hasArgs := data["args"]
		rawKwargs, hasKwargs := data["kwargs"]
		if !hasArgs && !hasKwargs {
			return args, data, nil
		}
		if hasArgs && rawArgs != nil {
			list, ok := rawArgs.([]any)
			if !ok {
				list = []any{rawArgs}
			}
			args = list
		}
		if hasKwargs && rawKwargs != nil {
			named, ok := rawKwargs.(map[string]any)
			if !ok {
				return nil, nil, newError(ErrMalformedTag, nil, "kwargs of %s at line %d must be a mapping", node.Tag, node.Line)
			}
			kwargs = named
		}
	case yaml.SequenceNode:
		body, err := p.ConstructPlain(untaggedNode(node))
		if err != nil {
			return nil, nil, err
		}
		args, _ = body.([]any)
	case yaml.ScalarNode:
		if node.Value == "" {
			break
		}
		value, err := p.ConstructScalar(node)
		if err != nil {
			return nil, nil, err
		}
		args = []any{value}
	}

	return args, kwargs, nil
}

// untaggedNode returns a copy of node with its tag replaced by the core tag
// of its kind, so constructing it does not dispatch back to the same tag.
func untaggedNode(node *yaml.Node) *yaml.Node {
	clone := *node
	clone.Style &^= yaml.TaggedStyle
	clone.Anchor = ""
	switch node.Kind {
	case yaml.MappingNode:
		clone.Tag = "!!map"
	case yaml.SequenceNode:
		clone.Tag = "!!seq"
	default:
		clone.Tag = ""
	}
	return &clone
}

func resolveArgs(args []any, scope *Tree, rs *resolution) ([]any, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		value, err := resolveArgument(arg, scope, rs)
		if err != nil {
			return nil, err
		}
		out[i] = value
	}
	return out, nil
}

func resolveKwargs(kwargs map[string]any, scope *Tree, rs *resolution) (map[string]any, error) {
	out := make(map[string]any, len(kwargs))
	for key, arg := range kwargs {
		value, err := resolveArgument(arg, scope, rs)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

// resolveArgument resolves deferred values nested anywhere in an argument
// and flattens trees to plain maps.
func resolveArgument(arg any, scope *Tree, rs *resolution) (any, error) {
	switch v := arg.(type) {
	case Deferred:
		resolved, err := resolveDeferred(v, scope, rs)
		if err != nil {
			return nil, err
		}
		if tree, ok := resolved.(*Tree); ok {
			return tree.toMap(rs)
		}
		return resolved, nil
	case *Tree:
		return v.toMap(rs)
	case []any:
		return resolveArgs(v, scope, rs)
	case map[string]any:
		return resolveKwargs(v, scope, rs)
	default:
		return arg, nil
	}
}
