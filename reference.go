// FILE: lixenwraith/confgraph/reference.go
package confgraph

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// TagRef is the reference tag family.
const TagRef = "ref"

// MaxReferenceDepth bounds the references nested inside a single read.
// A reference cycle exceeds it and fails instead of recursing forever.
const MaxReferenceDepth = 512

// Reference is a live lookup of another node of the same tree. It is never
// memoized: every read walks Path against the tree as it is at that moment.
type Reference struct {
	Path string
	// Suffix is "", a literal string or a nested *Reference.
	Suffix any
}

// ParseReference parses a reference payload of the form path[:suffix].
// With more than two ':' separated parts the second part is the family
// marker of a nested reference and the remainder is that reference's payload.
func ParseReference(payload string) (*Reference, error) {
	parts := strings.Split(payload, ":")
	if parts[0] == "" {
		return nil, newError(ErrMalformedTag, nil, "reference %q has no path", payload)
	}

	ref := &Reference{Path: parts[0]}
	switch {
	case len(parts) == 2:
		ref.Suffix = parts[1]
	case len(parts) > 2:
		nested, err := ParseReference(strings.Join(parts[2:], ":"))
		if err != nil {
			return nil, err
		}
		ref.Suffix = nested
	}
	return ref, nil
}

// Payload renders the reference back into its tag payload.
func (r *Reference) Payload() string {
	switch s := r.Suffix.(type) {
	case *Reference:
		return r.Path + ":" + TagRef + ":" + s.Payload()
	case string:
		if s != "" {
			return r.Path + ":" + s
		}
	}
	return r.Path
}

func (r *Reference) String() string {
	return "!!" + TagRef + ":" + r.Payload()
}

// Resolve looks Path up in scope and appends the suffix to string results.
// Non-string results are returned as they are and the suffix is ignored.
func (r *Reference) Resolve(scope *Tree) (any, error) {
	return r.resolveIn(scope, &resolution{})
}

func (r *Reference) resolveIn(scope *Tree, rs *resolution) (any, error) {
	if scope == nil {
		return nil, newError(ErrUnresolvedReference, nil, "unable to find %s: no tree to resolve against", r.Path)
	}

	if rs.depth >= MaxReferenceDepth {
		return nil, newError(ErrUnresolvedReference, nil, "unable to find %s: reference cycle", r.Path)
	}
	rs.depth++
	defer func() { rs.depth-- }()

	base, err := scope.getPath(r.Path, rs)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, newError(ErrUnresolvedReference, err, "unable to find %s", r.Path)
		}
		return nil, err
	}

	text, ok := base.(string)
	if !ok {
		return base, nil
	}

	switch s := r.Suffix.(type) {
	case *Reference:
		suffix, err := s.resolveIn(scope, rs)
		if err != nil {
			return nil, err
		}
		return text + fmt.Sprint(suffix), nil
	case string:
		return text + s, nil
	}
	return text, nil
}

// ConstructReference is the constructor of the ref tag family.
func ConstructReference(p *Parser, payload string, node *yaml.Node) (any, error) {
	if payload == "" {
		return nil, newError(ErrMalformedTag, nil, "reference tag %q at line %d has no path", node.Tag, node.Line)
	}
	return ParseReference(payload)
}
