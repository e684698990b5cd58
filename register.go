// FILE: lixenwraith/confgraph/register.go
package confgraph

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// registrySnapshot is an immutable view of a registry. Registration publishes
// a fresh snapshot; installers load it without locking.
type registrySnapshot struct {
	constructors      map[string]Constructor
	multiConstructors map[string]Constructor
	representers      map[reflect.Type]Representer
	multiRepresenters map[reflect.Type]Representer
	multiOrder        []reflect.Type
}

func (s *registrySnapshot) clone() *registrySnapshot {
	next := &registrySnapshot{
		constructors:      make(map[string]Constructor, len(s.constructors)+1),
		multiConstructors: make(map[string]Constructor, len(s.multiConstructors)+1),
		representers:      make(map[reflect.Type]Representer, len(s.representers)+1),
		multiRepresenters: make(map[reflect.Type]Representer, len(s.multiRepresenters)+1),
		multiOrder:        append([]reflect.Type(nil), s.multiOrder...),
	}
	for k, v := range s.constructors {
		next.constructors[k] = v
	}
	for k, v := range s.multiConstructors {
		next.multiConstructors[k] = v
	}
	for k, v := range s.representers {
		next.representers[k] = v
	}
	for k, v := range s.multiRepresenters {
		next.multiRepresenters[k] = v
	}
	return next
}

// Registry maps tags to constructors and Go types to representers.
// Registering a tag or type twice replaces the earlier handler.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[registrySnapshot]
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snapshot.Store(&registrySnapshot{
		constructors:      make(map[string]Constructor),
		multiConstructors: make(map[string]Constructor),
		representers:      make(map[reflect.Type]Representer),
		multiRepresenters: make(map[reflect.Type]Representer),
	})
	return r
}

// DefaultRegistry returns the process-wide registry holding the built-in
// object, ref and expr families.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		registerBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

func registerBuiltins(r *Registry) {
	r.RegisterMultiTag(strings.Join([]string{TagObject, TagObjectCall, TagObjectLazy}, ","),
		reflect.TypeOf((*Object)(nil)), ConstructObject, RepresentObject)
	r.RegisterMultiTag(TagRef, reflect.TypeOf((*Reference)(nil)), ConstructReference, RepresentReference)
	r.RegisterTag(TagExpr, reflect.TypeOf((*Expression)(nil)), ConstructExpression, RepresentExpression)
	r.RegisterTag("", reflect.TypeOf((*Tree)(nil)), nil, RepresentTree)
}

// RegisterTag associates every tag of the comma-separated list with c and
// dataType with rep. Either half may be empty. The update is published at once.
func (r *Registry) RegisterTag(tags string, dataType reflect.Type, c Constructor, rep Representer) {
	r.update(func(s *registrySnapshot) {
		if c != nil {
			for _, tag := range splitTags(tags) {
				s.constructors[tag] = c
			}
		}
		if dataType != nil && rep != nil {
			s.representers[dataType] = rep
		}
	})
}

// RegisterMultiTag is RegisterTag for tag families: c handles every tag that
// starts with one of the prefixes and receives the rest of the tag as suffix.
// rep handles every value assignable to dataType.
func (r *Registry) RegisterMultiTag(prefixes string, dataType reflect.Type, c Constructor, rep Representer) {
	r.update(func(s *registrySnapshot) {
		if c != nil {
			for _, prefix := range splitTags(prefixes) {
				s.multiConstructors[prefix] = c
			}
		}
		if dataType != nil && rep != nil {
			if _, exists := s.multiRepresenters[dataType]; !exists {
				s.multiOrder = append(s.multiOrder, dataType)
			}
			s.multiRepresenters[dataType] = rep
		}
	})
}

func (r *Registry) update(fn func(s *registrySnapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.snapshot.Load().clone()
	fn(next)
	r.snapshot.Store(next)
}

// Install configures p with the unknown-tag fallback and every registered
// constructor and representer.
func (r *Registry) Install(p *Parser) {
	s := r.snapshot.Load()

	p.SetUnknown(UnknownTag)
	for tag, c := range s.constructors {
		p.AddConstructor(tag, c)
	}
	for prefix, c := range s.multiConstructors {
		p.AddMultiConstructor(prefix, c)
	}
	for dataType, rep := range s.representers {
		p.AddRepresenter(dataType, rep)
	}
	for _, dataType := range s.multiOrder {
		p.AddMultiRepresenter(dataType, s.multiRepresenters[dataType])
	}
}

// Tags returns the registered exact tags in lexical order.
func (r *Registry) Tags() []string {
	return sortedKeys(r.snapshot.Load().constructors)
}

// MultiTags returns the registered tag prefixes in lexical order.
func (r *Registry) MultiTags() []string {
	return sortedKeys(r.snapshot.Load().multiConstructors)
}

// Constructor returns the constructor a parser would use for tag, if any.
func (r *Registry) Constructor(tag string) (Constructor, bool) {
	s := r.snapshot.Load()
	tag = normalizeTag(tag)
	if c, ok := s.constructors[tag]; ok {
		return c, true
	}

	prefixes := sortedKeys(s.multiConstructors)
	sort.SliceStable(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, prefix := range prefixes {
		if tag == prefix || strings.HasPrefix(tag, prefix+":") {
			return s.multiConstructors[prefix], true
		}
	}
	return nil, false
}

func splitTags(tags string) []string {
	var out []string
	for _, tag := range strings.Split(tags, ",") {
		tag = normalizeTag(strings.TrimSpace(tag))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
