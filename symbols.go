// FILE: lixenwraith/confgraph/symbols.go
package confgraph

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NameResolver maps a dotted path to a runtime value. Object tags use it to
// find their targets.
type NameResolver interface {
	ResolveName(path string) (any, error)
}

// ResolverFunc adapts a function to NameResolver.
type ResolverFunc func(path string) (any, error)

func (f ResolverFunc) ResolveName(path string) (any, error) {
	return f(path)
}

// SymbolTable is a NameResolver over explicitly registered values.
// A path that is not registered resolves through the longest registered
// prefix followed by member lookups, so registering "os.Stdout" makes
// "os.Stdout.Name" resolvable too.
type SymbolTable struct {
	mu      sync.RWMutex
	symbols map[string]any
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{symbols: make(map[string]any)}
}

var (
	defaultSymbols     *SymbolTable
	defaultSymbolsOnce sync.Once
)

// DefaultSymbols returns the process-wide symbol table, pre-populated with a
// small set of standard library helpers.
func DefaultSymbols() *SymbolTable {
	defaultSymbolsOnce.Do(func() {
		defaultSymbols = NewSymbolTable()
		for path, value := range builtinSymbols() {
			defaultSymbols.symbols[path] = value
		}
	})
	return defaultSymbols
}

// RegisterSymbol adds value to the process-wide table.
func RegisterSymbol(path string, value any) error {
	return DefaultSymbols().Register(path, value)
}

func builtinSymbols() map[string]any {
	return map[string]any{
		"os.Stdout":          os.Stdout,
		"os.Stderr":          os.Stderr,
		"os.Getenv":          os.Getenv,
		"os.Hostname":        os.Hostname,
		"time.Now":           time.Now,
		"time.ParseDuration": time.ParseDuration,
		"time.UTC":           time.UTC,
		"strings.ToUpper":    strings.ToUpper,
		"strings.ToLower":    strings.ToLower,
		"strings.TrimSpace":  strings.TrimSpace,
		"strings.Join":       strings.Join,
		"fmt.Sprintf":        fmt.Sprintf,
		"uuid.New":           uuid.New,
		"uuid.NewString":     uuid.NewString,
	}
}

// Register makes value resolvable under path. Registering a path twice replaces the value.
func (s *SymbolTable) Register(path string, value any) error {
	if !validatePath(path) {
		return fmt.Errorf("invalid symbol path %q", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.symbols == nil {
		s.symbols = make(map[string]any)
	}
	s.symbols[path] = value
	return nil
}

// MustRegister is like Register but panics on an invalid path.
func (s *SymbolTable) MustRegister(path string, value any) *SymbolTable {
	if err := s.Register(path, value); err != nil {
		panic(err)
	}
	return s
}

// Names returns the registered paths in lexical order.
func (s *SymbolTable) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.symbols))
	for name := range s.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveName implements NameResolver.
func (s *SymbolTable) ResolveName(path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if value, ok := s.symbols[path]; ok {
		return value, nil
	}

	segments := strings.Split(path, ".")
	for i := len(segments) - 1; i > 0; i-- {
		base, ok := s.symbols[strings.Join(segments[:i], ".")]
		if !ok {
			continue
		}
		current := base
		for _, segment := range segments[i:] {
			next, found := member(current, segment)
			if !found {
				return nil, fmt.Errorf("%q has no member %q", strings.Join(segments[:i], "."), segment)
			}
			current = next
		}
		return current, nil
	}

	return nil, fmt.Errorf("no symbol registered for %q", path)
}
