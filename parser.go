// FILE: lixenwraith/confgraph/parser.go
package confgraph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Constructor turns a tagged node into a runtime value. For multi tags suffix
// is the part of the tag after the matched prefix and its ':' separator; for
// exact tags it is empty; for the unknown-tag fallback it is the whole tag.
type Constructor func(p *Parser, suffix string, node *yaml.Node) (any, error)

// Representer turns a runtime value back into a node.
type Representer func(p *Parser, value any) (*yaml.Node, error)

const longTagPrefix = "tag:yaml.org,2002:"

// Tags understood by yaml.v3 itself. They never reach a Constructor.
var coreTags = map[string]bool{
	"str": true, "int": true, "float": true, "bool": true, "null": true,
	"map": true, "seq": true, "binary": true, "timestamp": true, "merge": true,
	"omap": true, "pairs": true, "set": true,
}

type prefixConstructor struct {
	prefix      string
	constructor Constructor
}

type typeRepresenter struct {
	dataType    reflect.Type
	representer Representer
}

type anchorKey struct {
	node  *yaml.Node
	plain bool
}

// Parser is the structured-text collaborator: it turns YAML into trees and
// values, dispatching custom tags to constructors, and renders values back to
// nodes through representers. A safe parser ignores every constructor and
// renders custom tags as inert strings.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	safe     bool
	resolver NameResolver
	logger   zerolog.Logger

	unknown           Constructor
	exact             map[string]Constructor
	prefixes          []prefixConstructor
	representers      map[reflect.Type]Representer
	multiRepresenters []typeRepresenter

	anchors map[anchorKey]any
	plain   int
}

// NewParser creates a tag-aware parser. Mappings become *Tree values.
// resolver may be nil if no object tags are used.
func NewParser(resolver NameResolver) *Parser {
	return &Parser{
		resolver:     resolver,
		logger:       zerolog.Nop(),
		unknown:      UnknownTag,
		exact:        make(map[string]Constructor),
		representers: make(map[reflect.Type]Representer),
	}
}

// NewSafeParser creates a parser that only understands core YAML tags.
// Mappings become map[string]any values.
func NewSafeParser() *Parser {
	p := NewParser(nil)
	p.safe = true
	return p
}

// WithLogger sets the logger used for construction diagnostics.
func (p *Parser) WithLogger(logger zerolog.Logger) *Parser {
	p.logger = logger
	return p
}

// Safe reports whether custom constructors are disabled.
func (p *Parser) Safe() bool {
	return p.safe
}

// AddConstructor registers c for an exact tag name (without handle).
func (p *Parser) AddConstructor(tag string, c Constructor) {
	p.exact[tag] = c
}

// AddMultiConstructor registers c for every tag starting with prefix.
func (p *Parser) AddMultiConstructor(prefix string, c Constructor) {
	for i, pc := range p.prefixes {
		if pc.prefix == prefix {
			p.prefixes[i].constructor = c
			return
		}
	}
	p.prefixes = append(p.prefixes, prefixConstructor{prefix: prefix, constructor: c})
	// Longest prefix wins
	sort.SliceStable(p.prefixes, func(i, j int) bool {
		return len(p.prefixes[i].prefix) > len(p.prefixes[j].prefix)
	})
}

// SetUnknown replaces the fallback used for tags no constructor matches.
func (p *Parser) SetUnknown(c Constructor) {
	if c == nil {
		c = UnknownTag
	}
	p.unknown = c
}

// AddRepresenter registers r for values of exactly dataType.
func (p *Parser) AddRepresenter(dataType reflect.Type, r Representer) {
	p.representers[dataType] = r
}

// AddMultiRepresenter registers r for values assignable to dataType.
func (p *Parser) AddMultiRepresenter(dataType reflect.Type, r Representer) {
	for i, tr := range p.multiRepresenters {
		if tr.dataType == dataType {
			p.multiRepresenters[i].representer = r
			return
		}
	}
	p.multiRepresenters = append(p.multiRepresenters, typeRepresenter{dataType: dataType, representer: r})
}

// ResolveName resolves a dotted path to a runtime value through the parser's resolver.
func (p *Parser) ResolveName(path string) (any, error) {
	if p.resolver == nil {
		return nil, fmt.Errorf("no name resolver configured for %q", path)
	}
	return p.resolver.ResolveName(path)
}

// Parse decodes every document of a YAML stream.
func (p *Parser) Parse(data []byte) ([]any, error) {
	p.anchors = make(map[anchorKey]any)
	defer func() { p.anchors = nil }()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var docs []any
	for {
		var doc yaml.Node
		if err := decoder.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, newError(ErrSyntax, err, "failed to parse YAML")
		}
		if len(doc.Content) == 0 {
			continue
		}
		value, err := p.Construct(doc.Content[0])
		if err != nil {
			return nil, err
		}
		docs = append(docs, value)
	}
	return docs, nil
}

// Construct builds the runtime value of node.
func (p *Parser) Construct(node *yaml.Node) (any, error) {
	if node == nil {
		return nil, nil
	}

	if node.Kind == yaml.AliasNode {
		return p.Construct(node.Alias)
	}

	key := anchorKey{node: node, plain: p.plain > 0}
	if node.Anchor != "" && p.anchors != nil {
		if cached, ok := p.anchors[key]; ok {
			return cached, nil
		}
	}

	value, err := p.dispatch(node)
	if err != nil {
		return nil, err
	}

	if node.Anchor != "" && p.anchors != nil {
		p.anchors[key] = value
	}
	return value, nil
}

func (p *Parser) dispatch(node *yaml.Node) (any, error) {
	tag := normalizeTag(node.Tag)
	if tag == "" {
		return p.constructCore(node)
	}

	if !p.safe {
		if c, ok := p.exact[tag]; ok {
			return c(p, "", node)
		}
		for _, pc := range p.prefixes {
			if tag == pc.prefix {
				return pc.constructor(p, "", node)
			}
			if strings.HasPrefix(tag, pc.prefix+":") {
				return pc.constructor(p, tag[len(pc.prefix)+1:], node)
			}
		}
	}

	return p.unknown(p, tag, node)
}

func (p *Parser) constructCore(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		return p.ConstructMapping(node)
	case yaml.SequenceNode:
		return p.ConstructSequence(node)
	case yaml.ScalarNode:
		return p.ConstructScalar(node)
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return p.Construct(node.Content[0])
	default:
		return nil, newError(ErrSyntax, nil, "unexpected node kind %d at line %d", node.Kind, node.Line)
	}
}

// ConstructScalar decodes a scalar node, ignoring any custom tag it carries.
func (p *Parser) ConstructScalar(node *yaml.Node) (any, error) {
	if normalizeTag(node.Tag) != "" {
		untagged := *node
		untagged.Tag = ""
		untagged.Style &^= yaml.TaggedStyle
		node = &untagged
	}
	var value any
	if err := node.Decode(&value); err != nil {
		return nil, newError(ErrSyntax, err, "invalid scalar at line %d", node.Line)
	}
	return value, nil
}

// ConstructSequence builds a []any from a sequence node.
func (p *Parser) ConstructSequence(node *yaml.Node) ([]any, error) {
	out := make([]any, 0, len(node.Content))
	for _, child := range node.Content {
		value, err := p.Construct(child)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// ConstructMapping builds a mapping from a mapping node: a *Tree for
// tag-aware parsers, map[string]any for safe parsers and argument bodies.
// Merge keys (<<) are applied before explicit keys.
func (p *Parser) ConstructMapping(node *yaml.Node) (any, error) {
	acc := &Tree{values: make(map[string]any, len(node.Content)/2)}

	var explicit [][2]*yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if isMergeKey(k) {
			if err := p.applyMerge(acc, v); err != nil {
				return nil, err
			}
			continue
		}
		explicit = append(explicit, [2]*yaml.Node{k, v})
	}

	for _, pair := range explicit {
		key, err := p.constructKey(pair[0])
		if err != nil {
			return nil, err
		}
		value, err := p.Construct(pair[1])
		if err != nil {
			return nil, err
		}
		acc.setRaw(key, value)
	}

	if p.safe || p.plain > 0 {
		out := make(map[string]any, acc.Len())
		for key, value := range acc.All() {
			out[key] = value
		}
		return out, nil
	}

	return acc, nil
}

// ConstructPlain builds node with every mapping as map[string]any.
func (p *Parser) ConstructPlain(node *yaml.Node) (any, error) {
	p.plain++
	defer func() { p.plain-- }()
	return p.Construct(node)
}

func (p *Parser) constructKey(node *yaml.Node) (string, error) {
	if node.Kind == yaml.ScalarNode {
		return node.Value, nil
	}
	key, err := p.Construct(node)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(key), nil
}

// applyMerge copies the keys of a merged mapping (or sequence of mappings,
// earlier entries winning) into acc without overwriting.
func (p *Parser) applyMerge(acc *Tree, node *yaml.Node) error {
	target := node
	if target.Kind == yaml.AliasNode {
		target = target.Alias
	}

	var sources []*yaml.Node
	switch target.Kind {
	case yaml.MappingNode:
		sources = []*yaml.Node{node}
	case yaml.SequenceNode:
		sources = target.Content
	default:
		return newError(ErrSyntax, nil, "merge key at line %d requires a mapping", node.Line)
	}

	for _, source := range sources {
		merged, err := p.Construct(source)
		if err != nil {
			return err
		}
		switch m := merged.(type) {
		case *Tree:
			for key, value := range m.All() {
				if !acc.Has(key) {
					acc.setRaw(key, value)
				}
			}
		case map[string]any:
			for _, key := range sortedKeys(m) {
				if !acc.Has(key) {
					acc.setRaw(key, m[key])
				}
			}
		default:
			return newError(ErrSyntax, nil, "merge key at line %d requires a mapping", node.Line)
		}
	}
	return nil
}

// Represent converts value into a node using the installed representers.
func (p *Parser) Represent(value any) (*yaml.Node, error) {
	if value == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}

	t := reflect.TypeOf(value)
	if r, ok := p.representers[t]; ok {
		return r(p, value)
	}
	for _, tr := range p.multiRepresenters {
		if t.AssignableTo(tr.dataType) {
			return tr.representer(p, value)
		}
	}

	switch v := value.(type) {
	case *Tree:
		return RepresentTree(p, v)
	case map[string]any:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, key := range sortedKeys(v) {
			child, err := p.Represent(v[key])
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		}
		return node, nil
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, elem := range v {
			child, err := p.Represent(elem)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	}

	node := &yaml.Node{}
	if err := node.Encode(value); err != nil {
		return nil, fmt.Errorf("cannot represent %T: %w", value, err)
	}
	return node, nil
}

// UnknownTag is the fallback constructor for tags without a handler. It
// renders the tag as an inert string. A tag-aware parser rejects envelopes
// whose family or payload is empty, such as "!!name:".
func UnknownTag(p *Parser, tag string, node *yaml.Node) (any, error) {
	if !p.safe && isMalformedEnvelope(tag) {
		return nil, newError(ErrMalformedTag, nil, "malformed tag %q at line %d", node.Tag, node.Line)
	}
	rendered := inertTag(node.Tag)
	if node.Kind == yaml.ScalarNode && node.Value != "" {
		rendered += " " + node.Value
	}
	return rendered, nil
}

// normalizeTag strips the tag handle. Core YAML tags normalize to "".
func normalizeTag(tag string) string {
	switch {
	case strings.HasPrefix(tag, longTagPrefix):
		tag = tag[len(longTagPrefix):]
	case strings.HasPrefix(tag, "!!"):
		tag = tag[2:]
	case strings.HasPrefix(tag, "!"):
		tag = tag[1:]
	}
	if coreTags[tag] {
		return ""
	}
	return tag
}

// inertTag renders a tag in its short handle form.
func inertTag(tag string) string {
	if strings.HasPrefix(tag, longTagPrefix) {
		return "!!" + tag[len(longTagPrefix):]
	}
	return tag
}

func isMalformedEnvelope(tag string) bool {
	idx := strings.Index(tag, ":")
	if idx < 0 {
		return false
	}
	return idx == 0 || strings.HasSuffix(tag, ":")
}

func isMergeKey(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Value == "<<" && (node.Tag == "!!merge" || node.Tag == "")
}
