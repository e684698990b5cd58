// FILE: lixenwraith/confgraph/io.go
package confgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// RenderOptions controls text rendering of the parsed tree.
type RenderOptions struct {
	// EscapeNonASCII writes non-ASCII characters as \u escapes inside
	// double-quoted scalars so the output is plain ASCII.
	EscapeNonASCII bool
}

// Render serializes the parsed tree. Deferred values render as their tags,
// not as their resolved values.
func (c *Config) Render(opts RenderOptions) (string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	data, err := renderValue(newRenderParser(c.registry), c.parsed, opts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// String renders the parsed tree as YAML.
func (c *Config) String() string {
	out, err := c.Render(RenderOptions{})
	if err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return out
}

// Encode writes the rendered parsed tree to w.
func (c *Config) Encode(w io.Writer) error {
	out, err := c.Render(RenderOptions{})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// Save writes the rendered parsed tree to path atomically.
func (c *Config) Save(path string) error {
	out, err := c.Render(RenderOptions{})
	if err != nil {
		return err
	}
	return atomicWriteFile(path, []byte(out))
}

// SaveRaw writes the raw snapshot to path atomically, as TOML, JSON or YAML
// depending on the extension.
func (c *Config) SaveRaw(path string) error {
	raw := c.Raw()

	var buf bytes.Buffer
	switch detectFileFormat(path) {
	case "toml":
		if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
			return fmt.Errorf("failed to marshal config data to TOML: %w", err)
		}
	case "json":
		data, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config data to JSON: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	default:
		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(raw); err != nil {
			return fmt.Errorf("failed to marshal config data to YAML: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return fmt.Errorf("failed to marshal config data to YAML: %w", err)
		}
	}

	return atomicWriteFile(path, buf.Bytes())
}

func newRenderParser(r *Registry) *Parser {
	p := NewParser(nil)
	r.Install(p)
	return p
}

func renderValue(p *Parser, value any, opts RenderOptions) ([]byte, error) {
	node, err := p.Represent(value)
	if err != nil {
		return nil, err
	}
	if opts.EscapeNonASCII {
		quoteNonASCII(node)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(node); err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}

	out := buf.Bytes()
	if opts.EscapeNonASCII {
		out = escapeNonASCII(out)
	}
	return out, nil
}

// quoteNonASCII forces double quotes on every scalar holding non-ASCII text,
// the only style in which escapes are valid.
func quoteNonASCII(node *yaml.Node) {
	if node.Kind == yaml.ScalarNode && !isASCII(node.Value) {
		node.Style = node.Style&yaml.TaggedStyle | yaml.DoubleQuotedStyle
	}
	for _, child := range node.Content {
		quoteNonASCII(child)
	}
}

func escapeNonASCII(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		switch {
		case r < utf8.RuneSelf:
			buf.WriteByte(data[0])
		case r <= 0xFFFF:
			fmt.Fprintf(&buf, "\\u%04X", r)
		default:
			fmt.Fprintf(&buf, "\\U%08X", r)
		}
		data = data[size:]
	}
	return buf.Bytes()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// RepresentTree renders a tree as a mapping in insertion order.
func RepresentTree(p *Parser, value any) (*yaml.Node, error) {
	tree, ok := value.(*Tree)
	if !ok {
		return nil, fmt.Errorf("RepresentTree: unexpected %T", value)
	}

	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for key, raw := range tree.All() {
		child, err := p.Represent(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
	}
	return node, nil
}

// RepresentObject renders an object as its tag with the arguments as body:
// an empty mapping without arguments, a sequence for positional arguments
// only, a mapping for named arguments only and args/kwargs otherwise.
func RepresentObject(p *Parser, value any) (*yaml.Node, error) {
	obj, ok := value.(*Object)
	if !ok {
		return nil, fmt.Errorf("RepresentObject: unexpected %T", value)
	}
	tag := "!!" + obj.Mode.tag() + ":" + obj.Path

	switch {
	case len(obj.Args) > 0 && len(obj.Kwargs) > 0:
		args, err := p.Represent(obj.Args)
		if err != nil {
			return nil, err
		}
		kwargs, err := p.Represent(obj.Kwargs)
		if err != nil {
			return nil, err
		}
		return &yaml.Node{Kind: yaml.MappingNode, Tag: tag, Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "args"}, args,
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "kwargs"}, kwargs,
		}}, nil
	case len(obj.Args) > 0:
		node, err := p.Represent(obj.Args)
		if err != nil {
			return nil, err
		}
		node.Tag = tag
		return node, nil
	case len(obj.Kwargs) > 0:
		node, err := p.Represent(obj.Kwargs)
		if err != nil {
			return nil, err
		}
		node.Tag = tag
		return node, nil
	default:
		return &yaml.Node{Kind: yaml.MappingNode, Tag: tag}, nil
	}
}

// RepresentReference renders a reference as an empty scalar carrying the tag.
func RepresentReference(_ *Parser, value any) (*yaml.Node, error) {
	ref, ok := value.(*Reference)
	if !ok {
		return nil, fmt.Errorf("RepresentReference: unexpected %T", value)
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!" + TagRef + ":" + ref.Payload()}, nil
}

// RepresentExpression renders an expression as a tagged scalar.
func RepresentExpression(_ *Parser, value any) (*yaml.Node, error) {
	e, ok := value.(*Expression)
	if !ok {
		return nil, fmt.Errorf("RepresentExpression: unexpected %T", value)
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!" + TagExpr, Value: e.Source}, nil
}
