// FILE: lixenwraith/confgraph/expression.go
package confgraph

import (
	"strings"
	"sync"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// TagExpr is the expression tag.
const TagExpr = "expr"

// Expression is an expr-lang expression evaluated on every read against the
// plain values of the tree that holds it. Deferred siblings are not visible.
// Unless the tree defines it, the variable now holds the evaluation time.
type Expression struct {
	Source string

	once    sync.Once
	program *exprvm.Program
	err     error
}

// NewExpression compiles source and returns the expression.
func NewExpression(source string) (*Expression, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, newError(ErrMalformedTag, nil, "expression must not be empty")
	}
	e := &Expression{Source: source}
	if _, err := e.compile(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Expression) compile() (*exprvm.Program, error) {
	e.once.Do(func() {
		program, err := exprlang.Compile(e.Source,
			exprlang.Env(map[string]any{}),
			exprlang.AllowUndefinedVariables(),
		)
		if err != nil {
			e.err = newError(ErrExpression, err, "invalid expression %q", e.Source)
			return
		}
		e.program = program
	})
	return e.program, e.err
}

// Resolve evaluates the expression with scope's values as variables.
func (e *Expression) Resolve(scope *Tree) (any, error) {
	program, err := e.compile()
	if err != nil {
		return nil, err
	}

	env := scope.staticMap()
	if _, ok := env["now"]; !ok {
		env["now"] = time.Now()
	}

	result, err := exprlang.Run(program, env)
	if err != nil {
		return nil, newError(ErrExpression, err, "failed to evaluate %q", e.Source)
	}
	return result, nil
}

func (e *Expression) String() string {
	return "!!" + TagExpr + " " + e.Source
}

// ConstructExpression is the constructor of the expr tag.
func ConstructExpression(p *Parser, _ string, node *yaml.Node) (any, error) {
	if node.Kind != yaml.ScalarNode {
		return nil, newError(ErrMalformedTag, nil, "expression at line %d must be a scalar", node.Line)
	}
	return NewExpression(node.Value)
}
