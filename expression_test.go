// FILE: lixenwraith/confgraph/expression_test.go
package confgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExpression tests evaluation against the holding tree
func TestExpression(t *testing.T) {
	cfg := loadYAML(t, nil, `
retries: 2
name: api
items: [1]
timeout: !!expr "retries * 15"
label: !!expr "name + '-' + string(retries)"
enabled: !!expr "retries > 1 && name == 'api'"
clock: !!expr "now != nil"
server:
  port: 8080
  public: !!expr "port + 1"
broken: !!expr "items[5]"
`)

	get := func(path string) any {
		t.Helper()
		v, err := cfg.Get(path)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, 30, get("timeout"))
	assert.Equal(t, "api-2", get("label"))
	assert.Equal(t, true, get("enabled"))
	assert.Equal(t, true, get("clock"))
	assert.Equal(t, 8081, get("server.public"))

	t.Run("EvaluatedOnEveryRead", func(t *testing.T) {
		require.NoError(t, cfg.Set("retries", 3))
		assert.Equal(t, 45, get("timeout"))
	})

	t.Run("RuntimeError", func(t *testing.T) {
		_, err := cfg.Get("broken")
		assert.ErrorIs(t, err, ErrExpression)
		assert.Contains(t, err.Error(), "items[5]")
	})
}

// TestNewExpression tests compilation
func TestNewExpression(t *testing.T) {
	e, err := NewExpression("  1 + 2  ")
	require.NoError(t, err)
	assert.Equal(t, "1 + 2", e.Source)
	assert.Equal(t, "!!expr 1 + 2", e.String())

	v, err := e.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = NewExpression("   ")
	assert.ErrorIs(t, err, ErrMalformedTag)

	_, err = NewExpression("1 +")
	assert.ErrorIs(t, err, ErrExpression)

	cfg := New()
	err = cfg.LoadBytes([]byte("x: !!expr [1, 2]\n"), "yaml")
	assert.ErrorIs(t, err, ErrMalformedTag)
}
