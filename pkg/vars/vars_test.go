package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsDeep(t *testing.T) {
	original := Context{
		"apps":  []any{"a", "b"},
		"meta":  map[string]any{"page": 1},
		"count": 3,
	}

	cloned := original.Clone()
	cloned["apps"].([]any)[0] = "changed"
	cloned["meta"].(map[string]any)["page"] = 2
	cloned["count"] = 4

	assert.Equal(t, "a", original["apps"].([]any)[0])
	assert.Equal(t, 1, original["meta"].(map[string]any)["page"])
	assert.Equal(t, 3, original["count"])
}

func TestCloneNil(t *testing.T) {
	var c Context
	cloned := c.Clone()
	require.NotNil(t, cloned)
	assert.Empty(t, cloned)
}

func TestLookup(t *testing.T) {
	c := Context{
		ResponseKey: map[string]any{
			"header": map[string]string{"link": "<next>"},
			"body":   "payload",
		},
		"items":      []any{map[string]any{"id": "x"}},
		"dotted.key": "flat",
	}

	v, ok := c.Lookup("__response__.header.link")
	require.True(t, ok)
	assert.Equal(t, "<next>", v)

	v, ok = c.Lookup("items.0.id")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	v, ok = c.Lookup("dotted.key")
	require.True(t, ok)
	assert.Equal(t, "flat", v)

	_, ok = c.Lookup("items.5.id")
	assert.False(t, ok)

	_, ok = c.Lookup("missing")
	assert.False(t, ok)
}

func TestMerge(t *testing.T) {
	c := Context{"a": 1}
	c.Merge(map[string]any{"a": 2, "b": 3})
	assert.Equal(t, Context{"a": 2, "b": 3}, c)
}
