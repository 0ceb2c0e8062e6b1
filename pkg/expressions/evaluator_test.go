package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "data.items", Normalize("$.data.items"))
	assert.Equal(t, "data.items", Normalize("data.items"))
	assert.Equal(t, "", Normalize("$"))
	assert.Equal(t, "", Normalize("  "))
}

func TestEvaluator_Evaluate(t *testing.T) {
	e := NewEvaluator(4)
	data := map[string]any{
		"data": map[string]any{
			"items": []any{
				map[string]any{"id": "a"},
				map[string]any{"id": "b"},
			},
		},
	}

	result, err := e.Evaluate("$.data.items", data)
	require.NoError(t, err)
	assert.Len(t, result, 2)

	ids, err := e.Evaluate("data.items[*].id", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, ids)

	root, err := e.Evaluate("$", data)
	require.NoError(t, err)
	assert.Equal(t, data, root)

	missing, err := e.Evaluate("data.nothing", data)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEvaluator_CachesCompiled(t *testing.T) {
	e := NewEvaluator(2)

	_, err := e.Evaluate("a.b", map[string]any{})
	require.NoError(t, err)
	assert.True(t, e.cache.Contains("a.b"))

	_, err = e.Evaluate("c", map[string]any{})
	require.NoError(t, err)
	_, err = e.Evaluate("d", map[string]any{})
	require.NoError(t, err)
	assert.False(t, e.cache.Contains("a.b"), "oldest entry should be evicted")
}

func TestEvaluator_Invalid(t *testing.T) {
	e := NewEvaluator(0)
	_, err := e.Evaluate("data.[", map[string]any{})
	require.Error(t, err)
	require.Error(t, e.Validate("data.["))
	require.NoError(t, e.Validate("$.data"))
}
