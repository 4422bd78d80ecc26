package registry

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))

	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Count())
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("x", "first"))
	assert.ErrorContains(t, r.Register("x", "second"), "already registered")
	assert.ErrorContains(t, r.Register("", "anon"), "cannot be empty")
}

func TestNamesAndList(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("b", 2))
	require.NoError(t, r.Register("a", 1))

	names := r.Names()
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.ElementsMatch(t, []int{1, 2}, r.List())
}

func TestRemoveAndClear(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	assert.ErrorContains(t, r.Remove("missing"), "not found")
	require.NoError(t, r.Remove("a"))
	assert.Equal(t, 0, r.Count())

	require.NoError(t, r.Register("a", 1))
	r.Clear()
	assert.Equal(t, 0, r.Count())
}
