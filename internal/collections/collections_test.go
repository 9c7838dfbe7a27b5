package collections

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredMap_GetOrFail(t *testing.T) {
	m := NewRequiredMap[string, int]()
	m.Set("a", 1)

	v, err := m.GetOrFail("a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = m.GetOrFail("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Contains(t, err.Error(), "missing")

	m.Delete("a")
	assert.False(t, m.Has("a"))
	assert.Equal(t, 0, m.Len())
}

func TestDefaultMap_GetOrInsert(t *testing.T) {
	calls := 0
	m := NewDefaultMap(func(k string) []string {
		calls++
		return []string{strings.ToUpper(k)}
	})

	assert.Equal(t, []string{"X"}, m.GetOrInsert("x"))
	assert.Equal(t, []string{"X"}, m.GetOrInsert("x"))
	assert.Equal(t, 1, calls)

	_, ok := m.Get("y")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestDefaultMap_RangeAfterDelete(t *testing.T) {
	m := NewDefaultMap(func(k string) int { return len(k) })
	m.GetOrInsert("a")
	m.GetOrInsert("bbb")
	m.Set("cc", 7)
	m.Delete("a")

	seen := map[string]int{}
	m.Range(func(k string, v int) { seen[k] = v })
	assert.Equal(t, map[string]int{"bbb": 3, "cc": 7}, seen)
}

func TestInjectSeparators(t *testing.T) {
	assert.Equal(t, []string{}, InjectSeparators([]string{}, "|"))
	assert.Equal(t, []string{"a"}, InjectSeparators([]string{"a"}, "|"))
	assert.Equal(t, []string{"a", "|", "b", "|", "c"}, InjectSeparators([]string{"a", "b", "c"}, "|"))

	got := InjectSeparatorsFunc([]int{10, 20, 30}, func(e, i int) int { return -(e + i) })
	assert.Equal(t, []int{10, -10, 20, -21, 30}, got)
}
