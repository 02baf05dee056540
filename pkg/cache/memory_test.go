package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewMemory[string](100)
	var evicted []string
	m.OnEvict(func(key string, _ int64) { evicted = append(evicted, key) })

	require.True(t, m.Put("A", "a", 40))
	require.True(t, m.Put("B", "b", 40))
	_, ok := m.Get("A")
	require.True(t, ok)
	require.True(t, m.Put("C", "c", 40))

	_, ok = m.Get("B")
	assert.False(t, ok, "B should have been evicted")
	_, ok = m.Get("A")
	assert.True(t, ok)
	_, ok = m.Get("C")
	assert.True(t, ok)
	assert.Equal(t, []string{"B"}, evicted)
	assert.Equal(t, int64(80), m.Used())
}

func TestMemoryNeverExceedsBudget(t *testing.T) {
	m := NewMemory[int](50)
	for i := 0; i < 100; i++ {
		m.Put(string(rune('a'+i%26))+string(rune('a'+i/26)), i, int64(i%17))
		assert.LessOrEqual(t, m.Used(), int64(50))
	}
}

func TestMemoryOversizedEntryNotStored(t *testing.T) {
	m := NewMemory[string](10)
	m.Put("small", "s", 5)
	assert.False(t, m.Put("huge", "h", 11))
	_, ok := m.Get("huge")
	assert.False(t, ok)
	_, ok = m.Get("small")
	assert.True(t, ok, "oversized put must not evict others")
}

func TestMemoryReplaceAdjustsSize(t *testing.T) {
	m := NewMemory[string](100)
	m.Put("k", "v1", 30)
	m.Put("k", "v2", 50)
	v, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.Equal(t, int64(50), m.Used())
	assert.Equal(t, 1, m.Len())

	m.Remove("k")
	assert.Equal(t, int64(0), m.Used())
	m.Put("a", "x", 1)
	m.Clear()
	assert.Equal(t, 0, m.Len())
}
