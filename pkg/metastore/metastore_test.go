package metastore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompatible(t *testing.T) {
	lm := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Meta
		want bool
	}{
		{"same etag", Meta{ETag: `"v1"`, ContentLength: -1}, Meta{ETag: `"v1"`, ContentLength: -1}, true},
		{"different etag, no fallback", Meta{ETag: `"v1"`, ContentLength: -1}, Meta{ETag: `"v2"`, ContentLength: -1}, false},
		{"lastmod and length", Meta{LastModified: lm, ContentLength: 10}, Meta{LastModified: lm, ContentLength: 10}, true},
		{"lastmod differs", Meta{LastModified: lm, ContentLength: 10}, Meta{LastModified: lm.Add(time.Second), ContentLength: 10}, false},
		{"length differs", Meta{LastModified: lm, ContentLength: 10}, Meta{LastModified: lm, ContentLength: 11}, false},
		{"length unknown", Meta{LastModified: lm, ContentLength: -1}, Meta{LastModified: lm, ContentLength: -1}, false},
		{"nothing known", Meta{ContentLength: -1}, Meta{ContentLength: -1}, false},
		{"etag only on one side falls back", Meta{ETag: `"v1"`, LastModified: lm, ContentLength: 5}, Meta{LastModified: lm, ContentLength: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compatible(tt.b))
		})
	}
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	file := filepath.Join(t.TempDir(), "raw", "meta.json")
	lm := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	s := Open(file)
	s.Put("http://x/a", Meta{ETag: `"a"`, LastModified: lm, ContentLength: 42})
	s.Put("http://x/b", Meta{ContentLength: -1})
	s.Remove("http://x/b")

	reopened := Open(file)
	m, ok := reopened.Get("http://x/a")
	require.True(t, ok)
	assert.Equal(t, `"a"`, m.ETag)
	assert.True(t, lm.Equal(m.LastModified))
	assert.Equal(t, int64(42), m.ContentLength)

	_, ok = reopened.Get("http://x/b")
	assert.False(t, ok)
	assert.Equal(t, 1, reopened.Len())

	reopened.Clear()
	assert.Equal(t, 0, Open(file).Len())
}

func TestStoreCorruptFileIsEmpty(t *testing.T) {
	file := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(file, []byte("not json at all"), 0644))

	s := Open(file)
	assert.Equal(t, 0, s.Len())
	assert.Error(t, s.Recovered())
	assert.True(t, s.Persistent())

	s.Put("k", Meta{ETag: "e", ContentLength: 1})
	m, ok := Open(file).Get("k")
	require.True(t, ok)
	assert.Equal(t, "e", m.ETag)
}

func TestStoreDegradesToMemory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "raw")
	file := filepath.Join(dir, "meta.json")
	s := Open(file)
	assert.Equal(t, 0, s.Len())

	require.NoError(t, os.WriteFile(dir, []byte("file in the way"), 0644))

	s.Put("k", Meta{ETag: "e", ContentLength: -1})
	assert.False(t, s.Persistent())

	m, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "e", m.ETag)
}

func TestStoreUnreadableFileIsEmpty(t *testing.T) {
	file := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.Mkdir(file, 0755))

	s := Open(file)
	assert.Equal(t, 0, s.Len())
	assert.Error(t, s.Recovered())
	assert.False(t, s.Persistent())

	s.Put("k", Meta{ETag: "e", ContentLength: 7})
	m, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "e", m.ETag)
	assert.Equal(t, int64(7), m.ContentLength)

	s.Remove("k")
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestStoreConcurrentMutations(t *testing.T) {
	file := filepath.Join(t.TempDir(), "meta.json")
	s := Open(file)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			s.Put(key, Meta{ContentLength: int64(i)})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, Open(file).Len())
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	s.Put("k", Meta{ETag: "x", ContentLength: -1})
	_, ok := s.Get("k")
	assert.True(t, ok)
	assert.False(t, s.Persistent())
}
