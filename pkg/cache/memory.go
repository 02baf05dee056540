package cache

import (
	"container/list"
	"sync"
)

type memEntry[V any] struct {
	key   string
	value V
	size  int64
}

// Mutable
type memory[V any] struct {
	mu      sync.Mutex
	budget  int64
	used    int64
	ll      *list.List
	items   map[string]*list.Element
	onEvict func(key string, size int64)
}

// Memory is an LRU bounded by the sum of caller-supplied entry sizes.
type Memory[V any] = *memory[V]

// NewMemory returns an empty LRU that holds at most budget bytes.
func NewMemory[V any](budget int64) Memory[V] {
	return &memory[V]{
		budget: budget,
		ll:     list.New(),
		items:  make(map[string]*list.Element),
	}
}

// OnEvict registers fn to run, under the cache lock, for each evicted entry.
func (m *memory[V]) OnEvict(fn func(key string, size int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

// Get returns the entry for key and marks it most recently used.
func (m *memory[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.ll.MoveToFront(el)
		return el.Value.(*memEntry[V]).value, true
	}
	var zero V
	return zero, false
}

// Put stores value under key, evicting least recently used entries until the
// budget holds. An entry larger than the whole budget is not stored.
func (m *memory[V]) Put(key string, value V, size int64) bool {
	if size < 0 {
		size = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if size > m.budget {
		m.removeLocked(key)
		return false
	}
	if el, ok := m.items[key]; ok {
		e := el.Value.(*memEntry[V])
		m.used += size - e.size
		e.value = value
		e.size = size
		m.ll.MoveToFront(el)
	} else {
		m.items[key] = m.ll.PushFront(&memEntry[V]{key: key, value: value, size: size})
		m.used += size
	}
	for m.used > m.budget {
		m.evictOldestLocked()
	}
	return true
}

func (m *memory[V]) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
}

func (m *memory[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ll.Init()
	clear(m.items)
	m.used = 0
}

func (m *memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// Used returns the summed size of the stored entries.
func (m *memory[V]) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *memory[V]) Budget() int64 { return m.budget }

func (m *memory[V]) removeLocked(key string) {
	if el, ok := m.items[key]; ok {
		e := m.ll.Remove(el).(*memEntry[V])
		delete(m.items, key)
		m.used -= e.size
	}
}

func (m *memory[V]) evictOldestLocked() {
	el := m.ll.Back()
	if el == nil {
		return
	}
	e := m.ll.Remove(el).(*memEntry[V])
	delete(m.items, e.key)
	m.used -= e.size
	if m.onEvict != nil {
		m.onEvict(e.key, e.size)
	}
}
