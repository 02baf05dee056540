// Package metastore remembers, per URL, the validators of a partially
// downloaded resource so an interrupted transfer can be resumed safely.
package metastore

import (
	"log/slog"
	"time"

	"imgload/pkg/lazyjson"
)

// Meta is what the server said about a resource when its transfer started.
type Meta struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
	// ContentLength is the full entity length, -1 when unknown.
	ContentLength int64 `json:"content_length"`
}

// Compatible reports whether a resumed response describes the same entity as m.
// Either both ETags are present and equal, or both Last-Modified and both
// lengths are present and equal.
func (m Meta) Compatible(o Meta) bool {
	if m.ETag != "" && o.ETag != "" && m.ETag == o.ETag {
		return true
	}
	if m.LastModified.IsZero() || o.LastModified.IsZero() {
		return false
	}
	if m.ContentLength < 0 || o.ContentLength < 0 {
		return false
	}
	return m.LastModified.Equal(o.LastModified) && m.ContentLength == o.ContentLength
}

type entries struct {
	Entries map[string]Meta `json:"entries"`
}

func newEntries() *entries {
	return &entries{Entries: make(map[string]Meta)}
}

// Mutable
type store struct {
	file lazyjson.Store[entries]
}

// Store maps URLs to Meta, rewriting its file on every change.
type Store = *store

// Open returns a store backed by path. A missing, corrupt or unreadable file
// starts empty. A store that cannot read or write its file keeps working in
// memory.
func Open(path string) Store {
	return &store{
		file: lazyjson.New(path,
			lazyjson.WithDefaultValue(newEntries),
			lazyjson.WithRecoverCorrupt[entries](),
			lazyjson.WithDegradeOnError[entries](),
		),
	}
}

// NewMemory returns a store that is never persisted.
func NewMemory() Store {
	return &store{file: lazyjson.NewMemory(lazyjson.WithDefaultValue(newEntries))}
}

func (s *store) Get(key string) (Meta, bool) {
	var m Meta
	var ok bool
	if err := s.file.View(func(e *entries) {
		m, ok = e.Entries[key]
	}); err != nil {
		slog.Warn("Reading transfer metadata failed", "error", err)
		return Meta{}, false
	}
	return m, ok
}

func (s *store) Put(key string, m Meta) {
	s.update(func(e *entries) {
		e.Entries[key] = m
	})
}

func (s *store) Remove(key string) {
	s.update(func(e *entries) {
		delete(e.Entries, key)
	})
}

func (s *store) Clear() {
	s.update(func(e *entries) {
		clear(e.Entries)
	})
}

func (s *store) Len() int {
	n := 0
	_ = s.file.View(func(e *entries) {
		n = len(e.Entries)
	})
	return n
}

// Persistent is false once the store has fallen back to memory.
func (s *store) Persistent() bool {
	return s.file.IsPersistent()
}

// Recovered returns the error that made the store discard its file on load.
func (s *store) Recovered() error {
	if _, err := s.file.Get(); err != nil {
		return err
	}
	return s.file.Recovered()
}

func (s *store) update(fn func(*entries)) {
	err := s.file.Update(func(e *entries) error {
		if e.Entries == nil {
			e.Entries = make(map[string]Meta)
		}
		fn(e)
		return nil
	})
	if err != nil {
		slog.Warn("Persisting transfer metadata failed", "path", s.file.Path(), "error", err)
	}
}
