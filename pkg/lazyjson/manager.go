// Package lazyjson keeps a Go value mirrored in a single JSON file.
// The file is read on first use and rewritten whole (temp file plus rename)
// on every update. A store can tolerate a corrupt or unreadable file and can
// fall back to memory-only operation when the file cannot be used.
package lazyjson

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Mutable
type store[T any] struct {
	filepath   string
	data       *T
	loaded     bool
	persistent bool
	recovered  error
	mu         sync.RWMutex
	opts       *options[T]
}

// Store is a JSON-file-backed value safe for concurrent use.
type Store[T any] = *store[T]

type options[T any] struct {
	recoverCorrupt bool
	degradeOnError bool
	defaultValue   func() *T
}

// New creates a store for path. Nothing is read until the first access.
func New[T any](path string, opts ...Option[T]) Store[T] {
	s := &store[T]{
		filepath:   path,
		persistent: true,
		opts:       &options[T]{},
	}
	for _, opt := range opts {
		opt(s.opts)
	}
	return s
}

// NewMemory creates a store that never touches the filesystem.
func NewMemory[T any](opts ...Option[T]) Store[T] {
	s := New("", opts...)
	s.persistent = false
	return s
}

// Get returns the current value, loading it on first use.
// The returned pointer must be treated as read-only; use Update to change it.
func (s *store[T]) Get() (*T, error) {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.data, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	return s.data, nil
}

// View runs fn with the value under the read lock.
func (s *store[T]) View(fn func(*T)) error {
	if _, err := s.Get(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
	return nil
}

// Update changes the value and rewrites the file in the same critical section.
// If the write fails and the store was built WithDegradeOnError, the
// change is kept in memory, the store stops persisting and the write error is
// returned once.
func (s *store[T]) Update(fn func(*T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	if err := fn(s.data); err != nil {
		return err
	}
	if !s.persistent {
		return nil
	}
	if err := s.saveLocked(); err != nil {
		if s.opts.degradeOnError {
			s.degradeLocked(err)
		}
		return err
	}
	return nil
}

// IsPersistent is false for memory stores and for stores that degraded.
func (s *store[T]) IsPersistent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistent
}

// Recovered returns the read or decode error that was swallowed on load, if any.
func (s *store[T]) Recovered() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovered
}

// Path returns the backing file, empty for memory stores.
func (s *store[T]) Path() string {
	return s.filepath
}

func (s *store[T]) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	return s.loadLocked()
}

func (s *store[T]) fresh() *T {
	if s.opts.defaultValue != nil {
		return s.opts.defaultValue()
	}
	var zero T
	return &zero
}

func (s *store[T]) degradeLocked(err error) {
	s.persistent = false
	slog.Warn("Persisting failed, continuing in memory", "path", s.filepath, "error", err)
}

// Must be called with write lock held.
func (s *store[T]) loadLocked() error {
	if !s.persistent && s.filepath == "" {
		s.data = s.fresh()
		s.loaded = true
		return nil
	}

	data, err := os.ReadFile(s.filepath)
	switch {
	case os.IsNotExist(err):
		s.data = s.fresh()
	case err != nil:
		if !s.opts.recoverCorrupt {
			return fmt.Errorf("failed to read file: %w", err)
		}
		slog.Warn("Ignoring unreadable file", "path", s.filepath, "error", err)
		s.recovered = err
		s.data = s.fresh()
		// A file that cannot be read will not take a write either.
		if s.opts.degradeOnError {
			s.degradeLocked(err)
		}
	default:
		result := s.fresh()
		if err := json.Unmarshal(data, result); err != nil {
			if !s.opts.recoverCorrupt {
				return fmt.Errorf("failed to unmarshal JSON: %w", err)
			}
			slog.Warn("Ignoring corrupt file", "path", s.filepath, "error", err)
			s.recovered = err
			result = s.fresh()
		}
		s.data = result
	}
	s.loaded = true
	return nil
}

// Must be called with write lock held.
func (s *store[T]) saveLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filepath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.filepath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.filepath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
