// Package cache holds decoded images in two tiers: a byte-budgeted LRU in
// memory and content-addressed files on disk.
package cache

import (
	"context"
	"os"
)

// Ensure runs fn to create target unless target already exists. Concurrent
// callers, in this process or another, are serialised by a lock file so fn
// runs at most once and the first writer wins.
func Ensure(ctx context.Context, target string, fn func() error) error {
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	unlock, err := Lock(ctx, target)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := os.Stat(target); err == nil {
		return nil
	}
	return fn()
}
