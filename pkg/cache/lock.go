package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	lockPoll   = 50 * time.Millisecond
	lockMaxAge = 10 * time.Minute
)

// Lock takes an exclusive cross-process lock on target by creating
// "<target>.lock" holding "<unix-nanos> <pid>". It waits while another live
// process holds it, and breaks locks whose owner is gone or that are older
// than lockMaxAge. The wait ends early when ctx is done.
func Lock(ctx context.Context, target string) (func() error, error) {
	lockFile := target + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent dir for lock: %w", err)
	}

	for {
		f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d %d", time.Now().UnixNano(), os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(lockFile)
				return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			return func() error {
				return os.Remove(lockFile)
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		if isStale(lockFile) {
			os.Remove(lockFile)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", lockFile, ctx.Err())
		case <-time.After(lockPoll):
		}
	}
}

// isStale reports whether the lock at path can be broken. Unreadable or
// malformed content counts as stale only once the file itself is old.
func isStale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	old := time.Since(info.ModTime()) > lockMaxAge

	content, err := os.ReadFile(path)
	if err != nil {
		return old
	}
	fields := strings.Fields(string(content))
	if len(fields) != 2 {
		return old || len(content) > 0
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return true
	}
	if nanos, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
		if time.Since(time.Unix(0, nanos)) > lockMaxAge {
			return true
		}
	}
	return !isPidAlive(pid)
}

func isPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// EPERM: exists, owned by someone else.
	return true
}
