package downloader

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"imgload/pkg/common"
	"imgload/pkg/metastore"
)

// Mutable
type inFlight struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// InFlight is the set of URLs currently being transferred. Share one
// instance between all deduplicating downloaders of a loader.
type InFlight = *inFlight

func NewInFlight() InFlight {
	return &inFlight{urls: make(map[string]struct{})}
}

// TryAcquire claims url. It returns false if the url is already claimed.
func (f *inFlight) TryAcquire(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.urls[url]; ok {
		return false
	}
	f.urls[url] = struct{}{}
	return true
}

func (f *inFlight) Release(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.urls, url)
}

func (f *inFlight) contains(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.urls[url]
	return ok
}

func (f *inFlight) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

type dedupDownloader struct {
	Downloader
	set InFlight
}

// Dedup wraps d so that at most one Fetch per URL runs at a time across every
// downloader sharing set. A colliding Fetch returns (false, nil) at once.
func Dedup(set InFlight, d Downloader) Downloader {
	return &dedupDownloader{Downloader: d, set: set}
}

func (d *dedupDownloader) Fetch(ctx context.Context) (bool, error) {
	uri := d.URL()
	if !d.set.TryAcquire(uri) {
		slog.Debug("Transfer already in flight", "url", uri)
		return false, nil
	}
	defer d.set.Release(uri)
	return d.Downloader.Fetch(ctx)
}

type restartDownloader struct {
	Downloader
	metas metastore.Store
	dest  string
}

// RestartOnMismatch wraps d so that a transfer failing with
// common.ErrIntegrityMismatch also drops its partial file and Meta. The next
// attempt then starts from byte zero.
func RestartOnMismatch(d Downloader, metas metastore.Store, dest string) Downloader {
	return &restartDownloader{Downloader: d, metas: metas, dest: dest}
}

func (d *restartDownloader) Fetch(ctx context.Context) (bool, error) {
	ok, err := d.Downloader.Fetch(ctx)
	if err != nil && errors.Is(err, common.ErrIntegrityMismatch) {
		slog.Warn("Discarding stale partial download", "url", d.URL(), "error", err)
		if rerr := os.Remove(TempPath(d.dest)); rerr != nil && !os.IsNotExist(rerr) {
			slog.Warn("Removing partial download failed", "path", TempPath(d.dest), "error", rerr)
		}
		if d.metas != nil {
			d.metas.Remove(d.URL())
		}
	}
	return ok, err
}
