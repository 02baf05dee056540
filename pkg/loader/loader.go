package loader

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"imgload/pkg/cache"
	"imgload/pkg/common"
	"imgload/pkg/downloader"
	"imgload/pkg/metastore"
	"imgload/pkg/metrics"
	"imgload/pkg/scheduler"
)

// Config wires a Loader. Cache, Decoder and Sink are required.
type Config[H comparable] struct {
	Workers     int
	DefaultSize common.Size
	// RawDir receives downloaded source files, named by the hash of their URL.
	RawDir string
	// BusyRetryDelay and BusyRetries control how a task waits for a transfer
	// of the same URL owned by another task.
	BusyRetryDelay time.Duration
	BusyRetries    int

	Cache     *cache.TwoTier
	Downloads downloader.Factory
	Metas     metastore.Store
	Decoder   Decoder
	Sink      Sink[H]
	Metrics   metrics.Recorder
}

// Loader is safe for concurrent use.
// Immutable
type Loader[H comparable] struct {
	cfg      Config[H]
	sched    *scheduler.Scheduler[H]
	inflight downloader.InFlight
	rec      metrics.Recorder
}

func New[H comparable](cfg Config[H]) (*Loader[H], error) {
	if cfg.Cache == nil || cfg.Decoder == nil || cfg.Sink == nil {
		return nil, errors.New("loader: cache, decoder and sink are required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 5
	}
	if cfg.BusyRetryDelay <= 0 {
		cfg.BusyRetryDelay = 250 * time.Millisecond
	}
	if cfg.BusyRetries < 0 {
		cfg.BusyRetries = 0
	}
	if cfg.Metas == nil {
		cfg.Metas = metastore.NewMemory()
	}
	if cfg.Downloads == nil {
		cfg.Downloads = downloader.NewDefaultFactory(&http.Client{}, cfg.Metas)
	}
	if cfg.RawDir == "" {
		cfg.RawDir = filepath.Join(cfg.Cache.Disk().Dir(), "http")
	}
	rec := metrics.OrNop(cfg.Metrics)

	l := &Loader[H]{
		cfg:      cfg,
		sched:    scheduler.New[H](cfg.Workers),
		inflight: downloader.NewInFlight(),
		rec:      rec,
	}
	l.sched.OnQueueChange(rec.QueueDepth)
	return l, nil
}

// Load binds src to handle h. A memory hit is delivered before Load returns
// and Load reports true. Otherwise a task is queued, replacing and cancelling
// any earlier task for h. A zero size falls back to the configured default.
func (l *Loader[H]) Load(h H, src common.Source, size common.Size, lis Listener) bool {
	if lis == nil {
		lis = ListenerFuncs{}
	}
	if size.IsZero() {
		size = l.cfg.DefaultSize
	}
	key := common.KeyFor(src, size)

	if img, ok := l.cfg.Cache.GetMemory(key); ok {
		l.sched.CancelForHandle(h)
		res := Result{Source: src, Key: key, Image: img, Tier: metrics.TierMemory}
		lis.Start(src)
		l.cfg.Sink.Deliver(h, res)
		lis.End(src, res)
		l.rec.TaskFinished(metrics.OutcomeDelivered, 0)
		return true
	}

	t := newTask(l, h, src, size, key, lis)
	if err := l.sched.Enqueue(t); err != nil {
		lis.Fail(src, fmt.Errorf("loading %s: %w", src, err))
	}
	return false
}

// Cancel drops the pending or running load of h, if any.
func (l *Loader[H]) Cancel(h H) bool {
	return l.sched.CancelForHandle(h)
}

// SetPaused stops starting new tasks while true. Running tasks finish.
func (l *Loader[H]) SetPaused(paused bool) {
	l.sched.SetPaused(paused)
}

func (l *Loader[H]) Paused() bool {
	return l.sched.Paused()
}

// Pending returns the number of queued tasks.
func (l *Loader[H]) Pending() int {
	return l.sched.Len()
}

// ClearMemory empties the memory tier.
func (l *Loader[H]) ClearMemory() {
	l.cfg.Cache.ClearMemory()
}

func (l *Loader[H]) Cache() *cache.TwoTier {
	return l.cfg.Cache
}

// Shutdown cancels all loads and waits for the workers to stop.
func (l *Loader[H]) Shutdown() {
	l.sched.Shutdown()
}

func (l *Loader[H]) rawPath(src common.Source) string {
	return filepath.Join(l.cfg.RawDir, common.Hash(src.URL()))
}
