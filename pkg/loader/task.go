package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"imgload/pkg/cache"
	"imgload/pkg/common"
	"imgload/pkg/downloader"
	"imgload/pkg/metrics"
	"imgload/pkg/scheduler"

	"github.com/google/uuid"
)

const (
	taskQueued int32 = iota
	taskRunning
	taskDone
	taskFailed
	taskCancelled
)

// Mutable
type task[H comparable] struct {
	id     uuid.UUID
	loader *Loader[H]
	handle H
	src    common.Source
	size   common.Size
	key    common.Key
	lis    Listener

	state    atomic.Int32
	created  time.Time
	started  bool
	attempts int

	mu sync.Mutex
	dl downloader.Downloader
}

func newTask[H comparable](l *Loader[H], h H, src common.Source, size common.Size, key common.Key, lis Listener) *task[H] {
	return &task[H]{
		id:      uuid.New(),
		loader:  l,
		handle:  h,
		src:     src,
		size:    size,
		key:     key,
		lis:     lis,
		created: time.Now(),
	}
}

func (t *task[H]) Handle() H { return t.handle }

func (t *task[H]) cancelled() bool {
	return t.state.Load() == taskCancelled
}

// Cancel is called under the scheduler lock: flag flip and transfer abort only.
func (t *task[H]) Cancel() bool {
	for {
		s := t.state.Load()
		if s != taskQueued && s != taskRunning {
			return false
		}
		if t.state.CompareAndSwap(s, taskCancelled) {
			break
		}
	}
	t.mu.Lock()
	dl := t.dl
	t.mu.Unlock()
	if dl != nil {
		dl.Cancel()
	}
	return true
}

func (t *task[H]) Cancelled() {
	slog.Debug("Load cancelled", "task", t.id, "source", t.src)
	t.loader.rec.TaskFinished(metrics.OutcomeCancelled, time.Since(t.created))
	t.lis.Cancel(t.src)
}

func (t *task[H]) Run(ctx context.Context) error {
	if !t.state.CompareAndSwap(taskQueued, taskRunning) {
		return nil
	}
	if !t.started {
		t.started = true
		t.lis.Start(t.src)
	}

	img, tier, err := t.produce(ctx)
	if t.cancelled() {
		return nil
	}
	if errors.Is(err, common.ErrBusy) && t.attempts < t.loader.cfg.BusyRetries {
		if t.state.CompareAndSwap(taskRunning, taskQueued) {
			t.attempts++
			return scheduler.Retry{After: t.loader.cfg.BusyRetryDelay}
		}
		return nil
	}
	if err != nil {
		t.fail(err)
		return err
	}
	t.deliver(img, tier)
	return nil
}

// produce finds the image on disk or builds it from the source.
func (t *task[H]) produce(ctx context.Context) (image.Image, string, error) {
	l := t.loader
	if t.cancelled() {
		return nil, "", common.ErrCancelled
	}
	if img, ok := l.cfg.Cache.GetDisk(ctx, t.key); ok {
		return img, metrics.TierDisk, nil
	}

	path, err := t.resolve(ctx)
	if err != nil {
		return nil, "", err
	}
	if t.cancelled() {
		return nil, "", common.ErrCancelled
	}

	img, err := l.cfg.Decoder.DecodeFile(ctx, path, t.size)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", common.ErrDecode, t.src, err)
	}
	if img == nil {
		return nil, "", fmt.Errorf("%w: %s: decoder returned nothing", common.ErrDecode, t.src)
	}
	if t.cancelled() {
		return nil, "", common.ErrCancelled
	}

	if err := l.cfg.Cache.Put(ctx, t.key, img, cache.SizeOf(img)); err != nil {
		slog.Warn("Caching decoded image failed", "task", t.id, "source", t.src, "error", err)
	}
	return img, TierSource, nil
}

// resolve returns a local file holding the source bytes.
func (t *task[H]) resolve(ctx context.Context) (string, error) {
	if !t.src.IsRemote() {
		return t.src.Path(), nil
	}

	l := t.loader
	dest := l.rawPath(t.src)
	d, err := l.cfg.Downloads.New(downloader.Request{
		URL:      t.src.URL(),
		Dest:     dest,
		Header:   t.src.Header(),
		Listener: &transferListener[H]{task: t},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	d = downloader.Dedup(l.inflight, downloader.RestartOnMismatch(d, l.cfg.Metas, dest))

	if !t.attach(d) {
		return "", common.ErrCancelled
	}
	defer t.attach(nil)

	ok, err := d.Fetch(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", common.ErrBusy
	}
	return dest, nil
}

// attach publishes the running downloader so Cancel can abort it. It fails
// once the task is cancelled.
func (t *task[H]) attach(d downloader.Downloader) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d != nil && t.cancelled() {
		return false
	}
	t.dl = d
	return true
}

func (t *task[H]) deliver(img image.Image, tier string) {
	if !t.state.CompareAndSwap(taskRunning, taskDone) {
		return
	}
	res := Result{Source: t.src, Key: t.key, Image: img, Tier: tier}
	t.loader.cfg.Sink.Deliver(t.handle, res)
	t.loader.rec.TaskFinished(metrics.OutcomeDelivered, time.Since(t.created))
	slog.Debug("Load delivered", "task", t.id, "source", t.src, "tier", tier)
	t.lis.End(t.src, res)
}

func (t *task[H]) fail(err error) {
	if !t.state.CompareAndSwap(taskRunning, taskFailed) {
		return
	}
	outcome := metrics.OutcomeFailed
	if errors.Is(err, common.ErrBusy) {
		outcome = metrics.OutcomeBusy
	}
	t.loader.rec.TaskFinished(outcome, time.Since(t.created))
	slog.Warn("Load failed", "task", t.id, "source", t.src, "error", err)
	t.lis.Fail(t.src, err)
}

type transferListener[H comparable] struct {
	downloader.NopListener
	task *task[H]
	last int64
}

func (l *transferListener[H]) Started(_ string, offset int64) {
	l.last = offset
}

func (l *transferListener[H]) Transferred(_ string, loaded, total int64) {
	l.task.loader.rec.DownloadBytes(loaded - l.last)
	l.last = loaded
	if l.task.cancelled() {
		return
	}
	l.task.lis.Progress(l.task.src, loaded, total)
}
