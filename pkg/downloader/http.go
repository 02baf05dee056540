package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"imgload/pkg/common"
	"imgload/pkg/metastore"

	"github.com/dustin/go-humanize"
)

const bufferSize = 1 << 20

// Immutable
type httpHandler struct {
	client *http.Client
	metas  metastore.Store
}

// NewHTTPHandler builds resumable http(s) downloaders. A nil client uses a
// client without timeout; deadlines come from the Fetch context.
func NewHTTPHandler(client *http.Client, metas metastore.Store) SchemeHandler {
	if client == nil {
		client = &http.Client{}
	}
	if metas == nil {
		metas = metastore.NewMemory()
	}
	return &httpHandler{client: client, metas: metas}
}

func (h *httpHandler) Schemes() []string {
	return []string{"http", "https"}
}

func (h *httpHandler) New(req Request) Downloader {
	return &httpDownloader{
		client:   h.client,
		metas:    h.metas,
		uri:      req.URL,
		dest:     req.Dest,
		header:   req.Header,
		listener: req.Listener,
	}
}

// Mutable
type httpDownloader struct {
	client   *http.Client
	metas    metastore.Store
	uri      string
	dest     string
	header   http.Header
	listener Listener

	cancelled atomic.Bool
	notified  sync.Once

	mu    sync.Mutex
	abort context.CancelFunc
	done  bool
}

func (d *httpDownloader) URL() string { return d.uri }

func (d *httpDownloader) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	d.cancelled.Store(true)
	if d.abort != nil {
		d.abort()
	}
}

func (d *httpDownloader) Fetch(ctx context.Context) (bool, error) {
	if _, err := os.Stat(d.dest); err == nil {
		return true, nil
	}
	if d.cancelled.Load() {
		return false, d.cancelledErr()
	}

	if err := os.MkdirAll(filepath.Dir(d.dest), 0755); err != nil {
		return false, fmt.Errorf("%w: creating download dir: %v", common.ErrPersistence, err)
	}
	temp := TempPath(d.dest)
	offset, prior, hasPrior := d.resumePoint(temp)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !d.attach(cancel) {
		return false, d.cancelledErr()
	}
	defer d.detach()

	d.listener.Started(d.uri, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.uri, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	for k, v := range d.header {
		req.Header[k] = v
	}
	req.Header.Set("Range", RangeHeader(offset))

	slog.Debug("Fetching", "url", d.uri, "offset", offset)
	resp, err := d.client.Do(req)
	if err != nil {
		if d.cancelled.Load() {
			return false, d.cancelledErr()
		}
		return false, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	meta := metaFromResponse(resp)
	appending := false
	switch resp.StatusCode {
	case http.StatusOK:
		offset = 0
	case http.StatusPartialContent:
		start, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return false, fmt.Errorf("%w: %v", common.ErrIntegrityMismatch, err)
		}
		if start != offset {
			return false, fmt.Errorf("%w: range starts at %d, expected %d", common.ErrIntegrityMismatch, start, offset)
		}
		meta.ContentLength = total
		if hasPrior && !prior.Compatible(meta) {
			return false, fmt.Errorf("%w: %s changed since the partial download", common.ErrIntegrityMismatch, d.uri)
		}
		appending = true
	case http.StatusRequestedRangeNotSatisfiable:
		return false, fmt.Errorf("%w: range %s not satisfiable", common.ErrIntegrityMismatch, RangeHeader(offset))
	default:
		return false, fmt.Errorf("%w: bad status: %s", common.ErrNetwork, resp.Status)
	}

	d.metas.Put(d.uri, meta)

	flags := os.O_WRONLY | os.O_CREATE
	if appending {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(temp, flags, 0644)
	if err != nil {
		return false, fmt.Errorf("%w: opening %s: %v", common.ErrPersistence, temp, err)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = resp.ContentLength + offset
	}
	pw := &progressWriter{
		uri:      d.uri,
		listener: d.listener,
		written:  offset,
		total:    total,
	}
	start := time.Now()
	n, err := io.CopyBuffer(io.MultiWriter(f, pw), &abortReader{r: resp.Body, cancelled: &d.cancelled}, make([]byte, bufferSize))
	closeErr := f.Close()
	if err != nil {
		if d.cancelled.Load() {
			return false, d.cancelledErr()
		}
		return false, fmt.Errorf("%w: reading body: %v", common.ErrNetwork, err)
	}
	if closeErr != nil {
		return false, fmt.Errorf("%w: writing %s: %v", common.ErrPersistence, temp, closeErr)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return false, fmt.Errorf("%w: short body, got %d of %d bytes", common.ErrNetwork, n, resp.ContentLength)
	}

	if err := os.Rename(temp, d.dest); err != nil {
		return false, fmt.Errorf("%w: promoting %s: %v", common.ErrPersistence, temp, err)
	}
	d.metas.Remove(d.uri)
	d.finish()

	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	slog.Debug("Downloaded", "url", d.uri, "path", d.dest,
		"size", humanize.Bytes(uint64(pw.written)),
		"rate", humanize.Bytes(uint64(float64(n)/elapsed))+"/s")
	d.listener.Finished(d.uri)
	return true, nil
}

// resumePoint returns the offset to resume from and the Meta recorded for it.
func (d *httpDownloader) resumePoint(temp string) (int64, metastore.Meta, bool) {
	info, err := os.Stat(temp)
	if err != nil || info.Size() == 0 {
		return 0, metastore.Meta{}, false
	}
	prior, ok := d.metas.Get(d.uri)
	return info.Size(), prior, ok
}

func (d *httpDownloader) attach(cancel context.CancelFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelled.Load() {
		return false
	}
	d.abort = cancel
	return true
}

func (d *httpDownloader) detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.abort = nil
}

func (d *httpDownloader) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = true
}

func (d *httpDownloader) cancelledErr() error {
	d.notified.Do(func() {
		slog.Debug("Transfer cancelled", "url", d.uri)
		d.listener.Cancelled(d.uri)
	})
	return fmt.Errorf("%s: %w", d.uri, common.ErrCancelled)
}

func metaFromResponse(resp *http.Response) metastore.Meta {
	m := metastore.Meta{
		ETag:          resp.Header.Get("ETag"),
		ContentLength: resp.ContentLength,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			m.LastModified = t
		}
	}
	return m
}

type abortReader struct {
	r         io.Reader
	cancelled *atomic.Bool
}

func (a *abortReader) Read(p []byte) (int, error) {
	if a.cancelled.Load() {
		return 0, common.ErrCancelled
	}
	return a.r.Read(p)
}

// Mutable
type progressWriter struct {
	uri      string
	listener Listener
	total    int64
	written  int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.written += int64(n)
	pw.listener.Transferred(pw.uri, pw.written, pw.total)
	return n, nil
}
