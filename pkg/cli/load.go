package cli

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"imgload/pkg/cache"
	"imgload/pkg/common"
	"imgload/pkg/decode"
	"imgload/pkg/display"
	"imgload/pkg/loader"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// outcome is what happened to one requested source.
type outcome struct {
	src       common.Source
	res       loader.Result
	file      string
	err       error
	cancelled bool
}

// Mutable
type outcomes struct {
	mu   sync.Mutex
	list []outcome
	wg   sync.WaitGroup
}

func (o *outcomes) set(i int, fn func(*outcome)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.list[i])
}

// runLoads loads every source through a fresh loader sharing m's caches and
// waits until each one has ended, failed or been cancelled.
func runLoads(ctx context.Context, m *Managers, sources []common.Source, flags loadFlags) (*ExecutionResult, error) {
	settings := m.Cfg.GetSettings()

	var export *exporter
	if flags.Out != "" {
		format, err := cache.ParseFormat(settings.Format)
		if err != nil {
			return nil, err
		}
		if format == cache.FormatZstd {
			format = cache.FormatPNG
		}
		codec, err := cache.NewCodec(format, settings.Quality)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(flags.Out, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", flags.Out, err)
		}
		export = &exporter{dir: flags.Out, codec: codec}
	}

	if flags.MetricsAddr != "" && m.Registry != nil {
		stop, err := serveMetrics(m, flags.MetricsAddr)
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	results := &outcomes{list: make([]outcome, len(sources))}
	for i, src := range sources {
		results.list[i].src = src
	}

	ld, err := loader.New(loader.Config[int]{
		Workers:        flags.Workers,
		DefaultSize:    flags.Size,
		RawDir:         m.Cfg.GetRawDir(),
		BusyRetryDelay: time.Duration(settings.BusyRetryDelay),
		BusyRetries:    settings.BusyRetries,
		Cache:          m.Cache,
		Metas:          m.Metas,
		Decoder:        decode.New(),
		Metrics:        m.Metrics,
		Sink: loader.SinkFunc[int](func(h int, res loader.Result) {
			file := ""
			if export != nil {
				var err error
				if file, err = export.write(h, res); err != nil {
					slog.Warn("Export failed", "source", res.Source, "error", err)
				}
			}
			results.set(h, func(o *outcome) {
				o.res = res
				o.file = file
			})
		}),
	})
	if err != nil {
		return nil, err
	}
	defer ld.Shutdown()
	if settings.Paused {
		slog.Warn("Loading is paused by configuration; interrupt to cancel")
		ld.SetPaused(true)
	}

	for i, src := range sources {
		results.wg.Add(1)
		ld.Load(i, src, common.Size{}, &taskListener{
			disp:    m.Disp,
			name:    displayName(src),
			index:   i,
			results: results,
		})
	}

	done := make(chan struct{})
	go func() {
		results.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Info("Interrupted, cancelling loads")
		ld.Shutdown()
		<-done
	}

	return summarize(results.list), nil
}

func summarize(list []outcome) *ExecutionResult {
	table := &common.Table{Header: []string{"Source", "From", "Size", "Result"}}
	failed, cancelled := 0, 0
	for _, o := range list {
		row := []string{o.src.String(), "", "", ""}
		switch {
		case o.cancelled:
			cancelled++
			row[3] = "cancelled"
		case o.err != nil:
			failed++
			row[3] = o.err.Error()
		default:
			row[1] = o.res.Tier
			if o.res.Image != nil {
				b := o.res.Image.Bounds()
				row[2] = fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
			}
			row[3] = "ok"
			if o.file != "" {
				row[3] = o.file
			}
		}
		table.Rows = append(table.Rows, row)
	}

	res := &ExecutionResult{Output: &common.Output{
		Table:   table,
		Message: fmt.Sprintf("Loaded %d of %d", len(list)-failed-cancelled, len(list)),
	}}
	if failed > 0 || cancelled > 0 {
		res.ExitCode = 1
	}
	return res
}

// taskListener mirrors one load onto a display task.
// Mutable
type taskListener struct {
	disp    display.Display
	name    string
	index   int
	results *outcomes

	mu       sync.Mutex
	task     display.Task
	fetching bool
	finished bool
}

func (l *taskListener) Start(src common.Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task == nil && !l.finished {
		l.task = l.disp.StartTask(l.name)
		l.task.SetStage("Load", src.String())
	}
}

func (l *taskListener) Progress(src common.Source, loaded, total int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task == nil || l.finished {
		return
	}
	if !l.fetching {
		l.fetching = true
		l.task.SetStage("Fetch", src.URL())
	}
	pct := 0
	msg := humanize.Bytes(uint64(loaded))
	if total > 0 {
		pct = int(loaded * 100 / total)
		msg += " / " + humanize.Bytes(uint64(total))
	}
	l.task.Progress(pct, msg)
}

func (l *taskListener) End(src common.Source, res loader.Result) {
	l.finish(func(t display.Task) {
		t.Progress(100, "from "+res.Tier)
	}, nil)
}

func (l *taskListener) Cancel(src common.Source) {
	l.finish(func(t display.Task) {
		t.Log(fmt.Sprintf("%s: cancelled", src))
	}, func(o *outcome) {
		o.cancelled = true
	})
}

func (l *taskListener) Fail(src common.Source, err error) {
	l.finish(func(t display.Task) {
		t.Log(fmt.Sprintf("%s: %v", src, err))
	}, func(o *outcome) {
		o.err = err
	})
}

func (l *taskListener) finish(show func(display.Task), record func(*outcome)) {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}
	l.finished = true
	if l.task != nil {
		show(l.task)
		l.task.Done()
	}
	l.mu.Unlock()

	if record != nil {
		l.results.set(l.index, record)
	}
	l.results.wg.Done()
}

func displayName(src common.Source) string {
	var name string
	if src.IsRemote() {
		name = path.Base(strings.SplitN(src.URL(), "?", 2)[0])
	} else {
		name = filepath.Base(src.Path())
	}
	if name == "" || name == "." || name == "/" {
		return src.String()
	}
	return name
}

// exporter writes delivered images into a directory.
type exporter struct {
	dir   string
	codec cache.Codec
}

func (e *exporter) write(index int, res loader.Result) (string, error) {
	base := strings.TrimSuffix(displayName(res.Source), filepath.Ext(displayName(res.Source)))
	name := fmt.Sprintf("%03d-%s.%s", index, sanitize(base), e.codec.Ext())
	target := filepath.Join(e.dir, name)
	if err := writeImage(target, e.codec, res.Image); err != nil {
		return "", err
	}
	return target, nil
}

func writeImage(target string, codec cache.Codec, img image.Image) error {
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if err := codec.Encode(f, img); err != nil {
		f.Close()
		os.Remove(target)
		return err
	}
	return f.Close()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func serveMetrics(m *Managers, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("Metrics server stopped", "error", err)
		}
	}()
	slog.Info("Serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
