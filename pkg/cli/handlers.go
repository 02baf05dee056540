package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"imgload/pkg/cache"
	"imgload/pkg/common"
	"imgload/pkg/config"
	"imgload/pkg/discover"
	"imgload/pkg/disk"
	"imgload/pkg/display"
	"imgload/pkg/metastore"
	"imgload/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// pageFanOut bounds concurrent page fetches during discovery.
const pageFanOut = 4

// Managers holds the long-lived collaborators commands work with.
type Managers struct {
	Cfg      config.ReadOnly
	Disp     display.Display
	Cache    *cache.TwoTier
	Metas    metastore.Store
	DiskMgr  disk.Manager
	Metrics  metrics.Recorder
	Registry *prometheus.Registry
	Client   *http.Client
}

type DefaultHandlers struct {
	Mgr *Managers
}

// Register binds every command of DefaultDSL to h.
func (h *DefaultHandlers) Register(e *Engine) {
	e.Register("fetch", HandlerFunc(h.Fetch))
	e.Register("page", HandlerFunc(h.Page))
	e.Register("cache/info", HandlerFunc(h.CacheInfo))
	e.Register("cache/clean", HandlerFunc(h.CacheClean))
	e.Register("cache/trim", HandlerFunc(h.CacheTrim))
	e.Register("version", HandlerFunc(h.Version))
}

func (h *DefaultHandlers) Version(ctx context.Context, inv *Invocation) (*ExecutionResult, error) {
	return &ExecutionResult{Output: &common.Output{Message: config.GetBuildInfo()}}, nil
}

func (h *DefaultHandlers) Fetch(ctx context.Context, inv *Invocation) (*ExecutionResult, error) {
	params, err := bindFetch(inv, h.Mgr.Cfg.GetSettings())
	if err != nil {
		return nil, err
	}
	return runLoads(ctx, h.Mgr, params.Sources, params.loadFlags)
}

func (h *DefaultHandlers) Page(ctx context.Context, inv *Invocation) (*ExecutionResult, error) {
	params, err := bindPage(inv, h.Mgr.Cfg.GetSettings())
	if err != nil {
		return nil, err
	}
	sources, err := discoverAll(ctx, h.Mgr, params.URLs, params.JQ)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return &ExecutionResult{Output: &common.Output{Message: "No images found"}}, nil
	}
	h.Mgr.Disp.Log(fmt.Sprintf("Found %d images", len(sources)))
	return runLoads(ctx, h.Mgr, sources, params.loadFlags)
}

func (h *DefaultHandlers) CacheInfo(ctx context.Context, inv *Invocation) (*ExecutionResult, error) {
	return h.Mgr.DiskMgr.Info(ctx)
}

func (h *DefaultHandlers) CacheClean(ctx context.Context, inv *Invocation) (*ExecutionResult, error) {
	if h.Mgr.Cache != nil {
		h.Mgr.Cache.ClearMemory()
	}
	return h.Mgr.DiskMgr.CleanDir(ctx)
}

func (h *DefaultHandlers) CacheTrim(ctx context.Context, inv *Invocation) (*ExecutionResult, error) {
	params, err := bindCacheTrim(inv)
	if err != nil {
		return nil, err
	}
	return h.Mgr.DiskMgr.TrimTo(ctx, params.Budget)
}

// discoverAll collects the images of every page, in page order and without
// duplicates. Pages are fetched concurrently.
func discoverAll(ctx context.Context, m *Managers, urls []string, query string) ([]common.Source, error) {
	fetch := discover.HTTPFetcher(m.Client)
	found := make([][]common.Source, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageFanOut)
	for i, u := range urls {
		g.Go(func() error {
			sources, err := discover.Page(gctx, fetch, u, query)
			if err != nil {
				return err
			}
			slog.Debug("Discovered images", "page", u, "count", len(sources))
			found[i] = sources
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []common.Source
	for _, sources := range found {
		for _, src := range sources {
			if seen[src.Identity()] {
				continue
			}
			seen[src.Identity()] = true
			out = append(out, src)
		}
	}
	return out, nil
}
