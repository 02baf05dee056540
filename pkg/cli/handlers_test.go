package cli

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"imgload/pkg/cache"
	"imgload/pkg/common"
	"imgload/pkg/config"
	"imgload/pkg/disk"
	"imgload/pkg/display"
	"imgload/pkg/metastore"
	"imgload/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for x := 0; x < 8; x++ {
		img.Set(x, 1, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestManagers(t *testing.T) (*Managers, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	cfg := config.New(filepath.Join(root, "cache"), filepath.Join(root, "config"))
	cfg.Checkout().UpdateSettings(func(s *config.Settings) {
		s.Format = "png"
		s.Workers = 2
	})
	cfg.Freeze()

	codec, err := cache.NewCodec(cache.FormatPNG, 90)
	if err != nil {
		t.Fatal(err)
	}
	tier := cache.NewDisk(cfg.GetImageDir(), codec, nil, 0)
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheus(reg)
	metas := metastore.NewMemory()
	out := &bytes.Buffer{}
	return &Managers{
		Cfg:      cfg,
		Disp:     display.NewPlain(out),
		Cache:    cache.NewTwoTier(cache.NewMemory[image.Image](1<<20), tier, rec),
		Metas:    metas,
		DiskMgr:  disk.NewManager(cfg, tier, metas),
		Metrics:  rec,
		Registry: reg,
		Client:   http.DefaultClient,
	}, out
}

func runCommand(t *testing.T, m *Managers, args ...string) *ExecutionResult {
	t.Helper()
	engine, err := NewEngine(DefaultDSL)
	if err != nil {
		t.Fatal(err)
	}
	engine.Out = &bytes.Buffer{}
	(&DefaultHandlers{Mgr: m}).Register(engine)
	res, err := engine.Run(context.Background(), args)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return res
}

func TestFetchCommand(t *testing.T) {
	data := testPNG(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "local.png")
	if err := os.WriteFile(local, data, 0644); err != nil {
		t.Fatal(err)
	}

	m, _ := newTestManagers(t)
	outDir := filepath.Join(t.TempDir(), "out")
	res := runCommand(t, m, "fetch", srv.URL+"/a.png", local, "-o", outDir)
	if res.ExitCode != 0 {
		t.Fatalf("exit code %d: %+v", res.ExitCode, res.Output.Table.Rows)
	}
	if res.Output.Message != "Loaded 2 of 2" {
		t.Errorf("message = %q", res.Output.Message)
	}
	for _, row := range res.Output.Table.Rows {
		if row[1] != "source" || row[2] != "8x4" {
			t.Errorf("unexpected row %v", row)
		}
	}
	exported, _ := filepath.Glob(filepath.Join(outDir, "*.png"))
	if len(exported) != 2 {
		t.Errorf("exported %v", exported)
	}

	res = runCommand(t, m, "fetch", srv.URL+"/a.png")
	if res.Output.Table.Rows[0][1] != "memory" {
		t.Errorf("second fetch came from %q", res.Output.Table.Rows[0][1])
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times", hits.Load())
	}
}

func TestFetchReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m, _ := newTestManagers(t)
	res := runCommand(t, m, "fetch", srv.URL+"/missing.png")
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	if res.Output.Message != "Loaded 0 of 1" {
		t.Errorf("message = %q", res.Output.Message)
	}
}

func TestPageCommand(t *testing.T) {
	data := testPNG(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/gallery", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><img src="/img/1.png"><img src="/img/2.png"></body></html>`))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>nothing</p></body></html>`))
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m, _ := newTestManagers(t)
	res := runCommand(t, m, "page", srv.URL+"/gallery")
	if res.Output.Message != "Loaded 2 of 2" {
		t.Errorf("message = %q", res.Output.Message)
	}

	res = runCommand(t, m, "page", srv.URL+"/empty")
	if res.Output.Message != "No images found" {
		t.Errorf("message = %q", res.Output.Message)
	}
}

func TestCacheCommands(t *testing.T) {
	data := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	m, _ := newTestManagers(t)
	runCommand(t, m, "fetch", srv.URL+"/a.png")

	res := runCommand(t, m, "cache", "info")
	if !strings.HasPrefix(res.Output.Message, "Total: ") {
		t.Errorf("info message = %q", res.Output.Message)
	}

	res = runCommand(t, m, "cache", "clean")
	if res.Output.Message != "Clean complete" {
		t.Errorf("clean message = %q", res.Output.Message)
	}
	if _, ok := m.Cache.GetMemory(common.KeyFor(common.ParseSource(srv.URL+"/a.png"), common.Size{})); ok {
		t.Error("memory tier survived clean")
	}
	files, _ := filepath.Glob(filepath.Join(m.Cfg.GetImageDir(), "*"))
	if len(files) != 0 {
		t.Errorf("image dir not empty: %v", files)
	}

	res = runCommand(t, m, "version")
	if !strings.HasPrefix(res.Output.Message, "imgload") {
		t.Errorf("version = %q", res.Output.Message)
	}
}
