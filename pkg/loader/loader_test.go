package loader

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"imgload/pkg/cache"
	"imgload/pkg/common"
	"imgload/pkg/decode"
	"imgload/pkg/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	handle int
	res    Result
}

type recordingSink struct {
	mu  sync.Mutex
	got []delivery
}

func (s *recordingSink) Deliver(h int, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, delivery{handle: h, res: res})
}

func (s *recordingSink) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.got...)
}

// outcomes collects the terminal callbacks of loads.
type outcomes struct {
	ended     chan Result
	cancelled chan common.Source
	failed    chan error
	started   atomic.Int32
}

func newOutcomes() *outcomes {
	return &outcomes{
		ended:     make(chan Result, 16),
		cancelled: make(chan common.Source, 16),
		failed:    make(chan error, 16),
	}
}

func (o *outcomes) listener() Listener {
	return ListenerFuncs{
		OnStart:  func(common.Source) { o.started.Add(1) },
		OnEnd:    func(_ common.Source, res Result) { o.ended <- res },
		OnCancel: func(src common.Source) { o.cancelled <- src },
		OnFail:   func(_ common.Source, err error) { o.failed <- err },
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 200, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageServer(t *testing.T, body []byte, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestLoader(t *testing.T, mutate func(*Config[int])) (*Loader[int], *recordingSink) {
	t.Helper()
	codec, err := cache.NewCodec(cache.FormatPNG, 90)
	require.NoError(t, err)
	dir := t.TempDir()
	disk := cache.NewDisk(filepath.Join(dir, "images"), codec, nil, 0)
	sink := &recordingSink{}
	cfg := Config[int]{
		Workers:        3,
		DefaultSize:    common.Size{Width: 16, Height: 16},
		RawDir:         filepath.Join(dir, "raw"),
		BusyRetryDelay: 10 * time.Millisecond,
		BusyRetries:    200,
		Cache:          cache.NewTwoTier(cache.NewMemory[image.Image](1<<20), disk, nil),
		Decoder:        decode.New(),
		Sink:           sink,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(l.Shutdown)
	return l, sink
}

func waitEnd(t *testing.T, o *outcomes) Result {
	t.Helper()
	select {
	case res := <-o.ended:
		return res
	case err := <-o.failed:
		t.Fatalf("load failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for load")
	}
	return Result{}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config[int]{})
	assert.Error(t, err)
}

func TestLoadRemoteThenMemoryHit(t *testing.T) {
	srv, hits := imageServer(t, pngBytes(t, 64, 64), 0)
	l, sink := newTestLoader(t, nil)
	o := newOutcomes()
	src := common.Remote(srv.URL + "/a.png")

	assert.False(t, l.Load(1, src, common.Size{}, o.listener()))
	res := waitEnd(t, o)

	assert.Equal(t, TierSource, res.Tier)
	assert.Equal(t, common.KeyFor(src, common.Size{Width: 16, Height: 16}), res.Key)
	assert.LessOrEqual(t, res.Image.Bounds().Dx()*res.Image.Bounds().Dy(), 16*16)
	assert.Equal(t, int32(1), hits.Load())

	got := sink.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].handle)

	_, err := os.Stat(l.Cache().Disk().Path(res.Key))
	assert.NoError(t, err, "decoded image is written to the disk tier")

	// Memory hits are delivered before Load returns.
	assert.True(t, l.Load(2, src, common.Size{}, o.listener()))
	got = sink.deliveries()
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].handle)
	assert.Equal(t, "memory", got[1].res.Tier)
	assert.Equal(t, int32(2), o.started.Load())
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoadFromDiskTier(t *testing.T) {
	srv, hits := imageServer(t, pngBytes(t, 32, 32), 0)
	l, _ := newTestLoader(t, nil)
	o := newOutcomes()
	src := common.Remote(srv.URL + "/b.png")

	l.Load(1, src, common.Size{}, o.listener())
	waitEnd(t, o)

	l.ClearMemory()
	require.NoError(t, os.RemoveAll(filepath.Join(filepath.Dir(l.Cache().Disk().Dir()), "raw")))

	assert.False(t, l.Load(1, src, common.Size{}, o.listener()))
	res := waitEnd(t, o)
	assert.Equal(t, "disk", res.Tier)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoadLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 20, 10), 0644))

	l, sink := newTestLoader(t, nil)
	o := newOutcomes()
	l.Load(7, common.Local(path), common.Size{Width: 100, Height: 100}, o.listener())
	res := waitEnd(t, o)

	assert.Equal(t, image.Rect(0, 0, 20, 10), res.Image.Bounds())
	require.Len(t, sink.deliveries(), 1)
}

func TestCancelBeforeStart(t *testing.T) {
	srv, hits := imageServer(t, pngBytes(t, 8, 8), 0)
	l, sink := newTestLoader(t, nil)
	o := newOutcomes()

	l.SetPaused(true)
	assert.True(t, l.Paused())
	l.Load(1, common.Remote(srv.URL+"/c.png"), common.Size{}, o.listener())
	assert.Equal(t, 1, l.Pending())

	assert.True(t, l.Cancel(1))
	assert.False(t, l.Cancel(1), "nothing left to cancel")
	select {
	case <-o.cancelled:
	case <-time.After(time.Second):
		t.Fatal("cancel callback not fired")
	}

	l.SetPaused(false)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), hits.Load())
	assert.Empty(t, sink.deliveries())
	assert.Empty(t, o.ended)
	assert.Equal(t, 0, l.Pending())
}

func TestLoadSupersedesEarlierRequest(t *testing.T) {
	srv, _ := imageServer(t, pngBytes(t, 8, 8), 0)
	l, sink := newTestLoader(t, nil)
	first, second := newOutcomes(), newOutcomes()
	a := common.Remote(srv.URL + "/a.png")
	b := common.Remote(srv.URL + "/b.png")

	l.SetPaused(true)
	l.Load(1, a, common.Size{}, first.listener())
	l.Load(1, b, common.Size{}, second.listener())
	assert.Equal(t, 1, l.Pending())

	select {
	case src := <-first.cancelled:
		assert.Equal(t, a, src)
	case <-time.After(time.Second):
		t.Fatal("superseded load not cancelled")
	}

	l.SetPaused(false)
	res := waitEnd(t, second)
	assert.Equal(t, b, res.Source)

	got := sink.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0].res.Source)
	assert.Empty(t, first.ended)
}

func TestCancelRunningTransfer(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", "100000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 10))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	l, sink := newTestLoader(t, nil)
	o := newOutcomes()
	l.Load(1, common.Remote(srv.URL+"/slow.png"), common.Size{}, o.listener())

	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, l.Cancel(1))

	select {
	case <-o.cancelled:
	case err := <-o.failed:
		t.Fatalf("cancelled load reported failure: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel callback not fired")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.deliveries())
	assert.Empty(t, o.failed)
}

func TestSameURLTransfersOnce(t *testing.T) {
	srv, hits := imageServer(t, pngBytes(t, 40, 40), 50*time.Millisecond)
	l, sink := newTestLoader(t, nil)
	o := newOutcomes()
	src := common.Remote(srv.URL + "/shared.png")

	const handles = 5
	for h := 0; h < handles; h++ {
		l.Load(h, src, common.Size{Width: 10, Height: 10}, o.listener())
	}
	for i := 0; i < handles; i++ {
		waitEnd(t, o)
	}

	assert.Equal(t, int32(1), hits.Load())
	seen := map[int]bool{}
	for _, d := range sink.deliveries() {
		seen[d.handle] = true
	}
	assert.Len(t, seen, handles)
}

func TestDecodeFailure(t *testing.T) {
	srv, _ := imageServer(t, []byte("definitely not an image"), 0)
	l, sink := newTestLoader(t, nil)
	o := newOutcomes()

	l.Load(1, common.Remote(srv.URL+"/bad.png"), common.Size{}, o.listener())
	select {
	case err := <-o.failed:
		assert.True(t, errors.Is(err, common.ErrDecode), "got %v", err)
	case <-o.ended:
		t.Fatal("garbage decoded")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	assert.Empty(t, sink.deliveries())
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	l, _ := newTestLoader(t, nil)
	o := newOutcomes()
	l.Load(1, common.Remote(srv.URL+"/missing.png"), common.Size{}, o.listener())
	select {
	case err := <-o.failed:
		assert.True(t, errors.Is(err, common.ErrNetwork), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestShutdownCancelsQueued(t *testing.T) {
	srv, hits := imageServer(t, pngBytes(t, 8, 8), 0)
	l, _ := newTestLoader(t, nil)
	o := newOutcomes()

	l.SetPaused(true)
	l.Load(1, common.Remote(srv.URL+"/1.png"), common.Size{}, o.listener())
	l.Load(2, common.Remote(srv.URL+"/2.png"), common.Size{}, o.listener())
	l.Shutdown()

	assert.Len(t, o.cancelled, 2)
	assert.Equal(t, int32(0), hits.Load())

	l.Load(3, common.Remote(srv.URL+"/3.png"), common.Size{}, o.listener())
	select {
	case err := <-o.failed:
		assert.ErrorIs(t, err, scheduler.ErrClosed)
	default:
		t.Fatal("load after shutdown did not fail")
	}
}
