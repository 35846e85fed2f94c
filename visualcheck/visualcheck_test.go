package visualcheck

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/shotdiff/capture"
	"github.com/hazyhaar/shotdiff/history"
	"github.com/hazyhaar/shotdiff/imagestore"
	"github.com/hazyhaar/shotdiff/pixeldiff"
	"github.com/hazyhaar/shotdiff/verdict"
)

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.NRGBA{R: 255, A: 255}
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fixedProvider returns the same bytes for every capture and counts calls.
type fixedProvider struct {
	mu    sync.Mutex
	data  []byte
	calls int
}

func (f *fixedProvider) Screenshot(ctx context.Context, target capture.Target) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.data, nil
}

func (f *fixedProvider) set(data []byte) {
	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
}

type countingDiffer struct {
	calls atomic.Int32
}

func (d *countingDiffer) Diff(a, b, out *image.NRGBA, opts pixeldiff.Options) (int, error) {
	d.calls.Add(1)
	return pixeldiff.Pixelmatch{}.Diff(a, b, out, opts)
}

type memRecorder struct {
	mu   sync.Mutex
	runs []history.Run
	err  error
}

func (m *memRecorder) Record(ctx context.Context, r history.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return m.err
}

func newChecker(t *testing.T, mem *imagestore.Memory, prov capture.Provider, mod func(*Config)) *Checker {
	t.Helper()
	cfg := Config{
		AppType:        "web",
		RootDir:        "/work",
		MatchThreshold: 90,
		FailureLog:     "/work/failed-screenshots.txt",
		Backend:        mem,
	}
	if mod != nil {
		mod(&cfg)
	}
	c, err := New(cfg, prov)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

var target = capture.Target{Selector: "#login"}

func TestFirstRunSeedsBaseline(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: pngBytes(t, solid(100, 100, white))}
	c := newChecker(t, mem, prov, nil)

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result || res.NumDiffPixels != 0 || res.Message != verdict.SameMessage {
		t.Fatalf("res = %+v", res)
	}
	if prov.calls != 2 {
		t.Fatalf("provider calls = %d, want 2 (seed + current)", prov.calls)
	}
	p, _ := c.Paths("login")
	if mem.Writes(p.Baseline) != 1 || mem.Writes(p.Current) != 1 {
		t.Fatalf("writes baseline=%d current=%d", mem.Writes(p.Baseline), mem.Writes(p.Current))
	}
	if _, ok := mem.Get(p.Diff); ok {
		t.Fatal("successful comparison left a diff artifact")
	}
	for _, d := range p.Dirs() {
		if !mem.HasDir(d) {
			t.Fatalf("directory %s not created", d)
		}
	}
}

func TestBaselineNeverOverwritten(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: pngBytes(t, solid(10, 10, white))}
	c := newChecker(t, mem, prov, nil)
	p, _ := c.Paths("login")
	seed := pngBytes(t, solid(10, 10, white))
	mem.Put(p.Baseline, seed)

	for range 3 {
		if _, err := c.Compare(context.Background(), Request{Target: target, Name: "login"}); err != nil {
			t.Fatal(err)
		}
	}
	if mem.Writes(p.Baseline) != 0 {
		t.Fatalf("baseline rewritten %d times", mem.Writes(p.Baseline))
	}
	if mem.Writes(p.Current) != 3 {
		t.Fatalf("current writes = %d, want 3", mem.Writes(p.Current))
	}
}

func TestHalfRedFails(t *testing.T) {
	mem := imagestore.NewMemory()
	cur := solid(100, 100, white)
	draw.Draw(cur, image.Rect(0, 0, 100, 50), &image.Uniform{C: red}, image.Point{}, draw.Src)
	prov := &fixedProvider{data: pngBytes(t, cur)}
	c := newChecker(t, mem, prov, nil)
	p, _ := c.Paths("login")
	mem.Put(p.Baseline, pngBytes(t, solid(100, 100, white)))

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result || res.MatchPercent != 50 || res.NumDiffPixels != 5000 || res.State != verdict.StateFailure {
		t.Fatalf("res = %+v", res)
	}
	want := "Mismatch found in screenshot " + p.Current + " with 50% match"
	if res.Message != want {
		t.Fatalf("message = %q, want %q", res.Message, want)
	}
	if _, ok := mem.Get(p.Diff); !ok {
		t.Fatal("diff artifact not written")
	}
	logged, err := c.Engine().FailureLog().Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(logged) != 1 || logged[0] != p.Current {
		t.Fatalf("failure log = %v", logged)
	}
}

func TestDimensionMismatchResizesBoth(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: pngBytes(t, solid(100, 100, white))}
	differ := &countingDiffer{}
	c := newChecker(t, mem, prov, func(cfg *Config) { cfg.Differ = differ })
	p, _ := c.Paths("login")
	mem.Put(p.Baseline, pngBytes(t, solid(50, 50, white)))

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result {
		t.Fatalf("res = %+v", res)
	}
	if differ.calls.Load() != 1 {
		t.Fatalf("differ calls = %d", differ.calls.Load())
	}
	st := c.Store()
	bm, cm := st.ReadMetadata(p.Baseline), st.ReadMetadata(p.Current)
	if !imagestore.SameDimensions(bm, cm) {
		t.Fatalf("sizes differ after run: %+v vs %+v", bm, cm)
	}
	if bm.Width != imagestore.DefaultCanvasWidth || bm.Height != imagestore.DefaultCanvasHeight {
		t.Fatalf("baseline resized to %dx%d", bm.Width, bm.Height)
	}
}

func TestPerRequestCanvas(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: pngBytes(t, solid(20, 20, white))}
	c := newChecker(t, mem, prov, nil)
	p, _ := c.Paths("login")
	mem.Put(p.Baseline, pngBytes(t, solid(10, 10, white)))

	w, h := 64, 48
	fit := imagestore.FitContain
	res, err := c.Compare(context.Background(), Request{
		Target: target,
		Name:   "login",
		Resize: &imagestore.ResizeOverrides{Width: &w, Height: &h, Fit: &fit},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result {
		t.Fatalf("res = %+v", res)
	}
	if md := c.Store().ReadMetadata(p.Current); md.Width != 64 || md.Height != 48 {
		t.Fatalf("current = %dx%d", md.Width, md.Height)
	}
}

func TestCorruptCurrentIsError(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: []byte("definitely not an image")}
	differ := &countingDiffer{}
	c := newChecker(t, mem, prov, func(cfg *Config) { cfg.Differ = differ })
	p, _ := c.Paths("login")
	mem.Put(p.Baseline, pngBytes(t, solid(10, 10, white)))

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result || res.Message != verdict.MissingDataMessage || res.State != verdict.StateError {
		t.Fatalf("res = %+v", res)
	}
	if differ.calls.Load() != 0 {
		t.Fatal("differ invoked without image data")
	}
	logged, _ := c.Engine().FailureLog().Read()
	if len(logged) != 1 || logged[0] != p.Current {
		t.Fatalf("failure log = %v", logged)
	}
}

func TestTruncatedCurrentIsError(t *testing.T) {
	mem := imagestore.NewMemory()
	full := pngBytes(t, solid(10, 10, white))
	// The header survives, so metadata reads fine but decoding fails.
	prov := &fixedProvider{data: full[:33]}
	differ := &countingDiffer{}
	c := newChecker(t, mem, prov, func(cfg *Config) { cfg.Differ = differ })
	p, _ := c.Paths("login")
	mem.Put(p.Baseline, full)

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != verdict.StateError || differ.calls.Load() != 0 {
		t.Fatalf("res = %+v, differ calls = %d", res, differ.calls.Load())
	}
}

func TestEmptyCaptureIsError(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: []byte{}}
	differ := &countingDiffer{}
	c := newChecker(t, mem, prov, func(cfg *Config) {
		cfg.Differ = differ
		cfg.Mirror = verdict.Mirror{Enabled: true, Dir: "/share"}
	})
	p, _ := c.Paths("login")
	mem.Put(p.Baseline, pngBytes(t, solid(10, 10, white)))

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result || res.Message != verdict.MissingDataMessage || res.State != verdict.StateError {
		t.Fatalf("res = %+v", res)
	}
	if differ.calls.Load() != 0 {
		t.Fatal("differ invoked without image data")
	}
	logged, _ := c.Engine().FailureLog().Read()
	if len(logged) != 1 || logged[0] != p.Current {
		t.Fatalf("failure log = %v", logged)
	}
	if _, ok := mem.Get("/share/web/login_BETA.png"); !ok {
		t.Fatal("empty capture not mirrored")
	}
}

func TestResizeKeepsBaselineWhenCurrentHasNoPixels(t *testing.T) {
	mem := imagestore.NewMemory()
	full := pngBytes(t, solid(100, 100, white))
	prov := &fixedProvider{data: full[:33]}
	c := newChecker(t, mem, prov, nil)
	p, _ := c.Paths("login")
	seed := pngBytes(t, solid(50, 50, white))
	mem.Put(p.Baseline, seed)

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != verdict.StateError || res.Message != verdict.MissingDataMessage {
		t.Fatalf("res = %+v", res)
	}
	if mem.Writes(p.Baseline) != 0 {
		t.Fatal("baseline resized although current could not be")
	}
	if got, _ := mem.Get(p.Baseline); !bytes.Equal(got, seed) {
		t.Fatal("baseline bytes changed")
	}
}

func TestBaselineStatErrorIsRaised(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: pngBytes(t, solid(10, 10, white))}
	c := newChecker(t, mem, prov, nil)
	p, _ := c.Paths("login")
	denied := errors.New("permission denied")
	mem.FailStat = func(path string) error {
		if path == p.Baseline {
			return denied
		}
		return nil
	}

	_, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if !errors.Is(err, denied) {
		t.Fatalf("err = %v, want permission denied", err)
	}
	if prov.calls != 0 {
		t.Fatalf("provider calls = %d, want 0", prov.calls)
	}
	if mem.Writes(p.Baseline) != 0 {
		t.Fatal("baseline seeded over an unreadable stat")
	}
}

func TestMirrorOnMissingData(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: []byte("garbage")}
	c := newChecker(t, mem, prov, func(cfg *Config) {
		cfg.Mirror = verdict.Mirror{Enabled: true, Dir: "/share"}
	})

	if _, err := c.Compare(context.Background(), Request{Target: target, Name: "login"}); err != nil {
		t.Fatal(err)
	}
	if data, ok := mem.Get("/share/web/login_BETA.png"); !ok || string(data) != "garbage" {
		t.Fatalf("mirror = %q, %v", data, ok)
	}
}

func TestMirrorCopyFailureIsRaised(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: []byte("garbage")}
	mem.FailWrite = func(path string) error {
		if path == "/share/web/login_BETA.png" {
			return errors.New("share offline")
		}
		return nil
	}
	c := newChecker(t, mem, prov, func(cfg *Config) {
		cfg.Mirror = verdict.Mirror{Enabled: true, Dir: "/share"}
	})

	_, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if !errors.Is(err, verdict.ErrMirrorCopy) {
		t.Fatalf("err = %v, want ErrMirrorCopy", err)
	}
}

func TestThresholdBoundary(t *testing.T) {
	mem := imagestore.NewMemory()
	// 10 of 100 pixels differ: exactly 90% match.
	cur := solid(10, 10, white)
	draw.Draw(cur, image.Rect(0, 0, 10, 1), &image.Uniform{C: red}, image.Point{}, draw.Src)
	prov := &fixedProvider{data: pngBytes(t, cur)}
	c := newChecker(t, mem, prov, nil)
	p, _ := c.Paths("banner")
	mem.Put(p.Baseline, pngBytes(t, solid(10, 10, white)))

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "banner"})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumDiffPixels != 10 || res.MatchPercent != 90 {
		t.Fatalf("res = %+v", res)
	}
	if !res.Result {
		t.Fatal("match equal to threshold must pass")
	}

	// One more differing pixel drops below the threshold.
	cur.SetNRGBA(0, 1, red)
	prov.set(pngBytes(t, cur))
	res, err = c.Compare(context.Background(), Request{Target: target, Name: "banner"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result || res.MatchPercent != 89 {
		t.Fatalf("res = %+v", res)
	}
}

func TestCompareOverrides(t *testing.T) {
	mem := imagestore.NewMemory()
	prov := &fixedProvider{data: pngBytes(t, solid(10, 10, color.NRGBA{R: 250, G: 250, B: 250, A: 255}))}
	c := newChecker(t, mem, prov, nil)
	p, _ := c.Paths("login")
	mem.Put(p.Baseline, pngBytes(t, solid(10, 10, white)))

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumDiffPixels != 0 {
		t.Fatalf("default sensitivity: diff = %d", res.NumDiffPixels)
	}

	zero := 0.0
	res, err = c.Compare(context.Background(), Request{
		Target:  target,
		Name:    "login",
		Compare: &pixeldiff.Overrides{Threshold: &zero},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumDiffPixels != 100 || res.Result {
		t.Fatalf("strict sensitivity: res = %+v", res)
	}
}

func TestElementHandleBypassesProvider(t *testing.T) {
	mem := imagestore.NewMemory()
	data := pngBytes(t, solid(5, 5, white))
	c := newChecker(t, mem, nil, nil)
	el := handle(func(ctx context.Context) ([]byte, error) { return data, nil })

	res, err := c.Compare(context.Background(), Request{Target: capture.Target{Element: el}, Name: "icon"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result {
		t.Fatalf("res = %+v", res)
	}
}

type handle func(ctx context.Context) ([]byte, error)

func (h handle) Screenshot(ctx context.Context) ([]byte, error) { return h(ctx) }

func TestCaptureErrorPropagates(t *testing.T) {
	mem := imagestore.NewMemory()
	boom := errors.New("selector not found")
	prov := capture.ProviderFunc(func(ctx context.Context, target capture.Target) ([]byte, error) {
		return nil, boom
	})
	c := newChecker(t, mem, prov, nil)

	if _, err := c.Compare(context.Background(), Request{Target: target, Name: "login"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want capture error", err)
	}
}

func TestInvalidName(t *testing.T) {
	c := newChecker(t, imagestore.NewMemory(), &fixedProvider{}, nil)
	if _, err := c.Compare(context.Background(), Request{Target: target, Name: "../escape"}); err == nil {
		t.Fatal("expected error for traversal name")
	}
}

func TestWithSharesState(t *testing.T) {
	mem := imagestore.NewMemory()
	c := newChecker(t, mem, &fixedProvider{data: []byte("x")}, nil)
	good := &fixedProvider{data: pngBytes(t, solid(4, 4, white))}
	c2 := c.With(good)

	if c2.Store() != c.Store() || c2.Engine() != c.Engine() || c2.locks != c.locks {
		t.Fatal("With did not share collaborators")
	}
	res, err := c2.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result || good.calls != 2 {
		t.Fatalf("res = %+v, calls = %d", res, good.calls)
	}
}

func TestAccept(t *testing.T) {
	mem := imagestore.NewMemory()
	cur := pngBytes(t, solid(10, 10, red))
	prov := &fixedProvider{data: cur}
	c := newChecker(t, mem, prov, nil)
	p, _ := c.Paths("login")
	mem.Put(p.Baseline, pngBytes(t, solid(10, 10, white)))

	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result {
		t.Fatal("expected mismatch before accept")
	}

	if err := c.Accept(context.Background(), "login"); err != nil {
		t.Fatal(err)
	}
	if got, _ := mem.Get(p.Baseline); !bytes.Equal(got, cur) {
		t.Fatal("baseline not replaced by current")
	}
	if _, ok := mem.Get(p.Diff); ok {
		t.Fatal("diff survived accept")
	}

	res, err = c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result {
		t.Fatalf("after accept: %+v", res)
	}
}

func TestAcceptWithoutCurrent(t *testing.T) {
	c := newChecker(t, imagestore.NewMemory(), nil, nil)
	if err := c.Accept(context.Background(), "login"); !errors.Is(err, ErrNoCurrent) {
		t.Fatalf("err = %v, want ErrNoCurrent", err)
	}
}

func TestRecorder(t *testing.T) {
	mem := imagestore.NewMemory()
	rec := &memRecorder{err: errors.New("db gone")}
	prov := &fixedProvider{data: pngBytes(t, solid(4, 4, white))}
	c := newChecker(t, mem, prov, func(cfg *Config) { cfg.Recorder = rec })

	// Recorder failures never fail the comparison.
	res, err := c.Compare(context.Background(), Request{Target: target, Name: "login"})
	if err != nil || !res.Result {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	if len(rec.runs) != 1 {
		t.Fatalf("recorded %d runs", len(rec.runs))
	}
	run := rec.runs[0]
	if run.Name != "login" || run.State != "success" || !run.Result || run.Platform != "web" {
		t.Fatalf("run = %+v", run)
	}
	if len(run.BaselineDigest) != 64 {
		t.Fatalf("digest = %q", run.BaselineDigest)
	}
}

func TestRecorderHistoryStore(t *testing.T) {
	mem := imagestore.NewMemory()
	h := history.OpenMemory(t)
	prov := &fixedProvider{data: []byte("garbage")}
	c := newChecker(t, mem, prov, func(cfg *Config) { cfg.Recorder = h })

	if _, err := c.Compare(context.Background(), Request{Target: target, Name: "login"}); err != nil {
		t.Fatal(err)
	}
	fails, err := h.Failures(context.Background(), time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(fails) != 1 || fails[0].State != "error" || fails[0].Message != verdict.MissingDataMessage {
		t.Fatalf("failures = %+v", fails)
	}
}

func TestSerializeNames(t *testing.T) {
	mem := imagestore.NewMemory()
	var inFlight, peak atomic.Int32
	data := pngBytes(t, solid(4, 4, white))
	prov := capture.ProviderFunc(func(ctx context.Context, target capture.Target) ([]byte, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return data, nil
	})
	c := newChecker(t, mem, prov, func(cfg *Config) { cfg.SerializeNames = true })
	p, _ := c.Paths("login")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Compare(context.Background(), Request{Target: target, Name: "login"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Fatalf("peak concurrent captures = %d, want 1", peak.Load())
	}
	if mem.Writes(p.Baseline) != 1 {
		t.Fatalf("baseline seeded %d times", mem.Writes(p.Baseline))
	}
	if c.locks.size() != 0 {
		t.Fatalf("lock entries leaked: %d", c.locks.size())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	alpha := 2.0
	if _, err := New(Config{Backend: imagestore.NewMemory(), Compare: &pixeldiff.Overrides{Alpha: &alpha}}, nil); err == nil {
		t.Fatal("expected error for alpha > 1")
	}
	if _, err := New(Config{Backend: imagestore.NewMemory(), MatchThreshold: 150}, nil); err == nil {
		t.Fatal("expected error for threshold > 100")
	}
}
