// CLAUDE:SUMMARY Comparison orchestrator: resolve, bootstrap baseline, capture, reconcile sizes, decode, diff, score and decide.
// Package visualcheck runs one visual comparison of a UI element against
// its stored baseline.
//
// A run is a linear pipeline:
//
//	resolve paths -> ensure dirs -> bootstrap baseline -> capture current
//	-> inspect metadata -> reconcile dimensions -> decode -> diff -> decide
//
// A missing baseline is seeded from the current render. Missing or
// corrupt images end in the error state without invoking the differ.
// Pass and fail are reported in the Result; only infrastructure failures
// (capture, disk, mirror copy) are returned as errors. Nothing is retried.
//
// Two runs with the same name race on their baseline and current files.
// Callers either keep names unique per concurrent run or set
// Config.SerializeNames.
package visualcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/shotdiff/capture"
	"github.com/hazyhaar/shotdiff/history"
	"github.com/hazyhaar/shotdiff/imagestore"
	"github.com/hazyhaar/shotdiff/pixeldiff"
	"github.com/hazyhaar/shotdiff/shotpath"
	"github.com/hazyhaar/shotdiff/verdict"
)

// ErrNoCurrent is returned by Accept when there is no current artifact to
// promote.
var ErrNoCurrent = errors.New("visualcheck: no current artifact to accept")

// Recorder receives one Run per finished comparison. *history.Store
// implements it.
type Recorder interface {
	Record(ctx context.Context, r history.Run) error
}

// Config configures a Checker.
type Config struct {
	// AppType selects the platform directory ("desktop" or anything else
	// for web).
	AppType string
	// RootDir holds the screenshots tree. Default: ".".
	RootDir string
	// MatchThreshold is the minimum match percentage. Default: 90.
	MatchThreshold float64
	// Compare overrides the pixel diff defaults for every run.
	Compare *pixeldiff.Overrides
	// Canvas overrides the shared resize canvas (1280x1040 fill).
	Canvas *imagestore.ResizeOverrides
	// FailureLog is the failure log path. Default: failed-screenshots.txt.
	FailureLog string
	Mirror     verdict.Mirror
	// SerializeNames holds a per-name lock from bootstrap through the
	// current capture.
	SerializeNames bool
	// MaxArtifactBytes caps artifact reads. Default: 64 MiB.
	MaxArtifactBytes int64

	Backend  imagestore.Backend
	Differ   pixeldiff.Differ
	Recorder Recorder
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.RootDir == "" {
		c.RootDir = "."
	}
	if c.Backend == nil {
		c.Backend = imagestore.FS{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request is one comparison: which element, under which name, with
// optional per-run overrides.
type Request struct {
	Target  capture.Target
	Name    string
	Compare *pixeldiff.Overrides
	Resize  *imagestore.ResizeOverrides
}

// Checker runs comparisons. Safe for concurrent use across names.
type Checker struct {
	cfg        Config
	provider   capture.Provider
	store      *imagestore.Store
	engine     *verdict.Engine
	comparator *pixeldiff.Comparator
	compare    pixeldiff.Options
	canvas     imagestore.ResizeOptions
	locks      *keyedMutex
	logger     *slog.Logger
}

// New creates a Checker capturing through provider. provider may be nil
// when every Request carries an element handle.
func New(cfg Config, provider capture.Provider) (*Checker, error) {
	cfg.defaults()

	compare := pixeldiff.Defaults().Merge(cfg.Compare)
	if err := compare.Validate(); err != nil {
		return nil, fmt.Errorf("visualcheck: compare options: %w", err)
	}
	canvas := imagestore.DefaultResizeOptions().Merge(cfg.Canvas)
	if err := canvas.Validate(); err != nil {
		return nil, fmt.Errorf("visualcheck: canvas: %w", err)
	}

	store := imagestore.New(cfg.Backend,
		imagestore.WithLogger(cfg.Logger),
		imagestore.WithMaxBytes(cfg.MaxArtifactBytes))
	engine, err := verdict.New(store, verdict.Config{
		Threshold:  cfg.MatchThreshold,
		FailureLog: cfg.FailureLog,
		Mirror:     cfg.Mirror,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("visualcheck: %w", err)
	}

	return &Checker{
		cfg:        cfg,
		provider:   provider,
		store:      store,
		engine:     engine,
		comparator: pixeldiff.New(cfg.Differ),
		compare:    compare,
		canvas:     canvas,
		locks:      newKeyedMutex(),
		logger:     cfg.Logger,
	}, nil
}

// With returns a Checker that captures through provider and shares the
// store, engine and name locks of c.
func (c *Checker) With(provider capture.Provider) *Checker {
	cp := *c
	cp.provider = provider
	return &cp
}

// Engine returns the verdict engine.
func (c *Checker) Engine() *verdict.Engine { return c.engine }

// Store returns the artifact store.
func (c *Checker) Store() *imagestore.Store { return c.store }

// Paths resolves the artifact paths for name.
func (c *Checker) Paths(name string) (shotpath.Paths, error) {
	id := shotpath.Identifier{Name: name, AppType: c.cfg.AppType}
	return shotpath.Resolve(c.cfg.RootDir, id, id.Platform())
}

// Compare runs one comparison. A non-nil error means the run could not
// reach a verdict; mismatches and missing images are reported in the
// Result.
func (c *Checker) Compare(ctx context.Context, req Request) (verdict.Result, error) {
	start := time.Now()
	res, p, err := c.run(ctx, req)
	c.record(ctx, req.Name, p, res, err, start)
	return res, err
}

func (c *Checker) run(ctx context.Context, req Request) (verdict.Result, shotpath.Paths, error) {
	id := shotpath.Identifier{Name: req.Name, AppType: c.cfg.AppType}
	platform := id.Platform()
	p, err := shotpath.Resolve(c.cfg.RootDir, id, platform)
	if err != nil {
		return verdict.Result{}, p, fmt.Errorf("visualcheck: %w", err)
	}

	opts := c.compare.Merge(req.Compare)
	if err := opts.Validate(); err != nil {
		return verdict.Result{}, p, fmt.Errorf("visualcheck: %s: %w", req.Name, err)
	}
	canvas := c.canvas.Merge(req.Resize)
	if err := canvas.Validate(); err != nil {
		return verdict.Result{}, p, fmt.Errorf("visualcheck: %s: %w", req.Name, err)
	}

	if err := shotpath.EnsureDirs(c.store, p); err != nil {
		return verdict.Result{}, p, fmt.Errorf("visualcheck: %w", err)
	}
	if err := c.captureArtifacts(ctx, req, p); err != nil {
		return verdict.Result{}, p, err
	}

	failed := verdict.FailedComparison{Paths: p, Platform: platform, Name: req.Name}

	baseMD := c.store.ReadMetadata(p.Baseline)
	curMD := c.store.ReadMetadata(p.Current)
	if baseMD == nil || curMD == nil {
		res, err := c.engine.HandleFailedComparison(ctx, failed)
		return res, p, err
	}

	if !imagestore.SameDimensions(baseMD, curMD) {
		c.logger.Info("visualcheck: dimension mismatch, resizing both",
			"name", req.Name,
			"baseline_w", baseMD.Width, "baseline_h", baseMD.Height,
			"current_w", curMD.Width, "current_h", curMD.Height,
			"canvas_w", canvas.Width, "canvas_h", canvas.Height)
		if err := c.store.ResizeAll(canvas, p.Baseline, p.Current); err != nil {
			if errors.Is(err, imagestore.ErrNoImageData) {
				res, err := c.engine.HandleFailedComparison(ctx, failed)
				return res, p, err
			}
			return verdict.Result{}, p, fmt.Errorf("visualcheck: %w", err)
		}
		baseMD = c.store.ReadMetadata(p.Baseline)
		curMD = c.store.ReadMetadata(p.Current)
		if baseMD == nil || curMD == nil {
			res, err := c.engine.HandleFailedComparison(ctx, failed)
			return res, p, err
		}
		if !imagestore.SameDimensions(baseMD, curMD) {
			return verdict.Result{}, p, fmt.Errorf("visualcheck: %s: sizes still differ after resize (%dx%d vs %dx%d)",
				req.Name, baseMD.Width, baseMD.Height, curMD.Width, curMD.Height)
		}
	}

	base := c.store.Decode(p.Baseline)
	cur := c.store.Decode(p.Current)
	if base == nil || cur == nil {
		res, err := c.engine.HandleFailedComparison(ctx, failed)
		return res, p, err
	}

	diff, err := c.comparator.Compare(base, cur, opts)
	if err != nil {
		return verdict.Result{}, p, fmt.Errorf("visualcheck: %s: %w", req.Name, err)
	}
	pct := verdict.Score(base.Width*base.Height, diff.NumDiffPixels)
	c.logger.Debug("visualcheck: diffed", "name", req.Name,
		"diff_pixels", diff.NumDiffPixels, "match_percent", pct)

	res, err := c.engine.Decide(p, pct, diff.NumDiffPixels, diff.Diff)
	return res, p, err
}

// captureArtifacts seeds a missing baseline and captures the current
// render. With SerializeNames the name lock covers both steps.
func (c *Checker) captureArtifacts(ctx context.Context, req Request, p shotpath.Paths) error {
	if c.cfg.SerializeNames {
		unlock := c.locks.lock(p.Baseline)
		defer unlock()
	}

	present, err := c.store.Exists(p.Baseline)
	if err != nil {
		return fmt.Errorf("visualcheck: baseline %s: %w", req.Name, err)
	}
	if !present {
		if err := c.store.Capture(ctx, c.provider, req.Target, p.Baseline); err != nil {
			return fmt.Errorf("visualcheck: seed baseline %s: %w", req.Name, err)
		}
		c.logger.Info("visualcheck: baseline seeded", "name", req.Name, "path", p.Baseline)
	}
	if err := c.store.Capture(ctx, c.provider, req.Target, p.Current); err != nil {
		return fmt.Errorf("visualcheck: capture %s: %w", req.Name, err)
	}
	return nil
}

// Accept promotes the current artifact of name to baseline. It is the only
// way an existing baseline is replaced.
func (c *Checker) Accept(ctx context.Context, name string) error {
	p, err := c.Paths(name)
	if err != nil {
		return fmt.Errorf("visualcheck: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cfg.SerializeNames {
		unlock := c.locks.lock(p.Baseline)
		defer unlock()
	}
	ok, err := c.store.Exists(p.Current)
	if err != nil {
		return fmt.Errorf("visualcheck: accept %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCurrent, name)
	}
	if c.store.ReadMetadata(p.Current) == nil {
		return fmt.Errorf("visualcheck: accept %s: current artifact is not a readable image", name)
	}
	if err := c.store.Copy(p.Current, p.Baseline); err != nil {
		return fmt.Errorf("visualcheck: accept %s: %w", name, err)
	}
	if err := c.store.Remove(p.Diff); err != nil {
		return fmt.Errorf("visualcheck: accept %s: %w", name, err)
	}
	c.logger.Info("visualcheck: baseline accepted", "name", name, "path", p.Baseline)
	return nil
}

func (c *Checker) record(ctx context.Context, name string, p shotpath.Paths, res verdict.Result, runErr error, start time.Time) {
	if c.cfg.Recorder == nil || name == "" {
		return
	}
	run := history.Run{
		Name:          name,
		Platform:      string(shotpath.DeterminePlatform(c.cfg.AppType)),
		State:         string(res.State),
		Result:        res.Result,
		Message:       res.Message,
		NumDiffPixels: res.NumDiffPixels,
		MatchPercent:  res.MatchPercent,
		CurrentPath:   p.Current,
		StartedAt:     start,
		Duration:      time.Since(start),
	}
	if runErr != nil {
		run.State = string(verdict.StateError)
		run.Result = false
		run.Message = runErr.Error()
	}
	if p.Baseline != "" {
		if d, err := c.store.Digest(p.Baseline); err == nil {
			run.BaselineDigest = d
		}
	}
	if err := c.cfg.Recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		c.logger.Warn("visualcheck: history record failed", "name", name, "error", err)
	}
}
