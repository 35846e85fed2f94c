// CLAUDE:SUMMARY Verdict engine: scores a diff count, gates it on the minimum match percent, writes diff and failure-log artifacts.
// Package verdict turns a pixel diff into a pass/fail result.
//
// The configured threshold is the minimum acceptable match percentage.
// Only a strictly lower score fails; a score equal to the threshold passes.
// Ordinary mismatches are reported in Result and never returned as errors.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"

	"github.com/hazyhaar/shotdiff/imagestore"
	"github.com/hazyhaar/shotdiff/shotpath"
)

// DefaultThreshold is the minimum match percentage used when none is set.
const DefaultThreshold = 90.0

// DefaultMirrorDir is where failed artifacts are mirrored when enabled.
const DefaultMirrorDir = "drive"

// MissingDataMessage is reported when either image cannot be read.
const MissingDataMessage = "Failed to compare due to missing image data"

// SameMessage is reported when no pixel differs.
const SameMessage = "Images are same"

// ErrMirrorCopy is returned when a failed artifact cannot be copied to the
// mirror location.
var ErrMirrorCopy = errors.New("verdict: failed to copy artifact to mirror")

// State is the terminal state of a comparison.
type State string

const (
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateError   State = "error"
)

// Result is the outcome of one comparison. The result, message and
// numDiffPixels JSON keys are stable.
type Result struct {
	Result        bool    `json:"result"`
	Message       string  `json:"message"`
	NumDiffPixels int     `json:"numDiffPixels"`
	MatchPercent  float64 `json:"matchPercent"`
	State         State   `json:"state"`
}

// Mirror configures copying failed current artifacts to a shared location.
type Mirror struct {
	Enabled bool
	Dir     string
}

// Config configures an Engine.
type Config struct {
	// Threshold is the minimum match percentage in (0, 100]. Default: 90.
	Threshold float64
	// FailureLog is the failure log path. Default: failed-screenshots.txt.
	FailureLog string
	Mirror     Mirror
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.FailureLog == "" {
		c.FailureLog = DefaultFailureLog
	}
	if c.Mirror.Dir == "" {
		c.Mirror.Dir = DefaultMirrorDir
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine decides comparison outcomes and persists failure artifacts.
type Engine struct {
	cfg   Config
	store *imagestore.Store
	log   *FailureLog
}

// New creates an Engine writing through store.
func New(store *imagestore.Store, cfg Config) (*Engine, error) {
	cfg.defaults()
	if cfg.Threshold > 100 {
		return nil, fmt.Errorf("verdict: threshold %v above 100", cfg.Threshold)
	}
	if store == nil {
		store = imagestore.New(nil, imagestore.WithLogger(cfg.Logger))
	}
	return &Engine{
		cfg:   cfg,
		store: store,
		log:   NewFailureLog(store.Backend(), cfg.FailureLog),
	}, nil
}

// Threshold returns the effective minimum match percentage.
func (e *Engine) Threshold() float64 { return e.cfg.Threshold }

// FailureLog returns the engine's failure log.
func (e *Engine) FailureLog() *FailureLog { return e.log }

// Decide gates matchPercent on the threshold. On failure it writes diff to
// p.Diff and overwrites the failure log with p.Current; on success any
// stale diff at p.Diff is removed. Write failures are returned as errors.
func (e *Engine) Decide(p shotpath.Paths, matchPercent float64, numDiffPixels int, diff image.Image) (Result, error) {
	if numDiffPixels < 0 {
		numDiffPixels = 0
	}
	if numDiffPixels == 0 {
		if err := e.clearDiff(p); err != nil {
			return Result{}, err
		}
		return Result{
			Result:       true,
			Message:      SameMessage,
			MatchPercent: 100,
			State:        StateSuccess,
		}, nil
	}

	pct := formatPercent(matchPercent)
	if matchPercent < e.cfg.Threshold {
		msg := fmt.Sprintf("Mismatch found in screenshot %s with %s%% match", p.Current, pct)
		e.cfg.Logger.Warn("verdict: mismatch", "current", p.Current,
			"match_percent", matchPercent, "threshold", e.cfg.Threshold, "diff_pixels", numDiffPixels)
		if diff != nil {
			if err := e.store.Write(p.Diff, diff); err != nil {
				return Result{}, fmt.Errorf("verdict: write diff: %w", err)
			}
		}
		if err := e.log.Record(p.Current); err != nil {
			return Result{}, err
		}
		return Result{
			Result:        false,
			Message:       msg,
			NumDiffPixels: numDiffPixels,
			MatchPercent:  matchPercent,
			State:         StateFailure,
		}, nil
	}

	if err := e.clearDiff(p); err != nil {
		return Result{}, err
	}
	e.cfg.Logger.Info("verdict: match within threshold", "current", p.Current,
		"match_percent", matchPercent, "threshold", e.cfg.Threshold)
	return Result{
		Result:        true,
		Message:       fmt.Sprintf("Match found in screenshot %s with %s%% match", p.Current, pct),
		NumDiffPixels: numDiffPixels,
		MatchPercent:  matchPercent,
		State:         StateSuccess,
	}, nil
}

// FailedComparison identifies a comparison that could not be scored.
type FailedComparison struct {
	Paths    shotpath.Paths
	Platform shotpath.Platform
	Name     string
}

// HandleFailedComparison records a comparison whose images could not be
// read. It always reports a failed Result; the error is non-nil only when
// the failure log cannot be written or the mirror copy fails.
func (e *Engine) HandleFailedComparison(ctx context.Context, fc FailedComparison) (Result, error) {
	e.cfg.Logger.Error("verdict: skipping comparison, missing image data",
		"current", fc.Paths.Current, "baseline", fc.Paths.Baseline)
	res := Result{Result: false, Message: MissingDataMessage, State: StateError}

	if err := e.log.Record(fc.Paths.Current); err != nil {
		return res, err
	}
	if !e.cfg.Mirror.Enabled {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	dst, err := shotpath.MirrorPath(e.cfg.Mirror.Dir, fc.Platform, fc.Name)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrMirrorCopy, err)
	}
	if err := e.store.Copy(fc.Paths.Current, dst); err != nil {
		e.cfg.Logger.Error("verdict: mirror copy failed", "src", fc.Paths.Current, "dst", dst, "error", err)
		return res, fmt.Errorf("%w: %w", ErrMirrorCopy, err)
	}
	e.cfg.Logger.Info("verdict: mirrored failed artifact", "dst", dst)
	return res, nil
}

// clearDiff removes a diff artifact left by an earlier failing run.
func (e *Engine) clearDiff(p shotpath.Paths) error {
	if err := e.store.Remove(p.Diff); err != nil {
		return fmt.Errorf("verdict: clear stale diff: %w", err)
	}
	return nil
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
