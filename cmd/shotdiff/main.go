// CLAUDE:SUMMARY CLI entry point for shotdiff: single-element compare, YAML suite runs, baseline acceptance and history listing.
// Command shotdiff compares UI element screenshots against stored baselines.
//
// Usage:
//
//	shotdiff -url https://example.com -selector "#hero" -name hero
//	shotdiff -config shotdiff.yaml -parallel 4
//	shotdiff -config shotdiff.yaml -accept hero
//	shotdiff -config shotdiff.yaml -history hero
//
// The exit status is 1 when any case fails or errors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/shotdiff/browser"
	"github.com/hazyhaar/shotdiff/config"
	"github.com/hazyhaar/shotdiff/history"
	"github.com/hazyhaar/shotdiff/report"
	"github.com/hazyhaar/shotdiff/visualcheck"
)

// errFailed marks a run that completed but had failing cases.
var errFailed = errors.New("one or more comparisons failed")

type options struct {
	configPath string
	url        string
	selector   string
	frame      string
	name       string
	accept     string
	history    string
	parallel   int
	summary    string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to shotdiff.yaml config file")
	flag.StringVar(&o.url, "url", "", "page URL of a single case")
	flag.StringVar(&o.selector, "selector", "", "element selector of a single case")
	flag.StringVar(&o.frame, "frame", "", "iframe selector the element lives in")
	flag.StringVar(&o.name, "name", "", "screenshot name of a single case")
	flag.StringVar(&o.accept, "accept", "", "promote the current screenshot of name to baseline and exit")
	flag.StringVar(&o.history, "history", "", "print recent runs of name and exit")
	flag.IntVar(&o.parallel, "parallel", 1, "cases compared concurrently")
	flag.StringVar(&o.summary, "summary", "", "write a JSON summary to this path")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		if !errors.Is(err, errFailed) {
			logger.Error("shotdiff: fatal", "error", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	switch {
	case o.history != "":
		return runHistory(ctx, cfg, o.history)
	case o.accept != "":
		return runAccept(ctx, logger, cfg, o.accept)
	case len(cfg.Cases) > 0:
		return runSuite(ctx, logger, cfg, o)
	}

	fmt.Fprintln(os.Stderr, "usage: shotdiff -config <file> | -url <url> -selector <sel> -name <name> [-frame <sel>]")
	flag.PrintDefaults()
	return errFailed
}

// loadConfig reads -config (or defaults) and appends the single case
// given on the command line.
func loadConfig(o options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Parse([]byte("{}"))
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if o.url != "" || o.selector != "" {
		cfg.Cases = []config.CaseConfig{{
			Name:     o.name,
			URL:      o.url,
			Selector: o.selector,
			Frame:    o.frame,
		}}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newChecker(logger *slog.Logger, cfg *config.Config, rec visualcheck.Recorder) (*visualcheck.Checker, error) {
	cc := cfg.ToChecker(logger)
	cc.Recorder = rec
	return visualcheck.New(cc, nil)
}

func runSuite(ctx context.Context, logger *slog.Logger, cfg *config.Config, o options) error {
	var rec visualcheck.Recorder
	if cfg.History.Path != "" {
		h, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer h.Close()
		rec = h
	}

	checker, err := newChecker(logger, cfg, rec)
	if err != nil {
		return err
	}

	mgr := browser.NewManager(cfg.ToBrowser(logger))
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	collector := report.NewCollector()
	sink := report.Multi{report.NewJSONLines(nil), collector}
	defer sink.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.parallel, 1))
	for _, cs := range cfg.Cases {
		g.Go(func() error {
			entry := runCase(gctx, logger, mgr, checker, cs)
			if err := sink.Send(gctx, entry); err != nil {
				logger.Warn("shotdiff: report failed", "name", cs.Name, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	sum := collector.Summary()
	if o.summary != "" {
		if err := report.WriteSummary(nil, o.summary, sum); err != nil {
			return err
		}
	}
	logger.Info("shotdiff: done", "total", sum.Total, "passed", sum.Passed,
		"failed", sum.Failed, "errored", sum.Errored)

	if err := ctx.Err(); err != nil {
		return err
	}
	if !sum.OK() {
		return errFailed
	}
	return nil
}

func runCase(ctx context.Context, logger *slog.Logger, mgr *browser.Manager, checker *visualcheck.Checker, cs config.CaseConfig) report.Entry {
	start := time.Now()
	target := cs.Target()
	entry := report.Entry{Name: cs.Name, Target: target.String()}

	tab, err := browser.OpenTab(ctx, mgr, cs.URL)
	if err != nil {
		logger.Error("shotdiff: open tab", "name", cs.Name, "url", cs.URL, "error", err)
		entry.Error = err.Error()
		entry.Duration = time.Since(start)
		return entry
	}
	defer tab.Close()

	res, err := checker.With(tab.Provider()).Compare(ctx, visualcheck.Request{Target: target, Name: cs.Name})
	entry.Result = res
	if err != nil {
		logger.Error("shotdiff: compare", "name", cs.Name, "error", err)
		entry.Error = err.Error()
	}
	entry.Duration = time.Since(start)
	return entry
}

func runAccept(ctx context.Context, logger *slog.Logger, cfg *config.Config, name string) error {
	checker, err := newChecker(logger, cfg, nil)
	if err != nil {
		return err
	}
	return checker.Accept(ctx, name)
}

func runHistory(ctx context.Context, cfg *config.Config, name string) error {
	if cfg.History.Path == "" {
		return fmt.Errorf("history: no history.path configured")
	}
	h, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.Recent(ctx, name, 20)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range runs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
