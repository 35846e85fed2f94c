// CLAUDE:SUMMARY Defines shotdiff config structs, parses YAML with defaults and maps them onto checker and browser configs.
// Package config handles shotdiff configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/shotdiff/browser"
	"github.com/hazyhaar/shotdiff/capture"
	"github.com/hazyhaar/shotdiff/imagestore"
	"github.com/hazyhaar/shotdiff/pixeldiff"
	"github.com/hazyhaar/shotdiff/verdict"
	"github.com/hazyhaar/shotdiff/visualcheck"
)

// Config is the top-level shotdiff configuration.
type Config struct {
	AppType        string                     `yaml:"app_type"`
	RootDir        string                     `yaml:"root_dir"`
	Threshold      float64                    `yaml:"threshold"` // minimum match percent
	FailureLog     string                     `yaml:"failure_log"`
	SerializeNames bool                       `yaml:"serialize_names"`
	Mirror         MirrorConfig               `yaml:"mirror"`
	Compare        pixeldiff.Overrides        `yaml:"compare"`
	Resize         imagestore.ResizeOverrides `yaml:"resize"`
	Browser        BrowserConfig              `yaml:"browser"`
	History        HistoryConfig              `yaml:"history"`
	Cases          []CaseConfig               `yaml:"cases"`
}

// MirrorConfig controls copying unreadable current artifacts to a shared drive.
type MirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Headless         *bool         `yaml:"headless"` // default true
	Stealth          bool          `yaml:"stealth"`
	ViewportWidth    int           `yaml:"viewport_width"`
	ViewportHeight   int           `yaml:"viewport_height"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// HistoryConfig locates the run history database. Empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// CaseConfig is one element to compare.
type CaseConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Selector string `yaml:"selector"`
	Frame    string `yaml:"frame"`
}

// Target returns the capture target of the case.
func (c CaseConfig) Target() capture.Target {
	return capture.Target{Selector: c.Selector, Frame: c.Frame}
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AppType == "" {
		c.AppType = "web"
	}
	if c.RootDir == "" {
		c.RootDir = "."
	}
	if c.Threshold <= 0 {
		c.Threshold = verdict.DefaultThreshold
	}
	if c.FailureLog == "" {
		c.FailureLog = verdict.DefaultFailureLog
	}
	if c.Mirror.Dir == "" {
		c.Mirror.Dir = verdict.DefaultMirrorDir
	}
	if c.Browser.Headless == nil {
		t := true
		c.Browser.Headless = &t
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = imagestore.DefaultCanvasWidth
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = imagestore.DefaultCanvasHeight
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
}

// Validate checks ranges and that every case is addressable.
func (c *Config) Validate() error {
	var errs []error
	if c.Threshold > 100 {
		errs = append(errs, fmt.Errorf("threshold %v above 100", c.Threshold))
	}
	if err := pixeldiff.Defaults().Merge(&c.Compare).Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := imagestore.DefaultResizeOptions().Merge(&c.Resize).Validate(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Cases))
	for i, cs := range c.Cases {
		switch {
		case cs.Name == "":
			errs = append(errs, fmt.Errorf("cases[%d]: name is required", i))
		case seen[cs.Name]:
			errs = append(errs, fmt.Errorf("cases[%d]: duplicate name %q", i, cs.Name))
		}
		seen[cs.Name] = true
		if cs.URL == "" {
			errs = append(errs, fmt.Errorf("cases[%d]: url is required", i))
		}
		if cs.Selector == "" {
			errs = append(errs, fmt.Errorf("cases[%d]: selector is required", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ToChecker maps the configuration onto a visualcheck.Config. Collaborators
// (backend, differ, recorder) are left to the caller.
func (c *Config) ToChecker(logger *slog.Logger) visualcheck.Config {
	compare := c.Compare
	resize := c.Resize
	return visualcheck.Config{
		AppType:        c.AppType,
		RootDir:        c.RootDir,
		MatchThreshold: c.Threshold,
		Compare:        &compare,
		Canvas:         &resize,
		FailureLog:     c.FailureLog,
		Mirror:         verdict.Mirror{Enabled: c.Mirror.Enabled, Dir: c.Mirror.Dir},
		SerializeNames: c.SerializeNames,
		Logger:         logger,
	}
}

// ToBrowser maps the browser section onto a browser.Config.
func (c *Config) ToBrowser(logger *slog.Logger) browser.Config {
	headful := c.Browser.Headless != nil && !*c.Browser.Headless
	return browser.Config{
		RemoteURL:        c.Browser.Remote,
		Bin:              c.Browser.Bin,
		Headful:          headful,
		Stealth:          c.Browser.Stealth,
		ViewportWidth:    c.Browser.ViewportWidth,
		ViewportHeight:   c.Browser.ViewportHeight,
		NavigateTimeout:  c.Browser.NavigateTimeout,
		ResourceBlocking: c.Browser.ResourceBlocking,
		Logger:           logger,
	}
}
