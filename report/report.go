// CLAUDE:SUMMARY Writes comparison results as JSON lines and aggregates them into a pass/fail/error summary file.
// Package report emits comparison results for humans and CI.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/shotdiff/imagestore"
	"github.com/hazyhaar/shotdiff/verdict"
)

// Entry is one finished case.
type Entry struct {
	Name     string         `json:"name"`
	Target   string         `json:"target,omitempty"`
	Result   verdict.Result `json:"result"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

// Failed reports whether the entry should fail the batch.
func (e Entry) Failed() bool { return e.Error != "" || !e.Result.Result }

// Sink receives entries as they finish.
type Sink interface {
	Send(ctx context.Context, e Entry) error
	Close() error
}

// JSONLines writes entries as JSON lines to an io.Writer (default os.Stdout).
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a JSONLines sink. If w is nil, os.Stdout is used.
func NewJSONLines(w io.Writer) *JSONLines {
	if w == nil {
		w = os.Stdout
	}
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (s *JSONLines) Send(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "case", Data: e})
}

func (s *JSONLines) Close() error { return nil }

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Summary totals a batch.
type Summary struct {
	Total    int       `json:"total"`
	Passed   int       `json:"passed"`
	Failed   int       `json:"failed"`
	Errored  int       `json:"errored"`
	Cases    []Entry   `json:"cases"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// OK reports whether every case passed.
func (s Summary) OK() bool { return s.Failed == 0 && s.Errored == 0 }

// Collector is a Sink that keeps every entry for the summary. Safe for
// concurrent use.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
	started time.Time
	now     func() time.Time
}

// NewCollector starts a collection now.
func NewCollector() *Collector {
	return &Collector{started: time.Now(), now: time.Now}
}

func (c *Collector) Send(_ context.Context, e Entry) error {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
	return nil
}

func (c *Collector) Close() error { return nil }

// Summary returns the totals so far, cases sorted by name.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		Total:    len(c.entries),
		Cases:    append([]Entry(nil), c.entries...),
		Started:  c.started,
		Finished: c.now(),
	}
	sort.Slice(s.Cases, func(i, j int) bool { return s.Cases[i].Name < s.Cases[j].Name })
	for _, e := range s.Cases {
		switch {
		case e.Error != "" || e.Result.State == verdict.StateError:
			s.Errored++
		case e.Result.Result:
			s.Passed++
		default:
			s.Failed++
		}
	}
	return s
}

// WriteSummary stores the summary as indented JSON at path through b.
func WriteSummary(b imagestore.Backend, path string, s Summary) error {
	if b == nil {
		b = imagestore.FS{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal summary: %w", err)
	}
	if err := b.WriteFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("report: write summary %s: %w", path, err)
	}
	return nil
}

// Multi fans entries out to several sinks and returns the first error.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Entry) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
