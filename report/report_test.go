package report

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hazyhaar/shotdiff/imagestore"
	"github.com/hazyhaar/shotdiff/verdict"
)

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLines(&buf)
	ctx := context.Background()

	entries := []Entry{
		{Name: "login", Result: verdict.Result{Result: true, Message: verdict.SameMessage, State: verdict.StateSuccess}},
		{Name: "chart", Result: verdict.Result{Result: false, Message: "Mismatch", NumDiffPixels: 12, State: verdict.StateFailure}},
	}
	for _, e := range entries {
		if err := s.Send(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	sc := bufio.NewScanner(&buf)
	var n int
	for sc.Scan() {
		var env struct {
			Type string `json:"type"`
			Data struct {
				Name   string         `json:"name"`
				Result map[string]any `json:"result"`
			} `json:"data"`
		}
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			t.Fatal(err)
		}
		if env.Type != "case" || env.Data.Name != entries[n].Name {
			t.Fatalf("line %d = %+v", n, env)
		}
		for _, key := range []string{"result", "message", "numDiffPixels"} {
			if _, ok := env.Data.Result[key]; !ok {
				t.Fatalf("line %d missing %q", n, key)
			}
		}
		n++
	}
	if n != 2 {
		t.Fatalf("lines = %d", n)
	}
}

func TestCollectorSummary(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()
	c.Send(ctx, Entry{Name: "b", Result: verdict.Result{Result: false, State: verdict.StateFailure}})
	c.Send(ctx, Entry{Name: "a", Result: verdict.Result{Result: true, State: verdict.StateSuccess}})
	c.Send(ctx, Entry{Name: "c", Result: verdict.Result{Result: false, State: verdict.StateError}})
	c.Send(ctx, Entry{Name: "d", Error: "capture: selector not found"})

	s := c.Summary()
	if s.Total != 4 || s.Passed != 1 || s.Failed != 1 || s.Errored != 2 {
		t.Fatalf("summary = %+v", s)
	}
	if s.Cases[0].Name != "a" || s.Cases[3].Name != "d" {
		t.Fatal("cases not sorted by name")
	}
	if s.OK() {
		t.Fatal("summary with failures reported OK")
	}
	if !s.Cases[3].Failed() || s.Cases[0].Failed() {
		t.Fatal("Entry.Failed wrong")
	}
}

func TestWriteSummary(t *testing.T) {
	mem := imagestore.NewMemory()
	s := Summary{Total: 1, Passed: 1}
	if err := WriteSummary(mem, "/out/summary.json", s); err != nil {
		t.Fatal(err)
	}
	data, ok := mem.Get("/out/summary.json")
	if !ok {
		t.Fatal("summary not written")
	}
	var got Summary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 1 || got.Passed != 1 || !got.OK() {
		t.Fatalf("summary = %+v", got)
	}
}

type failSink struct{ err error }

func (f failSink) Send(context.Context, Entry) error { return f.err }
func (f failSink) Close() error                      { return f.err }

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	c := NewCollector()
	m := Multi{failSink{boom}, c}
	if err := m.Send(context.Background(), Entry{Name: "x"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if c.Summary().Total != 1 {
		t.Fatal("second sink skipped after first failed")
	}
	if err := m.Close(); !errors.Is(err, boom) {
		t.Fatalf("close err = %v", err)
	}
}
