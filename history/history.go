// CLAUDE:SUMMARY SQLite run history (modernc): records every comparison outcome and lists recent runs and failures.
// Package history keeps a durable log of comparison runs in SQLite.
//
// Unlike the failure log, which only holds the latest failing batch, the
// history keeps every run and survives across batches.
//
// Usage:
//
//	h, err := history.Open("shotdiff.db")
//	defer h.Close()
//	err = h.Record(ctx, history.Run{Name: "login", State: "success", Result: true})
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run is one recorded comparison.
type Run struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Platform       string        `json:"platform"`
	State          string        `json:"state"`
	Result         bool          `json:"result"`
	Message        string        `json:"message"`
	NumDiffPixels  int           `json:"numDiffPixels"`
	MatchPercent   float64       `json:"matchPercent"`
	BaselineDigest string        `json:"baselineDigest,omitempty"`
	CurrentPath    string        `json:"currentPath,omitempty"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
}

// Store is the run history database.
type Store struct {
	db    *sql.DB
	newID IDGenerator
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return newStore(db), nil
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db, newID: RunID}
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record inserts r. An empty ID is generated and a zero StartedAt means now.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.Name == "" {
		return fmt.Errorf("history: record: empty name")
	}
	if r.ID == "" {
		r.ID = s.newID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	result := 0
	if r.Result {
		result = 1
	}
	err := execRetry(ctx, s.db, `INSERT INTO runs
		(id, name, platform, state, result, message, num_diff_pixels, match_percent,
		 baseline_digest, current_path, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Platform, r.State, result, r.Message, r.NumDiffPixels, r.MatchPercent,
		r.BaselineDigest, r.CurrentPath, r.StartedAt.UnixMilli(), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("history: record %s: %w", r.Name, err)
	}
	return nil
}

// Recent returns up to limit runs for name, newest first.
func (s *Store) Recent(ctx context.Context, name string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM runs
		WHERE name = ? ORDER BY started_at DESC, id DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent %s: %w", name, err)
	}
	return scanRuns(rows)
}

// Failures returns every unsuccessful run started at or after since,
// oldest first.
func (s *Store) Failures(ctx context.Context, since time.Time) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM runs
		WHERE result = 0 AND started_at >= ? ORDER BY started_at, id`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("history: failures: %w", err)
	}
	return scanRuns(rows)
}

const columns = `id, name, platform, state, result, message, num_diff_pixels, match_percent,
	baseline_digest, current_path, started_at, duration_ms`

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var result int
		var started, durMS int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Platform, &r.State, &result, &r.Message,
			&r.NumDiffPixels, &r.MatchPercent, &r.BaselineDigest, &r.CurrentPath,
			&started, &durMS); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Result = result == 1
		r.StartedAt = time.UnixMilli(started)
		r.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}
