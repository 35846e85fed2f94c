package verdict

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/shotdiff/imagestore"
)

// DefaultFailureLog is the failure log file name used when none is set.
const DefaultFailureLog = "failed-screenshots.txt"

// FailureLog is a flat list of artifact paths, one per line. Every Record
// replaces the previous content: the file only reflects the latest failing
// batch. Concurrent writers race and the last one wins.
type FailureLog struct {
	Path    string
	backend imagestore.Backend
}

// NewFailureLog binds a failure log at path to b. A nil backend means the
// filesystem; an empty path means DefaultFailureLog.
func NewFailureLog(b imagestore.Backend, path string) *FailureLog {
	if b == nil {
		b = imagestore.FS{}
	}
	if path == "" {
		path = DefaultFailureLog
	}
	return &FailureLog{Path: path, backend: b}
}

// Record overwrites the log with paths.
func (l *FailureLog) Record(paths ...string) error {
	if dir := filepath.Dir(l.Path); dir != "." {
		if err := l.backend.MkdirAll(dir); err != nil {
			return fmt.Errorf("verdict: failure log mkdir: %w", err)
		}
	}
	if err := l.backend.WriteFile(l.Path, []byte(strings.Join(paths, "\n"))); err != nil {
		return fmt.Errorf("verdict: failure log write %s: %w", l.Path, err)
	}
	return nil
}

// Read returns the recorded paths. A missing log reads as empty.
func (l *FailureLog) Read() ([]string, error) {
	data, err := l.backend.ReadFile(l.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verdict: failure log read %s: %w", l.Path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return strings.Split(string(data), "\n"), nil
}
