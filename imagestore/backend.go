// CLAUDE:SUMMARY Artifact backends: atomic filesystem writes and an in-memory map for tests.
package imagestore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Backend is the artifact store capability the pipeline persists through.
// The filesystem is the production backend; tests use Memory.
type Backend interface {
	Exists(path string) (bool, error)
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces path atomically: readers see either the old or the
	// new content, never a partial write.
	WriteFile(path string, data []byte) error
	MkdirAll(dir string) error
	// Remove deletes path. A missing file is not an error.
	Remove(path string) error
}

// FS is the os-backed Backend.
type FS struct {
	// Perm is applied to written files. Default: 0644.
	Perm os.FileMode
}

func (f FS) perm() os.FileMode {
	if f.Perm == 0 {
		return 0o644
	}
	return f.Perm
}

// Exists reports whether path names an existing regular file.
func (FS) Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// ReadFile reads the whole file.
func (FS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// MkdirAll creates dir and its parents. Existing directories are fine.
func (FS) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Remove deletes path, ignoring a missing file.
func (FS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// WriteFile writes data to a temp file in the destination directory, syncs
// it, then renames it over path.
func (f FS) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("imagestore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-shot-*")
	if err != nil {
		return fmt.Errorf("imagestore: create temp: %w", err)
	}

	var ok bool
	defer func() {
		if !ok {
			if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("imagestore: remove temp file failed", "path", tmp.Name(), "error", err)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("imagestore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("imagestore: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("imagestore: close temp: %w", err)
	}
	if err := os.Chmod(tmp.Name(), f.perm()); err != nil {
		return fmt.Errorf("imagestore: chmod temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("imagestore: rename: %w", err)
	}
	ok = true
	return nil
}

// Memory is a map-backed Backend. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	files  map[string][]byte
	dirs   map[string]bool
	writes map[string]int

	// FailWrite, when set, is consulted before every write; a non-nil error
	// aborts the write.
	FailWrite func(path string) error
	// FailStat, when set, is consulted by Exists.
	FailStat func(path string) error
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		files:  make(map[string][]byte),
		dirs:   make(map[string]bool),
		writes: make(map[string]int),
	}
}

func (m *Memory) Exists(path string) (bool, error) {
	if m.FailStat != nil {
		if err := m.FailStat(path); err != nil {
			return false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[filepath.Clean(path)]
	return ok, nil
}

func (m *Memory) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filepath.Clean(path)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) WriteFile(path string, data []byte) error {
	if m.FailWrite != nil {
		if err := m.FailWrite(path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := filepath.Clean(path)
	m.files[key] = append([]byte(nil), data...)
	m.writes[key]++
	return nil
}

func (m *Memory) MkdirAll(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[filepath.Clean(dir)] = true
	return nil
}

func (m *Memory) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, filepath.Clean(path))
	return nil
}

// Put seeds a file without counting it as a write.
func (m *Memory) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filepath.Clean(path)] = append([]byte(nil), data...)
}

// Get returns the stored bytes for path.
func (m *Memory) Get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filepath.Clean(path)]
	return data, ok
}

// Writes returns how many times path was written.
func (m *Memory) Writes(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[filepath.Clean(path)]
}

// HasDir reports whether MkdirAll was called for dir.
func (m *Memory) HasDir(dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[filepath.Clean(dir)]
}

// Paths returns all stored file paths, sorted.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
