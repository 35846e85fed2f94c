// CLAUDE:SUMMARY Image artifact store: capture, metadata, decode, atomic resize, write, copy and digest over a Backend.
// Package imagestore persists and inspects the screenshot artifacts of a
// visual comparison.
//
// A missing or undecodable image is a recognised outcome, not an error:
// ReadMetadata and Decode return nil and the caller decides what to do.
// Only infrastructure failures (cannot write, cannot copy) return errors.
package imagestore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/shotdiff/capture"
)

// DefaultMaxBytes caps how much of an artifact is read (64 MiB).
const DefaultMaxBytes int64 = 64 << 20

// ErrNoImageData is returned when an operation needs pixels the artifact
// does not provide.
var ErrNoImageData = errors.New("imagestore: no image data")

// Store wraps a Backend with image semantics.
type Store struct {
	backend  Backend
	logger   *slog.Logger
	maxBytes int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxBytes sets the artifact size cap. Larger files read as missing.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// New creates a Store. A nil backend means the filesystem.
func New(b Backend, opts ...Option) *Store {
	if b == nil {
		b = FS{}
	}
	s := &Store{backend: b, logger: slog.Default(), maxBytes: DefaultMaxBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Backend returns the underlying artifact backend.
func (s *Store) Backend() Backend { return s.backend }

// MkdirAll creates dir through the backend.
func (s *Store) MkdirAll(dir string) error {
	return s.backend.MkdirAll(dir)
}

// Exists reports whether an artifact is present at path. Stat errors other
// than not-exist are returned; the artifact may still be there.
func (s *Store) Exists(path string) (bool, error) {
	ok, err := s.backend.Exists(path)
	if err != nil {
		return false, fmt.Errorf("imagestore: stat %s: %w", path, err)
	}
	return ok, nil
}

// Capture renders target through p and writes the bytes to dst. A target
// carrying an element handle is rendered by the handle itself. An empty
// screenshot is still written; it reads back as missing image data.
func (s *Store) Capture(ctx context.Context, p capture.Provider, target capture.Target, dst string) error {
	if err := target.Validate(); err != nil {
		return err
	}

	var data []byte
	var err error
	switch {
	case target.Element != nil:
		data, err = target.Element.Screenshot(ctx)
	case p != nil:
		data, err = p.Screenshot(ctx, target)
	default:
		return errors.New("imagestore: no screenshot provider configured")
	}
	if err != nil {
		return fmt.Errorf("imagestore: capture %s: %w", target, err)
	}
	if len(data) == 0 {
		s.logger.Warn("imagestore: empty screenshot", "target", target.String(), "path", dst)
	}

	if err := s.backend.WriteFile(dst, data); err != nil {
		return fmt.Errorf("imagestore: write %s: %w", dst, err)
	}
	s.logger.Debug("imagestore: captured", "target", target.String(), "path", dst, "bytes", len(data))
	return nil
}

// ReadMetadata returns the dimensions and format of the image at path, or
// nil when it is missing, oversized or not a decodable image.
func (s *Store) ReadMetadata(path string) *Metadata {
	data, ok := s.read(path)
	if !ok {
		return nil
	}
	md, err := inspect(data)
	if err != nil {
		s.logger.Warn("imagestore: unreadable image header", "path", path, "error", err)
		return nil
	}
	return md
}

// Decode loads the full pixel data at path, or nil when there is none.
func (s *Store) Decode(path string) *Decoded {
	data, ok := s.read(path)
	if !ok {
		return nil
	}
	d, err := decode(data)
	if err != nil {
		s.logger.Warn("imagestore: decode failed", "path", path, "error", err)
		return nil
	}
	return d
}

// Write encodes img as PNG at path.
func (s *Store) Write(path string, img image.Image) error {
	data, err := encodePNG(img)
	if err != nil {
		return fmt.Errorf("imagestore: encode %s: %w", path, err)
	}
	if err := s.backend.WriteFile(path, data); err != nil {
		return fmt.Errorf("imagestore: write %s: %w", path, err)
	}
	return nil
}

// Resize rewrites the image at path in place on the o canvas. The backend
// write is atomic, so a failure leaves the previous file intact.
func (s *Store) Resize(path string, o ResizeOptions) error {
	return s.ResizeAll(o, path)
}

// ResizeAll rewrites every image in paths on the o canvas. All of them are
// decoded and resized in memory first; nothing is written unless every
// path yields image data.
func (s *Store) ResizeAll(o ResizeOptions, paths ...string) error {
	resized := make([]image.Image, len(paths))
	for i, path := range paths {
		d := s.Decode(path)
		if d == nil {
			return fmt.Errorf("imagestore: resize %s: %w", path, ErrNoImageData)
		}
		out, err := resizeImage(d.Image, o)
		if err != nil {
			return fmt.Errorf("imagestore: resize %s: %w", path, err)
		}
		resized[i] = out
		s.logger.Debug("imagestore: resized", "path", path,
			"from_w", d.Width, "from_h", d.Height, "to_w", o.Width, "to_h", o.Height, "fit", o.Fit)
	}
	for i, path := range paths {
		if err := s.Write(path, resized[i]); err != nil {
			return err
		}
	}
	return nil
}

// Copy duplicates the artifact at src to dst, creating dst's directory.
func (s *Store) Copy(src, dst string) error {
	data, err := s.backend.ReadFile(src)
	if err != nil {
		return fmt.Errorf("imagestore: copy read %s: %w", src, err)
	}
	if err := s.backend.MkdirAll(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("imagestore: copy mkdir %s: %w", dst, err)
	}
	if err := s.backend.WriteFile(dst, data); err != nil {
		return fmt.Errorf("imagestore: copy write %s: %w", dst, err)
	}
	return nil
}

// Remove deletes the artifact at path if present.
func (s *Store) Remove(path string) error {
	if err := s.backend.Remove(path); err != nil {
		return fmt.Errorf("imagestore: remove %s: %w", path, err)
	}
	return nil
}

// Digest returns the hex BLAKE2b-256 of the artifact bytes at path.
func (s *Store) Digest(path string) (string, error) {
	data, err := s.backend.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("imagestore: digest %s: %w", path, err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Store) read(path string) ([]byte, bool) {
	data, err := s.backend.ReadFile(path)
	if err != nil {
		s.logger.Debug("imagestore: read failed", "path", path, "error", err)
		return nil, false
	}
	if int64(len(data)) > s.maxBytes {
		s.logger.Warn("imagestore: artifact exceeds size cap", "path", path,
			"bytes", len(data), "max", s.maxBytes)
		return nil, false
	}
	return data, true
}
