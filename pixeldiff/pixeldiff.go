// CLAUDE:SUMMARY Pixel comparator: runs a Differ over two equal-size images and returns the diff count and diff image.
// Package pixeldiff compares two decoded screenshots pixel by pixel.
//
// The comparator expects equal dimensions; reconciling sizes is the
// caller's job. Differ implementations report ErrSizeMismatch otherwise.
package pixeldiff

import (
	"errors"
	"fmt"
	"image"

	"github.com/hazyhaar/shotdiff/imagestore"
)

// ErrSizeMismatch is returned when the two buffers differ in size.
var ErrSizeMismatch = errors.New("pixeldiff: image sizes differ")

// Differ counts differing pixels between a and b and draws them onto out
// (which may be nil).
type Differ interface {
	Diff(a, b, out *image.NRGBA, opts Options) (int, error)
}

// Result is the outcome of one pixel comparison.
type Result struct {
	NumDiffPixels int
	Diff          *image.NRGBA
}

// Comparator wraps a Differ.
type Comparator struct {
	differ Differ
}

// New creates a Comparator. A nil differ selects Pixelmatch.
func New(d Differ) *Comparator {
	if d == nil {
		d = Pixelmatch{}
	}
	return &Comparator{differ: d}
}

// Compare diffs current against baseline and returns a diff image of the
// same size.
func (c *Comparator) Compare(baseline, current *imagestore.Decoded, opts Options) (Result, error) {
	if baseline == nil || current == nil {
		return Result{}, errors.New("pixeldiff: missing image data")
	}
	out := image.NewNRGBA(image.Rect(0, 0, baseline.Width, baseline.Height))
	n, err := c.differ.Diff(baseline.Image, current.Image, out, opts)
	if err != nil {
		return Result{}, fmt.Errorf("pixeldiff: compare %dx%d: %w", baseline.Width, baseline.Height, err)
	}
	if n < 0 {
		n = 0
	}
	return Result{NumDiffPixels: n, Diff: out}, nil
}
