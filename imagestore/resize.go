package imagestore

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Fit is the policy for mapping a source onto the target canvas.
type Fit string

const (
	// FitFill stretches the source to the canvas, ignoring aspect ratio.
	FitFill Fit = "fill"
	// FitContain letterboxes the source inside the canvas on Background.
	FitContain Fit = "contain"
	// FitCover scales to cover the canvas and crops the overflow, centered.
	FitCover Fit = "cover"
)

// Default canvas both images are normalized to when their sizes differ.
const (
	DefaultCanvasWidth  = 1280
	DefaultCanvasHeight = 1040
)

// ResizeOptions controls the shared canvas.
type ResizeOptions struct {
	Width      int
	Height     int
	Fit        Fit
	Kernel     string // nearest | approxbilinear | bilinear | catmullrom
	Background color.NRGBA
}

// DefaultResizeOptions returns the 1280x1040 stretch-to-fill canvas.
func DefaultResizeOptions() ResizeOptions {
	return ResizeOptions{
		Width:      DefaultCanvasWidth,
		Height:     DefaultCanvasHeight,
		Fit:        FitFill,
		Kernel:     "catmullrom",
		Background: color.NRGBA{A: 0xff},
	}
}

// ResizeOverrides carries per-call replacements; nil fields keep the base.
type ResizeOverrides struct {
	Width      *int         `yaml:"width"`
	Height     *int         `yaml:"height"`
	Fit        *Fit         `yaml:"fit"`
	Kernel     *string      `yaml:"kernel"`
	Background *color.NRGBA `yaml:"-"`
}

// Merge returns o with every non-nil field of ov applied.
func (o ResizeOptions) Merge(ov *ResizeOverrides) ResizeOptions {
	if ov == nil {
		return o
	}
	if ov.Width != nil {
		o.Width = *ov.Width
	}
	if ov.Height != nil {
		o.Height = *ov.Height
	}
	if ov.Fit != nil {
		o.Fit = *ov.Fit
	}
	if ov.Kernel != nil {
		o.Kernel = *ov.Kernel
	}
	if ov.Background != nil {
		o.Background = *ov.Background
	}
	return o
}

// Validate checks the canvas is positive and the fit and kernel are known.
func (o ResizeOptions) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("imagestore: canvas %dx%d must be positive", o.Width, o.Height)
	}
	switch o.Fit {
	case FitFill, FitContain, FitCover:
	default:
		return fmt.Errorf("imagestore: unknown fit %q", o.Fit)
	}
	if _, err := interpolator(o.Kernel); err != nil {
		return err
	}
	return nil
}

func interpolator(kernel string) (draw.Interpolator, error) {
	switch kernel {
	case "", "catmullrom":
		return draw.CatmullRom, nil
	case "bilinear":
		return draw.BiLinear, nil
	case "approxbilinear":
		return draw.ApproxBiLinear, nil
	case "nearest":
		return draw.NearestNeighbor, nil
	}
	return nil, fmt.Errorf("imagestore: unknown kernel %q", kernel)
}

// resizeImage maps src onto a Width x Height canvas. A source already at the
// target size is returned unchanged.
func resizeImage(src *image.NRGBA, o ResizeOptions) (*image.NRGBA, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	sb := src.Bounds()
	if sb.Dx() == o.Width && sb.Dy() == o.Height {
		return src, nil
	}
	if sb.Empty() {
		return nil, fmt.Errorf("imagestore: cannot resize empty image")
	}

	interp, _ := interpolator(o.Kernel)
	dst := image.NewNRGBA(image.Rect(0, 0, o.Width, o.Height))

	switch o.Fit {
	case FitFill:
		interp.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)

	case FitContain:
		draw.Draw(dst, dst.Bounds(), &image.Uniform{C: o.Background}, image.Point{}, draw.Src)
		scale := math.Min(float64(o.Width)/float64(sb.Dx()), float64(o.Height)/float64(sb.Dy()))
		w := max(1, int(math.Round(float64(sb.Dx())*scale)))
		h := max(1, int(math.Round(float64(sb.Dy())*scale)))
		x0 := (o.Width - w) / 2
		y0 := (o.Height - h) / 2
		interp.Scale(dst, image.Rect(x0, y0, x0+w, y0+h), src, sb, draw.Src, nil)

	case FitCover:
		scale := math.Max(float64(o.Width)/float64(sb.Dx()), float64(o.Height)/float64(sb.Dy()))
		w := min(sb.Dx(), max(1, int(math.Round(float64(o.Width)/scale))))
		h := min(sb.Dy(), max(1, int(math.Round(float64(o.Height)/scale))))
		x0 := sb.Min.X + (sb.Dx()-w)/2
		y0 := sb.Min.Y + (sb.Dy()-h)/2
		interp.Scale(dst, dst.Bounds(), src, image.Rect(x0, y0, x0+w, y0+h), draw.Src, nil)
	}
	return dst, nil
}
