package pixeldiff

import (
	"errors"
	"image"
	"image/color"

	"github.com/orisano/pixelmatch"
	"golang.org/x/image/draw"
)

var opaqueWhite = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// Pixelmatch is the default Differ. It runs github.com/orisano/pixelmatch:
// a perceptual YIQ color distance with anti-aliasing detection.
type Pixelmatch struct{}

// Diff counts the pixels of a and b whose distance exceeds the threshold
// and, when out is non-nil, draws them onto out. Identical inputs leave out
// untouched.
func (Pixelmatch) Diff(a, b, out *image.NRGBA, opts Options) (int, error) {
	if err := opts.Validate(); err != nil {
		return 0, err
	}
	if a == nil || b == nil {
		return 0, errors.New("pixeldiff: nil image")
	}
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return 0, ErrSizeMismatch
	}
	if out != nil && (out.Bounds().Dx() != ab.Dx() || out.Bounds().Dy() != ab.Dy()) {
		return 0, ErrSizeMismatch
	}

	var drawn image.Image
	n, err := pixelmatch.MatchPixel(atOrigin(a), atOrigin(b), matchOptions(opts, out, &drawn)...)
	if err != nil {
		if errors.Is(err, pixelmatch.ErrImageSizesNotMatch) {
			return 0, ErrSizeMismatch
		}
		return 0, err
	}
	if out == nil || drawn == nil {
		return n, nil
	}
	if opts.DiffMask {
		mask(out, drawn)
	} else {
		draw.Draw(out, out.Bounds(), drawn, drawn.Bounds().Min, draw.Src)
	}
	return n, nil
}

// matchOptions maps opts onto pixelmatch options. The library's own mask
// mode reuses its row buffer, so unchanged pixels below a difference keep
// its color; masked diffs are drawn unmasked on white and cleared by mask.
func matchOptions(opts Options, out *image.NRGBA, drawn *image.Image) []pixelmatch.MatchOption {
	mo := []pixelmatch.MatchOption{
		pixelmatch.Threshold(opts.Threshold),
		pixelmatch.DiffColor(opts.DiffColor),
	}
	if opts.IncludeAA {
		mo = append(mo, pixelmatch.IncludeAntiAlias)
	}
	if opts.HasDiffColorAlt {
		mo = append(mo, pixelmatch.DiffColorAlt(opts.DiffColorAlt))
	}
	if out == nil {
		return mo
	}
	mo = append(mo, pixelmatch.WriteTo(drawn))
	if opts.DiffMask {
		return append(mo, pixelmatch.Alpha(0), pixelmatch.AntiAliasedColor(opaqueWhite))
	}
	return append(mo, pixelmatch.Alpha(opts.Alpha), pixelmatch.AntiAliasedColor(opts.AAColor))
}

// mask copies the non-white pixels of src onto out and clears the rest.
func mask(out *image.NRGBA, src image.Image) {
	ob, sb := out.Bounds(), src.Bounds()
	for y := 0; y < ob.Dy(); y++ {
		for x := 0; x < ob.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(sb.Min.X+x, sb.Min.Y+y)).(color.NRGBA)
			if c == opaqueWhite {
				c = color.NRGBA{}
			}
			out.SetNRGBA(ob.Min.X+x, ob.Min.Y+y, c)
		}
	}
}

// atOrigin returns img rebased to (0, 0); pixelmatch requires equal bounds,
// not just equal sizes.
func atOrigin(img *image.NRGBA) *image.NRGBA {
	r := img.Bounds()
	if r.Min == (image.Point{}) {
		return img
	}
	if r.Empty() {
		return image.NewNRGBA(image.Rectangle{})
	}
	return &image.NRGBA{
		Pix:    img.Pix[img.PixOffset(r.Min.X, r.Min.Y):],
		Stride: img.Stride,
		Rect:   image.Rect(0, 0, r.Dx(), r.Dy()),
	}
}
