package pixeldiff

import (
	"fmt"
	"image/color"
)

// Options controls per-pixel sensitivity and how the diff image is drawn.
//
// Threshold is a per-pixel color distance in [0, 1]; it is not the match
// percentage gate applied to the whole image.
type Options struct {
	Threshold float64
	// IncludeAA counts anti-aliased pixels as differences.
	IncludeAA bool
	// Alpha is the opacity of the grayscale background drawn for unchanged
	// pixels when DiffMask is off.
	Alpha     float64
	AAColor   color.NRGBA
	DiffColor color.NRGBA
	// DiffColorAlt marks pixels that got darker; HasDiffColorAlt enables it.
	DiffColorAlt    color.NRGBA
	HasDiffColorAlt bool
	// DiffMask draws only the differing pixels on a transparent canvas.
	// Diff colors must not be opaque white in this mode.
	DiffMask bool
}

// Defaults returns red differences, green darkening, no background, masked.
func Defaults() Options {
	return Options{
		Threshold:       0.1,
		Alpha:           0,
		AAColor:         color.NRGBA{R: 255, G: 255, A: 255},
		DiffColor:       color.NRGBA{R: 255, A: 255},
		DiffColorAlt:    color.NRGBA{G: 255, A: 255},
		HasDiffColorAlt: true,
		DiffMask:        true,
	}
}

// Overrides holds optional replacements for Options fields.
type Overrides struct {
	Threshold    *float64 `yaml:"threshold" json:"threshold,omitempty"`
	IncludeAA    *bool    `yaml:"include_aa" json:"include_aa,omitempty"`
	Alpha        *float64 `yaml:"alpha" json:"alpha,omitempty"`
	AAColor      *RGB     `yaml:"aa_color" json:"aa_color,omitempty"`
	DiffColor    *RGB     `yaml:"diff_color" json:"diff_color,omitempty"`
	DiffColorAlt *RGB     `yaml:"diff_color_alt" json:"diff_color_alt,omitempty"`
	DiffMask     *bool    `yaml:"diff_mask" json:"diff_mask,omitempty"`
}

// RGB is an opaque color written as [r, g, b] in configuration.
type RGB [3]uint8

// NRGBA converts c to an opaque color.
func (c RGB) NRGBA() color.NRGBA {
	return color.NRGBA{R: c[0], G: c[1], B: c[2], A: 255}
}

// Merge returns o with every non-nil field of ov applied.
func (o Options) Merge(ov *Overrides) Options {
	if ov == nil {
		return o
	}
	if ov.Threshold != nil {
		o.Threshold = *ov.Threshold
	}
	if ov.IncludeAA != nil {
		o.IncludeAA = *ov.IncludeAA
	}
	if ov.Alpha != nil {
		o.Alpha = *ov.Alpha
	}
	if ov.AAColor != nil {
		o.AAColor = ov.AAColor.NRGBA()
	}
	if ov.DiffColor != nil {
		o.DiffColor = ov.DiffColor.NRGBA()
	}
	if ov.DiffColorAlt != nil {
		o.DiffColorAlt = ov.DiffColorAlt.NRGBA()
		o.HasDiffColorAlt = true
	}
	if ov.DiffMask != nil {
		o.DiffMask = *ov.DiffMask
	}
	return o
}

// Validate checks Threshold and Alpha are within [0, 1] and that masked
// diff colors are distinguishable from the cleared background.
func (o Options) Validate() error {
	if o.Threshold < 0 || o.Threshold > 1 {
		return fmt.Errorf("pixeldiff: threshold %v outside [0, 1]", o.Threshold)
	}
	if o.Alpha < 0 || o.Alpha > 1 {
		return fmt.Errorf("pixeldiff: alpha %v outside [0, 1]", o.Alpha)
	}
	if o.DiffMask {
		if o.DiffColor == opaqueWhite || (o.HasDiffColorAlt && o.DiffColorAlt == opaqueWhite) {
			return fmt.Errorf("pixeldiff: white diff color with diff mask")
		}
	}
	return nil
}
