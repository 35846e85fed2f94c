package imagestore

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Metadata describes an image without its pixels.
type Metadata struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format"`
	ColorModel string `json:"color_model"`
	HasAlpha   bool   `json:"has_alpha"`
}

// Pixels returns Width*Height.
func (m *Metadata) Pixels() int {
	return m.Width * m.Height
}

// Decoded is a fully loaded image in non-premultiplied RGBA.
type Decoded struct {
	Width  int
	Height int
	Image  *image.NRGBA
}

func inspect(data []byte) (*Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	name, alpha := modelName(cfg.ColorModel)
	return &Metadata{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Format:     format,
		ColorModel: name,
		HasAlpha:   alpha,
	}, nil
}

func modelName(m color.Model) (string, bool) {
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return "paletted", true
			}
		}
		return "paletted", false
	}
	switch m {
	case color.NRGBAModel:
		return "nrgba", true
	case color.NRGBA64Model:
		return "nrgba64", true
	case color.RGBAModel:
		return "rgba", true
	case color.RGBA64Model:
		return "rgba64", true
	case color.AlphaModel:
		return "alpha", true
	case color.Alpha16Model:
		return "alpha16", true
	case color.GrayModel:
		return "gray", false
	case color.Gray16Model:
		return "gray16", false
	case color.CMYKModel:
		return "cmyk", false
	case color.YCbCrModel:
		return "ycbcr", false
	}
	return "unknown", false
}

func decode(data []byte) (*Decoded, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	n := toNRGBA(img)
	b := n.Bounds()
	return &Decoded{Width: b.Dx(), Height: b.Dy(), Image: n}, nil
}

// toNRGBA returns img as a zero-origin *image.NRGBA, copying when needed.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
