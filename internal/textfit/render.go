package textfit

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Align is the horizontal alignment of rendered lines.
type Align int

const (
	AlignCenter Align = iota
	AlignLeft
)

// Renderer rasterizes fitted blocks. It is safe for concurrent use.
type Renderer struct {
	font        *opentype.Font
	supersample int
}

// NewRenderer parses ttf (the Go Regular font when nil) and renders at
// supersample× resolution before downsampling.
func NewRenderer(ttf []byte, supersample int) (*Renderer, error) {
	if ttf == nil {
		ttf = goregular.TTF
	}
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	if supersample < 1 {
		supersample = 1
	}
	return &Renderer{font: f, supersample: supersample}, nil
}

// Render draws the block vertically centered in its box. scale converts the
// block's px units to output pixels (output DPI / 96). The result is
// transparent outside the glyphs.
func (r *Renderer) Render(b Block, scale float64, fg color.Color, align Align) (*image.NRGBA, error) {
	outW := max(1, int(math.Round(b.BoxW*scale)))
	outH := max(1, int(math.Round(b.BoxH*scale)))
	if len(b.Lines) == 0 {
		return image.NewNRGBA(image.Rect(0, 0, outW, outH)), nil
	}

	k := scale * float64(r.supersample)
	w := max(1, int(math.Round(b.BoxW*k)))
	h := max(1, int(math.Round(b.BoxH*k)))
	size := b.FontSize * k

	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72, // size is already in pixels
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	defer face.Close()

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	lineAdvance := size * b.LineHeight
	top := (float64(h) - float64(len(b.Lines))*lineAdvance) / 2
	ascent := float64(face.Metrics().Ascent) / 64
	descent := float64(face.Metrics().Descent) / 64
	// Center the glyph box inside each line slot.
	inset := (lineAdvance - (ascent + descent)) / 2

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(fg), Face: face}
	for i, line := range b.Lines {
		x := 0.0
		if align == AlignCenter {
			x = (float64(w) - float64(d.MeasureString(line))/64) / 2
		}
		y := top + float64(i)*lineAdvance + inset + ascent
		d.Dot = fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)}
		d.DrawString(line)
	}

	if r.supersample == 1 && w == outW && h == outH {
		return dst, nil
	}
	return imaging.Resize(dst, outW, outH, imaging.Lanczos), nil
}
