// Package document is the renderer-neutral description of composed pages.
//
// Boxes are in millimeters in layout space (origin top-left, Y down).
// Renderers convert to their own space; rotation is always clockwise about
// the box center.
package document

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/memorybook/internal/layout"
	"github.com/kozaktomas/memorybook/internal/textfit"
)

// Kind is the type of a display-list item.
type Kind uint8

const (
	KindRect Kind = iota
	KindImage
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindRect:
		return "rect"
	case KindImage:
		return "image"
	case KindText:
		return "text"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Item is one drawing primitive.
type Item struct {
	Kind     Kind
	Box      layout.Box
	Rotation float64 // degrees, clockwise

	// KindRect. A zero Fill alpha draws no fill, a zero StrokeMM no outline.
	Fill     color.NRGBA
	Stroke   color.NRGBA
	StrokeMM float64

	// KindImage. Exposed corners of a pre-rotated bitmap take Fill.
	Image image.Image

	// KindText. Font sizes in the block are px at 96 per inch.
	Text  *textfit.Block
	Color color.NRGBA
	Align textfit.Align

	Slot int // slot index, -1 for page decoration
}

// Page is a single page; items are drawn in order.
type Page struct {
	Number     int
	Size       layout.PageSize
	Background color.NRGBA
	Items      []Item
}

// Document is the composed output of a job.
type Document struct {
	Title string
	Pages []*Page
}

func NewPage(number int, size layout.PageSize, bg color.NRGBA) *Page {
	return &Page{Number: number, Size: size, Background: bg}
}

func (p *Page) Add(items ...Item) {
	p.Items = append(p.Items, items...)
}

// Rect is a filled rectangle.
func Rect(box layout.Box, fill color.NRGBA) Item {
	return Item{Kind: KindRect, Box: box, Fill: fill, Slot: -1}
}

// Outline is an unfilled rectangle stroked inside box.
func Outline(box layout.Box, stroke color.NRGBA, widthMM float64) Item {
	return Item{Kind: KindRect, Box: box, Stroke: stroke, StrokeMM: widthMM, Slot: -1}
}

// Image places img stretched over box.
func Image(box layout.Box, img image.Image, rotation float64, corner color.NRGBA, slot int) Item {
	return Item{Kind: KindImage, Box: box, Image: img, Rotation: rotation, Fill: corner, Slot: slot}
}

// Text places a fitted block inside box.
func Text(box layout.Box, block *textfit.Block, c color.NRGBA, align textfit.Align) Item {
	return Item{Kind: KindText, Box: box, Text: block, Color: c, Align: align, Slot: -1}
}

// Rotated reports whether the item needs rotation.
func (it Item) Rotated() bool {
	return math.Mod(it.Rotation, 360) != 0
}

// PreRotate turns a rotated image item into an unrotated one for renderers
// that cannot rotate natively: the bitmap is rotated with exposed corners
// filled with it.Fill, and the box grows to the rotated bounds keeping the
// center of the original box. Items without rotation are returned as is.
func PreRotate(it Item) (Item, error) {
	if !it.Rotated() {
		return it, nil
	}
	if it.Kind != KindImage {
		return it, fmt.Errorf("pre-rotate %s item: only images can be pre-rotated", it.Kind)
	}
	if it.Image == nil {
		return it, fmt.Errorf("pre-rotate: missing image")
	}
	out := it
	// imaging rotates counter-clockwise
	out.Image = imaging.Rotate(it.Image, -it.Rotation, it.Fill)
	out.Box = layout.PreRotatedPlacement(it.Box, it.Rotation)
	out.Rotation = 0
	return out, nil
}

// RasterizeRect draws a rect item into a bitmap at dpi so it can be
// pre-rotated like an image.
func RasterizeRect(it Item, dpi float64) Item {
	_, _, w, h := it.Box.Scale(dpi)
	canvas := imaging.New(w, h, it.Fill)
	if it.StrokeMM > 0 {
		sw := max(1, int(math.Round(it.StrokeMM*dpi/layout.MMPerInch)))
		StrokeInside(canvas, canvas.Bounds(), sw, it.Stroke)
	}
	out := it
	out.Kind = KindImage
	out.Image = canvas
	out.Fill = color.NRGBA{}
	return out
}

// StrokeInside paints a border of width w inside r.
func StrokeInside(dst *image.NRGBA, r image.Rectangle, w int, c color.NRGBA) {
	sides := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w),
		image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y),
		image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, s := range sides {
		s = s.Intersect(r)
		for y := s.Min.Y; y < s.Max.Y; y++ {
			for x := s.Min.X; x < s.Max.X; x++ {
				dst.SetNRGBA(x, y, c)
			}
		}
	}
}
