package layout

import "math"

// Insets is a frame padding in mm.
type Insets struct {
	Top    float64 `yaml:"top" json:"top"`
	Right  float64 `yaml:"right" json:"right"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
	Left   float64 `yaml:"left" json:"left"`
}

// Uniform reports whether all four sides are equal.
func (i Insets) Uniform() bool {
	return i.Top == i.Right && i.Right == i.Bottom && i.Bottom == i.Left
}

func (i Insets) IsZero() bool {
	return i == Insets{}
}

// Box is an axis-aligned rectangle in mm. In layout space (X, Y) is the
// top-left corner; in render space it is the bottom-left corner.
type Box struct {
	X, Y, W, H float64
}

func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Inset shrinks the box by the padding, yielding the inner content box of an
// outer box (layout space).
func (b Box) Inset(p Insets) Box {
	return Box{
		X: b.X + p.Left,
		Y: b.Y + p.Top,
		W: math.Max(0, b.W-p.Left-p.Right),
		H: math.Max(0, b.H-p.Top-p.Bottom),
	}
}

// OuterBox builds a slot's outer box from its position (the outer top-left
// corner) and its inner content size.
func OuterBox(x, y, innerW, innerH float64, pad Insets) Box {
	return Box{
		X: x,
		Y: y,
		W: innerW + pad.Left + pad.Right,
		H: innerH + pad.Top + pad.Bottom,
	}
}

// ToRender converts a top-down layout box into the bottom-up render space of
// a page with the given height: renderY = pageH - y - h.
func ToRender(b Box, pageH float64) Box {
	return Box{X: b.X, Y: pageH - b.Y - b.H, W: b.W, H: b.H}
}

// FromRender is the inverse of ToRender.
func FromRender(r Box, pageH float64) Box {
	return Box{X: r.X, Y: pageH - r.Y - r.H, W: r.W, H: r.H}
}

// RotatedBounds returns the size of the axis-aligned bounding box of a w×h
// rectangle rotated by deg degrees about its center.
func RotatedBounds(w, h, deg float64) (float64, float64) {
	rad := deg * math.Pi / 180
	c := math.Abs(math.Cos(rad))
	s := math.Abs(math.Sin(rad))
	return w*c + h*s, w*s + h*c
}

// PreRotatedPlacement returns where a bitmap of the outer box, pre-rotated by
// deg degrees, must be drawn so that its center stays on the center of the
// unrotated outer box. With deg == 0 the box is returned unchanged.
func PreRotatedPlacement(b Box, deg float64) Box {
	if math.Mod(deg, 360) == 0 {
		return b
	}
	cx, cy := b.Center()
	w, h := RotatedBounds(b.W, b.H, deg)
	return Box{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

// Scale converts a box in mm to pixel units at dpi (origin preserved).
func (b Box) Scale(dpi float64) (x, y, w, h int) {
	f := dpi / MMPerInch
	return int(math.Round(b.X * f)), int(math.Round(b.Y * f)),
		max(1, int(math.Round(b.W*f))), max(1, int(math.Round(b.H*f)))
}
