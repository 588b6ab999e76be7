package theme

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is a color as written in a theme document: "#rrggbb", "#rgb" or one
// of a few names.
type Color string

var namedColors = map[string]string{
	"white": "#ffffff",
	"black": "#000000",
	"cream": "#fdf8ee",
	"ivory": "#fffff0",
	"grey":  "#808080",
	"gray":  "#808080",
}

// Parse returns the color value.
func (c Color) Parse() (colorful.Color, error) {
	s := strings.ToLower(strings.TrimSpace(string(c)))
	if hex, ok := namedColors[s]; ok {
		s = hex
	}
	if len(s) == 4 && s[0] == '#' {
		s = "#" + strings.Repeat(s[1:2], 2) + strings.Repeat(s[2:3], 2) + strings.Repeat(s[3:4], 2)
	}
	col, err := colorful.Hex(s)
	if err != nil {
		return colorful.Color{}, fmt.Errorf("invalid color %q: %w", string(c), err)
	}
	return col, nil
}

// Or returns c, or fallback when c is empty.
func (c Color) Or(fallback Color) Color {
	if strings.TrimSpace(string(c)) == "" {
		return fallback
	}
	return c
}

// NRGBA returns the color with the given opacity in [0,1]. Unparseable
// colors yield white so a bad value never turns into black.
func (c Color) NRGBA(opacity float64) color.NRGBA {
	col, err := c.Parse()
	if err != nil {
		col = colorful.Color{R: 1, G: 1, B: 1}
	}
	r, g, b := col.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(clamp01(opacity)*255 + 0.5)}
}

// Opaque returns the color composited over white at the given opacity.
// Page backgrounds are printed on white paper, so this is the flat color
// used to fill rotation corners and flattened exports.
func (c Color) Opaque(opacity float64) color.NRGBA {
	col, err := c.Parse()
	if err != nil {
		col = colorful.Color{R: 1, G: 1, B: 1}
	}
	white := colorful.Color{R: 1, G: 1, B: 1}
	r, g, b := white.BlendRgb(col, clamp01(opacity)).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// Hex returns the normalized "#rrggbb" form.
func (c Color) Hex() string {
	col, err := c.Parse()
	if err != nil {
		return "#ffffff"
	}
	return col.Clamped().Hex()
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
