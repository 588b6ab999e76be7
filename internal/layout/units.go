// Package layout converts between layout units and renderer coordinate spaces.
//
// Theme documents describe pages in millimeters with the origin at the
// top-left corner and Y growing downwards. Renderers (TikZ, PDF) use a
// bottom-up space, and rasterizers work in pixels at a given resolution.
package layout

import "math"

// One inch expressed in each unit. Every conversion is derived from these.
const (
	PointsPerInch = 72.0
	MMPerInch     = 25.4
	PixelsPerInch = 96.0 // CSS reference pixel
)

func MMToPt(mm float64) float64 { return mm * PointsPerInch / MMPerInch }
func PtToMM(pt float64) float64 { return pt * MMPerInch / PointsPerInch }
func MMToPx(mm float64) float64 { return mm * PixelsPerInch / MMPerInch }
func PxToMM(px float64) float64 { return px * MMPerInch / PixelsPerInch }
func PtToPx(pt float64) float64 { return pt * PixelsPerInch / PointsPerInch }
func PxToPt(px float64) float64 { return px * PointsPerInch / PixelsPerInch }

// MMToDots converts a length to device pixels at the given resolution,
// rounded to the nearest pixel and never below 1.
func MMToDots(mm, dpi float64) int {
	n := int(math.Round(mm * dpi / MMPerInch))
	if n < 1 {
		return 1
	}
	return n
}

// EffectiveDPI returns the resolution a source of srcPx pixels reaches when
// printed across mm millimeters.
func EffectiveDPI(srcPx int, mm float64) float64 {
	if mm <= 0 {
		return 0
	}
	return float64(srcPx) / (mm / MMPerInch)
}
