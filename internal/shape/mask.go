package shape

import (
	"image"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
)

// kappa places cubic Bézier control points for a quarter ellipse.
const kappa = 0.5522847498

// ellipseMask returns an alpha mask of the ellipse inscribed in r, sized to
// bounds.
func ellipseMask(bounds image.Rectangle, r image.Rectangle) *image.Alpha {
	z := rasterizer(bounds)
	cx := float32(r.Min.X-bounds.Min.X) + float32(r.Dx())/2
	cy := float32(r.Min.Y-bounds.Min.Y) + float32(r.Dy())/2
	rx, ry := float32(r.Dx())/2, float32(r.Dy())/2
	kx, ky := rx*kappa, ry*kappa

	z.MoveTo(cx+rx, cy)
	z.CubeTo(cx+rx, cy+ky, cx+kx, cy+ry, cx, cy+ry)
	z.CubeTo(cx-kx, cy+ry, cx-rx, cy+ky, cx-rx, cy)
	z.CubeTo(cx-rx, cy-ky, cx-kx, cy-ry, cx, cy-ry)
	z.CubeTo(cx+kx, cy-ry, cx+rx, cy-ky, cx+rx, cy)
	z.ClosePath()
	return rasterize(z, bounds)
}

// roundedRectMask returns an alpha mask of r with corners of the given
// radius in pixels. A radius of zero gives a plain rectangle.
func roundedRectMask(bounds image.Rectangle, r image.Rectangle, radius float64) *image.Alpha {
	z := rasterizer(bounds)
	x0 := float32(r.Min.X - bounds.Min.X)
	y0 := float32(r.Min.Y - bounds.Min.Y)
	x1, y1 := x0+float32(r.Dx()), y0+float32(r.Dy())
	rad := float32(math.Max(0, math.Min(radius, float64(min(r.Dx(), r.Dy()))/2)))
	k := rad * kappa

	z.MoveTo(x0+rad, y0)
	z.LineTo(x1-rad, y0)
	z.CubeTo(x1-rad+k, y0, x1, y0+rad-k, x1, y0+rad)
	z.LineTo(x1, y1-rad)
	z.CubeTo(x1, y1-rad+k, x1-rad+k, y1, x1-rad, y1)
	z.LineTo(x0+rad, y1)
	z.CubeTo(x0+rad-k, y1, x0, y1-rad+k, x0, y1-rad)
	z.LineTo(x0, y0+rad)
	z.CubeTo(x0, y0+rad-k, x0+rad-k, y0, x0+rad, y0)
	z.ClosePath()
	return rasterize(z, bounds)
}

func rasterizer(bounds image.Rectangle) *vector.Rasterizer {
	return vector.NewRasterizer(bounds.Dx(), bounds.Dy())
}

func rasterize(z *vector.Rasterizer, bounds image.Rectangle) *image.Alpha {
	mask := image.NewAlpha(bounds)
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// applyMask draws src through mask onto a transparent canvas of the mask's
// size, src's top-left aligned to at.
func applyMask(src image.Image, mask *image.Alpha, at image.Point) *image.NRGBA {
	out := image.NewNRGBA(mask.Bounds())
	sb := src.Bounds()
	dst := image.Rectangle{Min: at, Max: at.Add(sb.Size())}
	draw.DrawMask(out, dst, src, sb.Min, mask, dst.Min, draw.Over)
	return out
}

// fillMask paints a solid color through mask onto dst.
func fillMask(dst draw.Image, mask *image.Alpha, c image.Image) {
	draw.DrawMask(dst, dst.Bounds(), c, image.Point{}, mask, mask.Bounds().Min, draw.Over)
}
