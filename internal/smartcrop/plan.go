// Package smartcrop computes face-preserving crops.
//
// Face boxes are normalized to the upright image. The padded union of all
// faces always ends up inside the crop; when the target aspect ratio makes
// that impossible within the image, the crop extends past the image edge and
// the uncovered margin is filled with a solid color.
package smartcrop

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// FaceBox is a detected face in normalized [0,1] coordinates.
type FaceBox struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (f FaceBox) valid() bool {
	return f.W > 0 && f.H > 0 && f.X < 1 && f.Y < 1 && f.X+f.W > 0 && f.Y+f.H > 0 &&
		!math.IsNaN(f.X+f.Y+f.W+f.H)
}

// Params holds the empirically tuned constants of the face-aware crop.
type Params struct {
	FacePadding         float64 // padding around each face, fraction of its own size
	MismatchThreshold   float64 // relative aspect-ratio difference that enables lenient mode
	LenientTolerance    float64 // how far the crop ratio may drift towards the image ratio
	TopBufferRatio      float64 // headroom above the topmost face, fraction of its height
	MinTopBufferPx      float64
	TopHalfBoost        float64 // headroom multiplier when every face sits in the top half
	MaxSideBufferPx     float64
	SmallTargetPx       int     // both target sides at or below this count as a small target
	SmallTopMarginRatio float64 // minimum headroom for small targets, fraction of image height
	SmallTopMarginMinPx float64
}

func DefaultParams() Params {
	return Params{
		FacePadding:         0.30,
		MismatchThreshold:   0.30,
		LenientTolerance:    0.20,
		TopBufferRatio:      0.50,
		MinTopBufferPx:      100,
		TopHalfBoost:        1.5,
		MaxSideBufferPx:     50,
		SmallTargetPx:       250,
		SmallTopMarginRatio: 0.15,
		SmallTopMarginMinPx: 150,
	}
}

// CropRectangle is the source region to extract, in source pixels. When
// Extended is set the region reaches past the image and the output is a
// CanvasW×CanvasH canvas with the image part pasted at (OffsetX, OffsetY)
// (output pixels); the rest is fill color.
type CropRectangle struct {
	X, Y, W, H       int
	Extended         bool
	CanvasW, CanvasH int
	OffsetX, OffsetY int
}

func (c CropRectangle) Rect() image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+c.W, c.Y+c.H)
}

// Plan is the geometry chosen for one photo.
type Plan struct {
	Crop     CropRectangle
	FaceSafe image.Rectangle // padded faces plus headroom and side buffers; empty without faces
	SafeTop  int             // the crop top never lies below this row
	Lenient  bool
}

var errInvalidSize = errors.New("invalid size")

type frect struct{ x0, y0, x1, y1 float64 }

func (r frect) w() float64 { return r.x1 - r.x0 }
func (r frect) h() float64 { return r.y1 - r.y0 }

// maxCrop returns the largest w×h with aspect ratio ar inside iw×ih.
func maxCrop(iw, ih, ar float64) (float64, float64) {
	if iw/ih > ar {
		return ih * ar, ih
	}
	return iw, iw / ar
}

// cropRatio picks the crop aspect ratio. Close ratios crop exactly; far
// apart ratios move towards the image ratio by at most LenientTolerance so
// more of the photo survives.
func (p Params) cropRatio(imageAR, targetAR float64) (float64, bool) {
	if math.Abs(imageAR-targetAR)/targetAR <= p.MismatchThreshold {
		return targetAR, false
	}
	if imageAR > targetAR {
		return math.Min(imageAR, targetAR*(1+p.LenientTolerance)), true
	}
	return math.Max(imageAR, targetAR/(1+p.LenientTolerance)), true
}

// Centered returns the maximum centered crop for the target, used when no
// face is known.
func (p Params) Centered(imgW, imgH, targetW, targetH int) (Plan, error) {
	if imgW <= 0 || imgH <= 0 || targetW <= 0 || targetH <= 0 {
		return Plan{}, fmt.Errorf("%w: image %dx%d, target %dx%d", errInvalidSize, imgW, imgH, targetW, targetH)
	}
	iw, ih := float64(imgW), float64(imgH)
	ar, lenient := p.cropRatio(iw/ih, float64(targetW)/float64(targetH))
	w, h := maxCrop(iw, ih, ar)
	return Plan{
		Crop:    toCrop((iw-w)/2, (ih-h)/2, w, h, imgW, imgH, targetW, targetH),
		Lenient: lenient,
	}, nil
}

// FaceAware returns a crop that keeps every padded face box, with headroom
// above the topmost face. The top edge is never pushed below the headroom
// threshold: if the region does not fit the nominal crop, the crop grows
// (keeping its aspect ratio), and if it then exceeds the image it is marked
// Extended.
func (p Params) FaceAware(imgW, imgH, targetW, targetH int, faces []FaceBox) (Plan, error) {
	base, err := p.Centered(imgW, imgH, targetW, targetH)
	if err != nil {
		return Plan{}, err
	}
	iw, ih := float64(imgW), float64(imgH)

	var union frect
	topY, topH := math.Inf(1), 0.0
	allTopHalf := true
	n := 0
	for _, f := range faces {
		if !f.valid() {
			continue
		}
		fx, fy, fw, fh := f.X*iw, f.Y*ih, f.W*iw, f.H*ih
		padded := frect{
			x0: math.Max(0, fx-fw*p.FacePadding),
			y0: math.Max(0, fy-fh*p.FacePadding),
			x1: math.Min(iw, fx+fw*(1+p.FacePadding)),
			y1: math.Min(ih, fy+fh*(1+p.FacePadding)),
		}
		if n == 0 {
			union = padded
		} else {
			union = frect{
				x0: math.Min(union.x0, padded.x0),
				y0: math.Min(union.y0, padded.y0),
				x1: math.Max(union.x1, padded.x1),
				y1: math.Max(union.y1, padded.y1),
			}
		}
		if fy < topY {
			topY, topH = fy, fh
		}
		if fy+fh/2 >= ih/2 {
			allTopHalf = false
		}
		n++
	}
	if n == 0 {
		return Plan{}, errNoFaces
	}

	topBuffer := math.Max(topH*p.TopBufferRatio, p.MinTopBufferPx)
	if allTopHalf {
		topBuffer *= p.TopHalfBoost
	}
	if targetW <= p.SmallTargetPx && targetH <= p.SmallTargetPx {
		topBuffer = math.Max(topBuffer, math.Max(ih*p.SmallTopMarginRatio, p.SmallTopMarginMinPx))
	}
	sideBuffer := math.Min(topBuffer, p.MaxSideBufferPx)

	safeTop := math.Max(0, math.Min(union.y0, topY-topBuffer))
	region := frect{
		x0: math.Max(0, union.x0-sideBuffer),
		y0: safeTop,
		x1: math.Min(iw, union.x1+sideBuffer),
		y1: union.y1,
	}

	c := base.Crop
	w, h := float64(c.W), float64(c.H)
	if region.w() > w || region.h() > h {
		s := math.Max(region.w()/w, region.h()/h)
		w, h = w*s, h*s
	}
	x := placeAxis(float64(c.X), w, region.x0, region.x1, iw)
	y := placeAxis(float64(c.Y), h, region.y0, region.y1, ih)

	return Plan{
		Crop: toCrop(x, y, w, h, imgW, imgH, targetW, targetH),
		FaceSafe: image.Rect(
			int(math.Floor(region.x0)), int(math.Floor(region.y0)),
			int(math.Ceil(region.x1)), int(math.Ceil(region.y1)),
		),
		SafeTop: int(math.Floor(safeTop)),
		Lenient: base.Lenient,
	}, nil
}

var errNoFaces = errors.New("no usable face boxes")

// placeAxis positions a crop of length size along one axis so it contains
// [r0, r1], moving as little as possible from start. A crop longer than the
// image is centered on it.
func placeAxis(start, size, r0, r1, limit float64) float64 {
	if size > limit {
		return (limit - size) / 2
	}
	lo := math.Max(r1-size, 0)
	hi := math.Min(r0, limit-size)
	return math.Max(lo, math.Min(start, hi))
}

// toCrop snaps a float crop outwards to whole pixels and fills in the
// extension canvas when it leaves the image.
func toCrop(x, y, w, h float64, imgW, imgH, targetW, targetH int) CropRectangle {
	const eps = 1e-6
	x0 := int(math.Floor(x + eps))
	y0 := int(math.Floor(y + eps))
	x1 := int(math.Ceil(x + w - eps))
	y1 := int(math.Ceil(y + h - eps))

	extended := x0 < 0 || y0 < 0 || x1 > imgW || y1 > imgH
	c := CropRectangle{X: x0, Y: y0, W: max(1, x1-x0), H: max(1, y1-y0)}
	if !extended {
		return c
	}
	c.Extended = true
	c.CanvasW, c.CanvasH = targetW, targetH
	c.OffsetX = int(math.Round(float64(max(0, -x0)) * float64(targetW) / float64(c.W)))
	c.OffsetY = int(math.Round(float64(max(0, -y0)) * float64(targetH) / float64(c.H)))
	return c
}
