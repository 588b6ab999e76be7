// Package shape masks cropped photos into their slot shape: circles, ovals,
// rounded rectangles, optionally on a colored border plate.
package shape

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/memorybook/internal/theme"
	"github.com/rs/zerolog"
)

const (
	// DefaultRadiusPercent is the corner radius of rounded shapes when the
	// slot does not set one, as a percentage of the shorter side.
	DefaultRadiusPercent = 15
	// MinBorderPx keeps thin borders visible after downscaling.
	MinBorderPx = 3
	// roundedScale is the working resolution multiplier for rounded shapes.
	roundedScale = 2
)

// Request describes one photo to shape.
type Request struct {
	Ref           string      // asset reference, used as the recommendation cache key
	Source        image.Image // full upright photo, used for recommender-driven crops; may be nil
	Cropped       image.Image // default centered-cover crop at the target size
	Shape         theme.Shape
	Width, Height int     // target size in px
	RadiusPercent float64 // 0 means the default for rounded shapes, no rounding for original
	BorderPx      int     // 0 disables the border plate
	BorderColor   color.NRGBA
}

// Result is a shaped photo with an alpha channel, sized Width×Height.
type Result struct {
	Image          *image.NRGBA
	Shape          theme.Shape // resolved shape, never ShapeMagic
	Recommendation *Recommendation
}

// Processor applies shapes. Recommender may be nil.
type Processor struct {
	Recommender Recommender
	Logger      zerolog.Logger
}

func NewProcessor(rec Recommender, logger zerolog.Logger) *Processor {
	return &Processor{Recommender: rec, Logger: logger}
}

type maskFunc func(req Request, src image.Image) *image.NRGBA

// handlers maps every concrete shape to its masking function. ShapeMagic is
// resolved before dispatch.
var handlers = map[theme.Shape]maskFunc{
	theme.ShapeOriginal: maskOriginal,
	theme.ShapeSquare:   maskSquare,
	theme.ShapeRound:    maskRound,
	theme.ShapeOval:     maskOval,
	theme.ShapeRounded:  maskRounded,
}

var errEmptyTarget = errors.New("empty target size")

// Process shapes req.Cropped, or a recommender-driven crop of req.Source
// when the shape asks for one and the recommendation is usable.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return Result{}, fmt.Errorf("%w: %dx%d", errEmptyTarget, req.Width, req.Height)
	}
	if req.Cropped == nil {
		return Result{}, errors.New("no cropped image")
	}

	var rec *Recommendation
	if wantsRecommendation(req.Shape) && p.Recommender != nil && req.Source != nil {
		rec = p.recommend(ctx, req)
	}

	resolved := Resolve(req.Shape, rec, req.Width, req.Height)
	src := req.Cropped
	if rec != nil {
		if crop, err := rec.Crop(req.Source.Bounds().Size(), req.Width, req.Height); err == nil {
			src = imaging.Resize(imaging.Crop(req.Source, crop.Add(req.Source.Bounds().Min)), req.Width, req.Height, imaging.Lanczos)
		} else {
			p.Logger.Debug().Err(err).Str("ref", req.Ref).Msg("unusable shape recommendation, using default crop")
		}
	}
	if b := src.Bounds(); b.Dx() != req.Width || b.Dy() != req.Height {
		src = imaging.Fill(src, req.Width, req.Height, imaging.Center, imaging.Lanczos)
	}

	return Result{Image: handlers[resolved](req, src), Shape: resolved, Recommendation: rec}, nil
}

func (p *Processor) recommend(ctx context.Context, req Request) *Recommendation {
	data, err := encodeForRecommendation(req.Source)
	if err != nil {
		p.Logger.Warn().Err(err).Str("ref", req.Ref).Msg("encode photo for shape recommendation")
		return nil
	}
	rec, err := p.Recommender.Recommend(ctx, RecommendRequest{
		Ref:    req.Ref,
		Image:  data,
		Shape:  req.Shape,
		Width:  req.Width,
		Height: req.Height,
	})
	if err != nil {
		p.Logger.Warn().Err(err).Str("ref", req.Ref).Msg("shape recommendation failed")
		return nil
	}
	if err := rec.Validate(); err != nil {
		p.Logger.Warn().Err(err).Str("ref", req.Ref).Msg("invalid shape recommendation")
		return nil
	}
	return rec
}

func wantsRecommendation(s theme.Shape) bool {
	switch s {
	case theme.ShapeRound, theme.ShapeOval, theme.ShapeSquare, theme.ShapeMagic:
		return true
	}
	return false
}

// Resolve turns ShapeMagic into a concrete shape: the recommended one when
// present, round for square-ish targets, rounded otherwise.
func Resolve(s theme.Shape, rec *Recommendation, w, h int) theme.Shape {
	if _, ok := handlers[s]; ok && s != theme.ShapeMagic {
		return s
	}
	if rec != nil && rec.BestShape != theme.ShapeMagic {
		if _, ok := handlers[rec.BestShape]; ok {
			return rec.BestShape
		}
	}
	if r := float64(w) / float64(h); r >= 0.9 && r <= 1.1 {
		return theme.ShapeRound
	}
	return theme.ShapeRounded
}

func radiusPx(percent float64, w, h int) float64 {
	return percent / 100 * float64(min(w, h))
}

// borderWidth returns the effective plate width, 0 when disabled.
func borderWidth(req Request) int {
	if req.BorderPx <= 0 {
		return 0
	}
	bw := max(req.BorderPx, MinBorderPx)
	// leave at least a pixel of photo
	return min(bw, (min(req.Width, req.Height)-1)/2)
}

// composite draws the plate (if any) then the photo through its mask.
func composite(req Request, src image.Image, mask func(bounds, r image.Rectangle, radius float64) *image.Alpha, radius float64) *image.NRGBA {
	bounds := image.Rect(0, 0, req.Width, req.Height)
	bw := borderWidth(req)
	if bw == 0 {
		return applyMask(src, mask(bounds, bounds, radius), image.Point{})
	}

	plate := radius
	if plate > 0 {
		plate += float64(bw)
	}
	out := image.NewNRGBA(bounds)
	fillMask(out, mask(bounds, bounds, plate), image.NewUniform(req.BorderColor))
	inner := bounds.Inset(bw)
	photo := imaging.Fill(src, inner.Dx(), inner.Dy(), imaging.Center, imaging.Lanczos)
	fg := applyMask(photo, mask(bounds, inner, radius), inner.Min)
	return imaging.Overlay(out, fg, image.Point{}, 1)
}

func rectMask(bounds, r image.Rectangle, radius float64) *image.Alpha {
	return roundedRectMask(bounds, r, radius)
}

func ovalMask(bounds, r image.Rectangle, _ float64) *image.Alpha {
	return ellipseMask(bounds, r)
}

func maskOriginal(req Request, src image.Image) *image.NRGBA {
	return composite(req, src, rectMask, radiusPx(req.RadiusPercent, req.Width, req.Height))
}

func maskSquare(req Request, src image.Image) *image.NRGBA {
	return composite(req, src, rectMask, 0)
}

func maskOval(req Request, src image.Image) *image.NRGBA {
	return composite(req, src, ovalMask, 0)
}

// maskRound masks the largest centered circle; the rest of the canvas stays
// transparent.
func maskRound(req Request, src image.Image) *image.NRGBA {
	d := min(req.Width, req.Height)
	x0, y0 := (req.Width-d)/2, (req.Height-d)/2
	square := image.Rect(x0, y0, x0+d, y0+d)
	circle := func(bounds, r image.Rectangle, _ float64) *image.Alpha {
		if r == bounds {
			return ellipseMask(bounds, square)
		}
		return ellipseMask(bounds, square.Inset(r.Min.X-bounds.Min.X))
	}
	return composite(req, src, circle, 0)
}

// maskRounded works at twice the target resolution for smoother corners,
// then downsamples. The source aspect ratio is kept as is.
func maskRounded(req Request, src image.Image) *image.NRGBA {
	percent := req.RadiusPercent
	if percent <= 0 {
		percent = DefaultRadiusPercent
	}
	big := req
	big.Width, big.Height = req.Width*roundedScale, req.Height*roundedScale
	big.BorderPx = borderWidth(req) * roundedScale
	scaled := imaging.Resize(src, big.Width, big.Height, imaging.Lanczos)
	out := composite(big, scaled, rectMask, radiusPx(percent, big.Width, big.Height))
	return imaging.Resize(out, req.Width, req.Height, imaging.Lanczos)
}

// Flatten composites img onto an opaque background so transparent corners
// take the page color when exporting to formats without alpha.
func Flatten(img image.Image, bg color.NRGBA) *image.NRGBA {
	bg.A = 255
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, img, image.Point{}, 1)
}
