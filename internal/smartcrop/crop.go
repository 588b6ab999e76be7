package smartcrop

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

// Result is a cropped photo resized exactly to the target size.
type Result struct {
	Image    *image.NRGBA
	Plan     Plan
	Strategy string
}

// Cropper runs the crop strategies in order and returns the first success.
type Cropper struct {
	Params Params
	Fill   color.NRGBA // extension margin color
	Logger zerolog.Logger
}

// NewCropper returns a cropper with default parameters and a white fill.
func NewCropper(logger zerolog.Logger) *Cropper {
	return &Cropper{
		Params: DefaultParams(),
		Fill:   color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		Logger: logger,
	}
}

type strategy struct {
	name string
	run  func(c *Cropper, img image.Image, targetW, targetH int, faces []FaceBox) (Result, error)
}

var strategies = []strategy{
	{name: StrategyFaceAware, run: faceAwareStrategy},
	{name: StrategyCentered, run: centeredStrategy},
	{name: StrategyFill, run: fillStrategy},
}

// Strategy names as reported in Result.Strategy.
const (
	StrategyFaceAware = "face-aware"
	StrategyCentered  = "centered"
	StrategyFill      = "fill"
)

// Crop returns img cropped to targetW×targetH. Face boxes are optional.
// Only an invalid target size or an empty image fails.
func (c *Cropper) Crop(img image.Image, targetW, targetH int, faces []FaceBox) (Result, error) {
	if img == nil || img.Bounds().Empty() {
		return Result{}, fmt.Errorf("%w: empty image", errInvalidSize)
	}
	if targetW <= 0 || targetH <= 0 {
		return Result{}, fmt.Errorf("%w: target %dx%d", errInvalidSize, targetW, targetH)
	}
	if img.Bounds().Min != (image.Point{}) {
		img = imaging.Clone(img)
	}

	var errs []error
	for _, s := range strategies {
		res, err := c.try(s, img, targetW, targetH, faces)
		if err == nil {
			res.Strategy = s.name
			return res, nil
		}
		if !errors.Is(err, errNoFaces) {
			c.Logger.Warn().Err(err).Str("strategy", s.name).Msg("crop strategy failed, falling back")
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}
	return Result{}, errors.Join(errs...)
}

func (c *Cropper) try(s strategy, img image.Image, targetW, targetH int, faces []FaceBox) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.run(c, img, targetW, targetH, faces)
}

func faceAwareStrategy(c *Cropper, img image.Image, targetW, targetH int, faces []FaceBox) (Result, error) {
	if len(faces) == 0 {
		return Result{}, errNoFaces
	}
	b := img.Bounds()
	plan, err := c.Params.FaceAware(b.Dx(), b.Dy(), targetW, targetH, faces)
	if err != nil {
		return Result{}, err
	}
	return Result{Image: c.extract(img, plan.Crop, targetW, targetH), Plan: plan}, nil
}

func centeredStrategy(c *Cropper, img image.Image, targetW, targetH int, _ []FaceBox) (Result, error) {
	b := img.Bounds()
	plan, err := c.Params.Centered(b.Dx(), b.Dy(), targetW, targetH)
	if err != nil {
		return Result{}, err
	}
	return Result{Image: c.extract(img, plan.Crop, targetW, targetH), Plan: plan}, nil
}

func fillStrategy(_ *Cropper, img image.Image, targetW, targetH int, _ []FaceBox) (Result, error) {
	return Result{Image: imaging.Fill(img, targetW, targetH, imaging.Center, imaging.Lanczos)}, nil
}

// stretchTolerance is the largest relative aspect difference resized away
// without bars; it absorbs integer rounding of the crop rectangle.
const stretchTolerance = 0.02

// extract cuts the crop out of img and resizes it to exactly targetW×targetH.
func (c *Cropper) extract(img image.Image, crop CropRectangle, targetW, targetH int) *image.NRGBA {
	if !crop.Extended {
		return c.letterbox(imaging.Crop(img, crop.Rect()), targetW, targetH)
	}

	visible := crop.Rect().Intersect(img.Bounds())
	canvas := imaging.New(crop.CanvasW, crop.CanvasH, c.Fill)
	if visible.Empty() {
		return canvas
	}
	sx := float64(crop.CanvasW) / float64(crop.W)
	sy := float64(crop.CanvasH) / float64(crop.H)
	w := max(1, int(float64(visible.Dx())*sx+0.5))
	h := max(1, int(float64(visible.Dy())*sy+0.5))
	part := imaging.Resize(imaging.Crop(img, visible), w, h, imaging.Lanczos)
	return imaging.Paste(canvas, part, image.Pt(crop.OffsetX, crop.OffsetY))
}

// letterbox scales src to fit targetW×targetH and centres it on the fill
// color. A lenient crop keeps its proportions instead of being stretched.
func (c *Cropper) letterbox(src *image.NRGBA, targetW, targetH int) *image.NRGBA {
	b := src.Bounds()
	srcAR := float64(b.Dx()) / float64(b.Dy())
	targetAR := float64(targetW) / float64(targetH)
	if math.Abs(srcAR/targetAR-1) <= stretchTolerance {
		return imaging.Resize(src, targetW, targetH, imaging.Lanczos)
	}

	scale := math.Min(float64(targetW)/float64(b.Dx()), float64(targetH)/float64(b.Dy()))
	w := min(targetW, max(1, int(float64(b.Dx())*scale+0.5)))
	h := min(targetH, max(1, int(float64(b.Dy())*scale+0.5)))
	canvas := imaging.New(targetW, targetH, c.Fill)
	part := imaging.Resize(src, w, h, imaging.Lanczos)
	return imaging.Paste(canvas, part, image.Pt((targetW-w)/2, (targetH-h)/2))
}
