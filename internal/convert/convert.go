// Package convert rasterizes composed pages and flattens them into PNG or
// JPEG images.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/memorybook/internal/document"
	"github.com/kozaktomas/memorybook/internal/layout"
	"github.com/kozaktomas/memorybook/internal/shape"
	"github.com/kozaktomas/memorybook/internal/textfit"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

// Format is a flattened image format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat accepts a format name or a file name with an image extension.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimPrefix(filepath.Ext(s), "."))
	if name == "" {
		name = strings.ToLower(s)
	}
	switch name {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

func (f Format) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return ".png"
}

// Rasterizer draws display-list pages into bitmaps. It never rotates
// natively: rotated items are pre-rotated before drawing.
type Rasterizer struct {
	DPI     float64
	Text    *textfit.Renderer
	Quality int // JPEG quality
	Logger  zerolog.Logger
}

func NewRasterizer(dpi float64, text *textfit.Renderer, logger zerolog.Logger) *Rasterizer {
	return &Rasterizer{DPI: dpi, Text: text, Quality: 92, Logger: logger}
}

// RenderPage draws every item of the page in order onto an opaque canvas of
// the page background.
func (r *Rasterizer) RenderPage(ctx context.Context, page *document.Page) (*image.NRGBA, error) {
	if r.DPI <= 0 {
		return nil, fmt.Errorf("invalid dpi %v", r.DPI)
	}
	w := layout.MMToDots(page.Size.W, r.DPI)
	h := layout.MMToDots(page.Size.H, r.DPI)
	bg := page.Background
	bg.A = 255
	canvas := imaging.New(w, h, bg)

	for i, it := range page.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.drawItem(canvas, it); err != nil {
			return nil, fmt.Errorf("page %d item %d (%s): %w", page.Number, i, it.Kind, err)
		}
	}
	return canvas, nil
}

func (r *Rasterizer) drawItem(canvas *image.NRGBA, it document.Item) error {
	if it.Rotated() && it.Kind == document.KindRect {
		it = document.RasterizeRect(it, r.DPI)
	}
	if it.Rotated() && it.Kind == document.KindText {
		img, err := r.renderText(it)
		if err != nil || img == nil {
			return err
		}
		it = document.Image(it.Box, img, it.Rotation, color.NRGBA{}, it.Slot)
	}
	if it.Rotated() {
		rotated, err := document.PreRotate(it)
		if err != nil {
			return err
		}
		it = rotated
	}

	x, y, w, h := it.Box.Scale(r.DPI)
	dst := image.Rect(x, y, x+w, y+h)

	switch it.Kind {
	case document.KindRect:
		if it.Fill.A > 0 {
			draw.Draw(canvas, dst, image.NewUniform(it.Fill), image.Point{}, draw.Over)
		}
		if it.StrokeMM > 0 && it.Stroke.A > 0 {
			sw := layout.MMToDots(it.StrokeMM, r.DPI)
			document.StrokeInside(canvas, dst.Intersect(canvas.Bounds()), sw, it.Stroke)
		}
	case document.KindImage:
		if it.Image == nil {
			return fmt.Errorf("image item without image")
		}
		drawScaled(canvas, dst, it.Image)
	case document.KindText:
		img, err := r.renderText(it)
		if err != nil || img == nil {
			return err
		}
		drawScaled(canvas, dst, img)
	}
	return nil
}

// renderText rasterizes a text item at the page resolution. It returns nil
// when there is nothing to draw.
func (r *Rasterizer) renderText(it document.Item) (*image.NRGBA, error) {
	if it.Text == nil || r.Text == nil {
		return nil, nil
	}
	return r.Text.Render(*it.Text, r.DPI/layout.PixelsPerInch, it.Color, it.Align)
}

// drawScaled composites src over dst, scaling when the sizes differ.
func drawScaled(canvas *image.NRGBA, dst image.Rectangle, src image.Image) {
	sb := src.Bounds()
	if sb.Dx() == dst.Dx() && sb.Dy() == dst.Dy() {
		draw.Draw(canvas, dst, src, sb.Min, draw.Over)
		return
	}
	draw.CatmullRom.Scale(canvas, dst, src, sb, draw.Over, nil)
}

// Flatten renders the page and encodes it as an opaque image.
func (r *Rasterizer) Flatten(ctx context.Context, page *document.Page, format Format) ([]byte, error) {
	img, err := r.RenderPage(ctx, page)
	if err != nil {
		return nil, err
	}
	return Encode(img, format, r.Quality, page.Background)
}

// Encode writes img in the given format. Transparent pixels are composited
// onto bg first.
func Encode(img image.Image, format Format, quality int, bg color.NRGBA) ([]byte, error) {
	flat := shape.Flatten(img, bg)

	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		if quality <= 0 {
			quality = 92
		}
		err = imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatPNG:
		err = imaging.Encode(&buf, flat, imaging.PNG)
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
