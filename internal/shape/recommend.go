package shape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/memorybook/internal/theme"
	"github.com/patrickmn/go-cache"
)

// RecommendRequest is sent to a shape recommender.
type RecommendRequest struct {
	Ref           string
	Image         []byte // JPEG, at most recommendMaxPx on the long side
	Shape         theme.Shape
	Width, Height int
}

// Recommendation is a recommender's answer. Centers are normalized to the
// photo; Zoom 1 means the largest crop of the target aspect ratio.
type Recommendation struct {
	BestShape  theme.Shape `json:"best_shape"`
	CenterX    float64     `json:"center_x"`
	CenterY    float64     `json:"center_y"`
	Zoom       float64     `json:"zoom"`
	FitQuality float64     `json:"fit_quality"`
}

// Recommender suggests a shape and crop for a photo.
type Recommender interface {
	Recommend(ctx context.Context, req RecommendRequest) (*Recommendation, error)
}

const (
	recommendMaxPx = 800
	maxZoom        = 10
)

var errBadRecommendation = errors.New("invalid recommendation")

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Validate checks that the values are usable for a crop.
func (r *Recommendation) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: empty", errBadRecommendation)
	}
	if !unit(r.CenterX) || !unit(r.CenterY) {
		return fmt.Errorf("%w: center (%v, %v) outside the photo", errBadRecommendation, r.CenterX, r.CenterY)
	}
	if math.IsNaN(r.Zoom) || r.Zoom <= 0 || r.Zoom > maxZoom {
		return fmt.Errorf("%w: zoom %v", errBadRecommendation, r.Zoom)
	}
	if r.BestShape > theme.ShapeMagic {
		return fmt.Errorf("%w: shape %v", errBadRecommendation, r.BestShape)
	}
	return nil
}

// Crop returns the source rectangle for a w×h target: the photo size divided
// by the zoom, narrowed to the target aspect ratio, centered on the
// recommended point and clamped to the photo. Zoom grows until the crop
// fits.
func (r *Recommendation) Crop(size image.Point, w, h int) (image.Rectangle, error) {
	if err := r.Validate(); err != nil {
		return image.Rectangle{}, err
	}
	if size.X <= 0 || size.Y <= 0 || w <= 0 || h <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: photo %v, target %dx%d", errBadRecommendation, size, w, h)
	}
	iw, ih := float64(size.X), float64(size.Y)
	ar := float64(w) / float64(h)

	cw, ch := iw/r.Zoom, ih/r.Zoom
	if cw/ch > ar {
		cw = ch * ar
	} else {
		ch = cw / ar
	}
	// zoom in until the crop fits inside the photo
	if f := math.Max(cw/iw, ch/ih); f > 1 {
		cw, ch = cw/f, ch/f
	}
	if cw < 1 || ch < 1 {
		return image.Rectangle{}, fmt.Errorf("%w: crop smaller than a pixel", errBadRecommendation)
	}

	x := math.Max(0, math.Min(r.CenterX*iw-cw/2, iw-cw))
	y := math.Max(0, math.Min(r.CenterY*ih-ch/2, ih-ch))
	x0, y0 := int(math.Round(x)), int(math.Round(y))
	rect := image.Rect(x0, y0, x0+int(math.Round(cw)), y0+int(math.Round(ch)))
	return rect.Intersect(image.Rect(0, 0, size.X, size.Y)), nil
}

func encodeForRecommendation(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() > recommendMaxPx || b.Dy() > recommendMaxPx {
		img = imaging.Fit(img, recommendMaxPx, recommendMaxPx, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// CachedRecommender memoizes recommendations per asset, shape and size.
// Requests without a Ref are not cached.
type CachedRecommender struct {
	next  Recommender
	cache *cache.Cache
}

func NewCachedRecommender(next Recommender, ttl time.Duration) *CachedRecommender {
	return &CachedRecommender{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (c *CachedRecommender) Recommend(ctx context.Context, req RecommendRequest) (*Recommendation, error) {
	if req.Ref == "" {
		return c.next.Recommend(ctx, req)
	}
	key := fmt.Sprintf("%s|%s|%dx%d", req.Ref, req.Shape, req.Width, req.Height)
	if v, ok := c.cache.Get(key); ok {
		rec := *v.(*Recommendation)
		return &rec, nil
	}
	rec, err := c.next.Recommend(ctx, req)
	if err != nil {
		return nil, err
	}
	stored := *rec
	c.cache.SetDefault(key, &stored)
	return rec, nil
}
