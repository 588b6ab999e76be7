// Package faces finds face boxes for photos. Boxes come from PhotoPrism's
// markers (over the API or straight from its database) or from a face
// embedding service; all are normalized to the upright photo.
package faces

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/kozaktomas/memorybook/internal/smartcrop"
	"github.com/patrickmn/go-cache"
)

// Ref identifies the photo to look at. Detectors backed by an index only
// need ID; pixel-based detectors need Image (upright).
type Ref struct {
	ID    string
	Image image.Image
}

// Detector returns the normalized face boxes of a photo. No faces is not an
// error.
type Detector interface {
	Detect(ctx context.Context, ref Ref) ([]smartcrop.FaceBox, error)
}

// ErrNoImage is returned by pixel-based detectors when the ref has no image.
var ErrNoImage = errors.New("ref carries no image")

// scoreToConfidence maps PhotoPrism's integer marker score to [0,1].
func scoreToConfidence(score int) float64 {
	if score <= 0 {
		return 1 // manual markers have no score
	}
	return min(1, float64(score)/100)
}

// clampBox keeps a box inside the unit square and drops empty ones.
func clampBox(x, y, w, h, confidence float64) (smartcrop.FaceBox, bool) {
	x0, y0 := max(0, x), max(0, y)
	x1, y1 := min(1, x+w), min(1, y+h)
	if x1 <= x0 || y1 <= y0 {
		return smartcrop.FaceBox{}, false
	}
	return smartcrop.FaceBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0, Confidence: confidence}, true
}

// Chain asks each detector in order and returns the first answer that
// succeeds with at least one face. Errors are returned only when every
// detector failed.
type Chain []Detector

func (c Chain) Detect(ctx context.Context, ref Ref) ([]smartcrop.FaceBox, error) {
	var errs []error
	for i, d := range c {
		boxes, err := d.Detect(ctx, ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("detector %d: %w", i, err))
			continue
		}
		if len(boxes) > 0 {
			return boxes, nil
		}
	}
	if len(errs) == len(c) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

// MinConfidence drops boxes scored below a threshold.
type MinConfidence struct {
	Next      Detector
	Threshold float64
}

func (m MinConfidence) Detect(ctx context.Context, ref Ref) ([]smartcrop.FaceBox, error) {
	boxes, err := m.Next.Detect(ctx, ref)
	if err != nil {
		return nil, err
	}
	kept := make([]smartcrop.FaceBox, 0, len(boxes))
	for _, b := range boxes {
		if b.Confidence >= m.Threshold {
			kept = append(kept, b)
		}
	}
	return kept, nil
}

// Cached memoizes successful detections by photo ID.
type Cached struct {
	next  Detector
	cache *cache.Cache
}

func NewCached(next Detector, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (c *Cached) Detect(ctx context.Context, ref Ref) ([]smartcrop.FaceBox, error) {
	if ref.ID == "" {
		return c.next.Detect(ctx, ref)
	}
	if v, ok := c.cache.Get(ref.ID); ok {
		return v.([]smartcrop.FaceBox), nil
	}
	boxes, err := c.next.Detect(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(ref.ID, boxes)
	return boxes, nil
}
