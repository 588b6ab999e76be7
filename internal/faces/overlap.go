package faces

import (
	"context"
	"slices"

	"github.com/kozaktomas/memorybook/internal/smartcrop"
)

// DefaultOverlap is the IoU above which two boxes are taken as one face.
const DefaultOverlap = 0.5

// Dedupe merges boxes that cover the same face, as PhotoPrism does when a
// manual marker sits on top of a detected one. The most confident box of
// each overlapping group wins.
type Dedupe struct {
	Next      Detector
	Threshold float64 // IoU; zero means DefaultOverlap
}

func (d Dedupe) Detect(ctx context.Context, ref Ref) ([]smartcrop.FaceBox, error) {
	boxes, err := d.Next.Detect(ctx, ref)
	if err != nil || len(boxes) < 2 {
		return boxes, err
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultOverlap
	}

	sorted := slices.Clone(boxes)
	slices.SortStableFunc(sorted, func(a, b smartcrop.FaceBox) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	kept := make([]smartcrop.FaceBox, 0, len(sorted))
	for _, b := range sorted {
		if !slices.ContainsFunc(kept, func(k smartcrop.FaceBox) bool { return iou(k, b) > threshold }) {
			kept = append(kept, b)
		}
	}
	return kept, nil
}

// iou computes intersection over union of two normalized boxes.
func iou(a, b smartcrop.FaceBox) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.W, b.X+b.W)
	y2 := min(a.Y+a.H, b.Y+b.H)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.W*a.H + b.W*b.H - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
