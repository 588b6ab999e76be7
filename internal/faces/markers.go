package faces

import (
	"context"
	"fmt"

	"github.com/kozaktomas/memorybook/internal/database/mariadb"
	"github.com/kozaktomas/memorybook/internal/photoprism"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
)

// MarkerSource is the part of the PhotoPrism client used here.
type MarkerSource interface {
	GetFaceMarkers(ctx context.Context, photoUID string) ([]photoprism.Marker, error)
}

// PhotoPrismDetector reads face markers over the PhotoPrism API.
type PhotoPrismDetector struct {
	Source MarkerSource
}

func (d PhotoPrismDetector) Detect(ctx context.Context, ref Ref) ([]smartcrop.FaceBox, error) {
	markers, err := d.Source.GetFaceMarkers(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("photoprism markers: %w", err)
	}
	boxes := make([]smartcrop.FaceBox, 0, len(markers))
	for _, m := range markers {
		if b, ok := clampBox(m.X, m.Y, m.W, m.H, scoreToConfidence(m.Score)); ok {
			boxes = append(boxes, b)
		}
	}
	return boxes, nil
}

// MarkerStore is the part of the MariaDB pool used here.
type MarkerStore interface {
	GetFaceMarkers(ctx context.Context, photoUID string) ([]mariadb.FaceMarker, error)
}

// DatabaseDetector reads face markers from PhotoPrism's MariaDB index.
type DatabaseDetector struct {
	Store MarkerStore
}

func (d DatabaseDetector) Detect(ctx context.Context, ref Ref) ([]smartcrop.FaceBox, error) {
	markers, err := d.Store.GetFaceMarkers(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("database markers: %w", err)
	}
	boxes := make([]smartcrop.FaceBox, 0, len(markers))
	for _, m := range markers {
		if b, ok := clampBox(m.X, m.Y, m.W, m.H, scoreToConfidence(m.Score)); ok {
			boxes = append(boxes, b)
		}
	}
	return boxes, nil
}
