package mariadb

import (
	"context"
	"fmt"
)

// FaceMarker is a face region of a photo's primary file. Coordinates are
// relative to the file (0-1); Score is PhotoPrism's detection score.
type FaceMarker struct {
	UID   string
	X     float64
	Y     float64
	W     float64
	H     float64
	Score int
}

const faceMarkersQuery = `
	SELECT m.marker_uid, m.x, m.y, m.w, m.h, m.score
	FROM markers m
	JOIN files f ON f.file_uid = m.file_uid
	WHERE f.photo_uid = ?
	  AND f.file_primary = 1
	  AND m.marker_type = 'face'
	  AND m.marker_invalid = 0
	ORDER BY m.marker_uid
`

// GetFaceMarkers returns the valid face markers of a photo's primary file.
func (p *Pool) GetFaceMarkers(ctx context.Context, photoUID string) ([]FaceMarker, error) {
	rows, err := p.db.QueryContext(ctx, faceMarkersQuery, photoUID)
	if err != nil {
		return nil, fmt.Errorf("query face markers: %w", err)
	}
	defer rows.Close()

	var markers []FaceMarker
	for rows.Next() {
		var m FaceMarker
		if err := rows.Scan(&m.UID, &m.X, &m.Y, &m.W, &m.H, &m.Score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return markers, nil
}
