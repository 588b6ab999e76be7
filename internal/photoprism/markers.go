package photoprism

import "context"

// GetPhotoMarkers returns the valid markers of the photo's primary file.
func (pp *PhotoPrism) GetPhotoMarkers(ctx context.Context, photoUID string) ([]Marker, error) {
	details, err := pp.GetPhotoDetails(ctx, photoUID)
	if err != nil {
		return nil, err
	}
	primary := details.PrimaryFile()
	if primary == nil {
		return nil, nil
	}

	markers := make([]Marker, 0, len(primary.Markers))
	for _, m := range primary.Markers {
		// Skip invalid/deleted markers
		if m.Invalid {
			continue
		}
		markers = append(markers, m)
	}
	return markers, nil
}

// GetFaceMarkers is GetPhotoMarkers restricted to face markers.
func (pp *PhotoPrism) GetFaceMarkers(ctx context.Context, photoUID string) ([]Marker, error) {
	markers, err := pp.GetPhotoMarkers(ctx, photoUID)
	if err != nil {
		return nil, err
	}
	faces := markers[:0]
	for _, m := range markers {
		if m.Type == MarkerTypeFace {
			faces = append(faces, m)
		}
	}
	return faces, nil
}
