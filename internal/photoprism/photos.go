package photoprism

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// PhotoQuery filters the photo search.
type PhotoQuery struct {
	Count   int
	Offset  int
	Query   string // e.g. "person:jan-novak", "label:cat", "year:2024"
	Album   string // album UID
	Order   string // "newest", "oldest", "added", "random", ...
	Quality int    // minimum quality score (1-7); photos in review score below 3
}

func (q PhotoQuery) endpoint() string {
	v := url.Values{}
	count := q.Count
	if count <= 0 {
		count = 100
	}
	v.Set("count", fmt.Sprint(count))
	v.Set("offset", fmt.Sprint(q.Offset))
	v.Set("merged", "true")
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	if q.Album != "" {
		v.Set("s", q.Album)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.Quality > 0 {
		v.Set("quality", fmt.Sprint(q.Quality))
	}
	return "photos?" + v.Encode()
}

// GetPhotos runs a photo search.
func (pp *PhotoPrism) GetPhotos(ctx context.Context, q PhotoQuery) ([]Photo, error) {
	result, err := doGetJSON[[]Photo](ctx, pp, q.endpoint())
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// GetPhotoDetails retrieves a photo with its files and markers.
func (pp *PhotoPrism) GetPhotoDetails(ctx context.Context, photoUID string) (*PhotoDetails, error) {
	return doGetJSON[PhotoDetails](ctx, pp, "photos/"+photoUID)
}

// GetPhotoThumbnail downloads a thumbnail for a photo
// size can be one of: tile_50, tile_100, tile_224, tile_500, fit_720,
// tile_1080, fit_1280, fit_1600, fit_1920, fit_2048, fit_2560, fit_3840,
// fit_4096, fit_7680
func (pp *PhotoPrism) GetPhotoThumbnail(ctx context.Context, thumbHash, size string) ([]byte, string, error) {
	return doGetRaw(ctx, pp, fmt.Sprintf("%s/t/%s/%s/%s", pp.Url, thumbHash, pp.downloadToken, size))
}

// GetPhotoDownload downloads the primary file of a photo. Face marker
// coordinates refer to the primary file, so the same file is fetched.
func (pp *PhotoPrism) GetPhotoDownload(ctx context.Context, photoUID string) ([]byte, string, error) {
	details, err := pp.GetPhotoDetails(ctx, photoUID)
	if err != nil {
		return nil, "", fmt.Errorf("could not get photo details: %w", err)
	}
	primary := details.PrimaryFile()
	if primary == nil || primary.Hash == "" {
		return nil, "", errors.New("could not find file hash for photo")
	}
	return pp.GetFileDownload(ctx, primary.Hash)
}

// GetFileDownload downloads a file by hash via the /dl/{hash} endpoint.
func (pp *PhotoPrism) GetFileDownload(ctx context.Context, fileHash string) ([]byte, string, error) {
	return doGetRaw(ctx, pp, fmt.Sprintf("%s/dl/%s?t=%s", pp.Url, fileHash, url.QueryEscape(pp.downloadToken)))
}
