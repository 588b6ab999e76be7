package assets

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/photoprism"
)

const (
	// DefaultThumbnailSize is the PhotoPrism thumbnail sent to the selector.
	DefaultThumbnailSize = "fit_720"
	// minQuality skips photos PhotoPrism still has in review.
	minQuality = 3
)

// PhotoPrismClient is the part of the PhotoPrism client used here.
type PhotoPrismClient interface {
	GetPhotos(ctx context.Context, q photoprism.PhotoQuery) ([]photoprism.Photo, error)
	GetPhotoDetails(ctx context.Context, photoUID string) (*photoprism.PhotoDetails, error)
	GetPhotoThumbnail(ctx context.Context, thumbHash, size string) ([]byte, string, error)
	GetPhotoDownload(ctx context.Context, photoUID string) ([]byte, string, error)
}

// PhotoPrism serves photos from a PhotoPrism library.
type PhotoPrism struct {
	client    PhotoPrismClient
	thumbSize string
	hashes    *cache.Cache // photo UID -> primary file hash
}

func NewPhotoPrism(client PhotoPrismClient) *PhotoPrism {
	return &PhotoPrism{
		client:    client,
		thumbSize: DefaultThumbnailSize,
		hashes:    cache.New(time.Hour, 10*time.Minute),
	}
}

// List searches the library, or resolves q.IDs one by one.
func (p *PhotoPrism) List(ctx context.Context, q compositor.AssetQuery) ([]compositor.PhotoAsset, error) {
	if len(q.IDs) > 0 {
		return p.listIDs(ctx, q.IDs)
	}

	photos, err := p.client.GetPhotos(ctx, photoprism.PhotoQuery{
		Count:   q.Limit,
		Query:   q.Query,
		Album:   q.Album,
		Order:   "newest",
		Quality: minQuality,
	})
	if err != nil {
		return nil, p.wrap("search photos", err)
	}
	out := make([]compositor.PhotoAsset, 0, len(photos))
	for _, ph := range photos {
		if ph.Type == "video" || ph.Width <= 0 || ph.Height <= 0 {
			continue
		}
		if ph.Hash != "" {
			p.hashes.SetDefault(ph.UID, ph.Hash)
		}
		out = append(out, compositor.PhotoAsset{
			ID:      ph.UID,
			Width:   ph.Width,
			Height:  ph.Height,
			Title:   ph.Title,
			Caption: firstNonEmpty(ph.Caption, ph.Description),
			TakenAt: firstNonEmpty(ph.TakenAtLocal, ph.TakenAt),
			Tags:    tags(ph),
		})
	}
	return out, nil
}

func (p *PhotoPrism) listIDs(ctx context.Context, ids []string) ([]compositor.PhotoAsset, error) {
	out := make([]compositor.PhotoAsset, 0, len(ids))
	for _, id := range ids {
		details, err := p.client.GetPhotoDetails(ctx, id)
		if err != nil {
			if photoprism.IsNotFoundError(err) {
				continue
			}
			return nil, p.wrap("get photo "+id, err)
		}
		primary := details.PrimaryFile()
		if details.Deleted() || primary == nil {
			continue
		}
		p.hashes.SetDefault(id, primary.Hash)
		out = append(out, compositor.PhotoAsset{
			ID:          details.UID,
			Width:       primary.Width,
			Height:      primary.Height,
			Orientation: primary.Orientation,
			Title:       details.Title,
			Caption:     firstNonEmpty(details.Caption, details.Description),
		})
	}
	return out, nil
}

// Load downloads the primary file of a photo.
func (p *PhotoPrism) Load(ctx context.Context, id string) ([]byte, error) {
	data, _, err := p.client.GetPhotoDownload(ctx, id)
	if err != nil {
		return nil, p.wrap("download photo "+id, err)
	}
	return data, nil
}

// Thumbnail returns a small preview of a photo.
func (p *PhotoPrism) Thumbnail(ctx context.Context, id string) ([]byte, error) {
	hash, ok := p.hashes.Get(id)
	if !ok {
		details, err := p.client.GetPhotoDetails(ctx, id)
		if err != nil {
			return nil, p.wrap("get photo "+id, err)
		}
		primary := details.PrimaryFile()
		if primary == nil || primary.Hash == "" {
			return nil, fmt.Errorf("photo %s has no file", id)
		}
		hash = primary.Hash
		p.hashes.SetDefault(id, hash)
	}
	data, _, err := p.client.GetPhotoThumbnail(ctx, hash.(string), p.thumbSize)
	if err != nil {
		return nil, p.wrap("thumbnail of "+id, err)
	}
	return data, nil
}

func (p *PhotoPrism) wrap(op string, err error) error {
	if photoprism.IsUnauthorizedError(err) {
		return credentialsError(fmt.Errorf("photoprism %s: %w", op, err))
	}
	return fmt.Errorf("photoprism %s: %w", op, err)
}

// tags describes where and when a photo was taken.
func tags(ph photoprism.Photo) []string {
	var out []string
	if ph.Country != "" && ph.Country != "zz" {
		out = append(out, ph.Country)
	}
	if ph.Year > 0 {
		out = append(out, fmt.Sprint(ph.Year))
	}
	if ph.Favorite {
		out = append(out, "favorite")
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
