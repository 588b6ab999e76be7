package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
)

// Dir serves the images below a local directory. Photo IDs are slash
// separated paths relative to the root; albums are subdirectories.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("photo directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("photo directory %s is not a directory", root)
	}
	return &Dir{root: root}, nil
}

// List returns the images in name order. Query matches file names
// case-insensitively.
func (d *Dir) List(ctx context.Context, q compositor.AssetQuery) ([]compositor.PhotoAsset, error) {
	if len(q.IDs) > 0 {
		out := make([]compositor.PhotoAsset, 0, len(q.IDs))
		for _, id := range q.IDs {
			p, err := d.describe(id)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}

	base := d.root
	if q.Album != "" {
		rel, err := cleanID(q.Album)
		if err != nil {
			return nil, err
		}
		base = filepath.Join(d.root, filepath.FromSlash(rel))
	}
	var ids []string
	err := filepath.WalkDir(base, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !IsImage(e.Name()) {
			return nil
		}
		if q.Query != "" && !strings.Contains(strings.ToLower(e.Name()), strings.ToLower(q.Query)) {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", base, err)
	}
	slices.Sort(ids)
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}

	out := make([]compositor.PhotoAsset, 0, len(ids))
	for _, id := range ids {
		p, err := d.describe(id)
		if err != nil {
			// unreadable files are not candidates
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// describe reads the dimensions and EXIF orientation of one image.
func (d *Dir) describe(id string) (compositor.PhotoAsset, error) {
	data, err := d.read(id)
	if err != nil {
		return compositor.PhotoAsset{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return compositor.PhotoAsset{}, fmt.Errorf("decode %s: %w", id, err)
	}
	name := path.Base(id)
	return compositor.PhotoAsset{
		ID:          id,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Orientation: smartcrop.ReadMetadata(data).Orientation,
		Title:       strings.TrimSuffix(name, path.Ext(name)),
	}, nil
}

func (d *Dir) Load(_ context.Context, id string) ([]byte, error) {
	return d.read(id)
}

// thumbnailSize bounds the longer side of thumbnails.
const thumbnailSize = 512

// Thumbnail returns a small upright JPEG preview of the photo.
func (d *Dir) Thumbnail(_ context.Context, id string) ([]byte, error) {
	data, err := d.read(id)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	var buf bytes.Buffer
	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail %s: %w", id, err)
	}
	return buf.Bytes(), nil
}

func (d *Dir) read(id string) ([]byte, error) {
	rel, err := cleanID(id)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(d.root, filepath.FromSlash(rel)))
}

// cleanID rejects IDs that escape the root.
func cleanID(id string) (string, error) {
	if !fs.ValidPath(id) || id == "." {
		return "", fmt.Errorf("invalid photo id %q", id)
	}
	return id, nil
}
