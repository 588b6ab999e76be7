// Package assets provides the photo sources of the compositor: a PhotoPrism
// library and a local directory.
package assets

import (
	"fmt"
	"path"
	"strings"

	"github.com/kozaktomas/memorybook/internal/compositor"
)

// imageExtensions are the file types the decoder understands.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// IsImage reports whether name looks like a supported image file.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// credentialsError marks err as a credentials failure for the compositor.
func credentialsError(err error) error {
	return fmt.Errorf("%w: %w", compositor.ErrCredentials, err)
}

var (
	_ compositor.ThumbnailLoader = (*Dir)(nil)
	_ compositor.ThumbnailLoader = (*PhotoPrism)(nil)
)
