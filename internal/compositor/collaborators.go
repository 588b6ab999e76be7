package compositor

import (
	"context"
	"errors"

	"github.com/kozaktomas/memorybook/internal/ai"
	"github.com/kozaktomas/memorybook/internal/convert"
	"github.com/kozaktomas/memorybook/internal/document"
)

// AssetQuery narrows the candidate pool. When IDs is set only those photos
// are returned, in that order.
type AssetQuery struct {
	Album string
	Query string
	IDs   []string
	Limit int
}

// AssetLoader lists candidate photos and fetches their pixels.
type AssetLoader interface {
	List(ctx context.Context, q AssetQuery) ([]PhotoAsset, error)
	Load(ctx context.Context, id string) ([]byte, error)
}

// ThumbnailLoader is implemented by loaders that serve small previews for
// the photo selector.
type ThumbnailLoader interface {
	Thumbnail(ctx context.Context, id string) ([]byte, error)
}

// PhotoSelector picks the photos of a job.
type PhotoSelector interface {
	SelectPhotos(ctx context.Context, candidates []ai.Candidate, count int) (*ai.Selection, error)
}

// StoryGenerator writes the page narrative.
type StoryGenerator interface {
	GenerateStory(ctx context.Context, req ai.StoryRequest) (string, error)
}

// BackgroundGenerator produces a background image.
type BackgroundGenerator interface {
	GenerateBackground(ctx context.Context, req ai.BackgroundRequest) (*ai.Background, error)
}

// DocumentWriter serializes a composed document.
type DocumentWriter interface {
	Write(ctx context.Context, doc *document.Document) ([]byte, error)
	ContentType() string
	Extension() string
}

// Flattener renders a single page into an opaque image.
type Flattener interface {
	Flatten(ctx context.Context, page *document.Page, format convert.Format) ([]byte, error)
}

// Structural failures. A job failing with one of these publishes nothing.
var (
	// ErrNoAssets means there is no usable photo for the job.
	ErrNoAssets = errors.New("no usable photos")
	// ErrLayout means the theme cannot be loaded or laid out.
	ErrLayout = errors.New("invalid layout")
	// ErrCredentials means a required collaborator rejected or lacks
	// credentials.
	ErrCredentials = errors.New("missing or rejected credentials")
)
