package ai

import (
	"context"
	"sync"

	"github.com/kozaktomas/memorybook/internal/shape"
)

// Candidate is a photo offered to the selector or described to the story
// writer. Thumbnail is an optional small JPEG.
type Candidate struct {
	ID        string
	Title     string
	Caption   string
	TakenAt   string
	Width     int
	Height    int
	Faces     int
	Tags      []string
	Thumbnail []byte
}

// Selection is the selector's answer.
type Selection struct {
	IDs       []string `json:"selected_ids"`
	Reasoning string   `json:"reasoning"`
}

// StoryRequest asks for the page narrative.
type StoryRequest struct {
	Photos    []Candidate
	Prompt    string // optional wish of the author
	Reasoning string // optional selection reasoning
	MaxWords  int
}

// BackgroundRequest asks for a page background image.
type BackgroundRequest struct {
	Summary     string // tags and captions of the page
	Hint        string // theme-supplied prompt
	AspectRatio string // e.g. "3:4"
}

// Background is a generated image.
type Background struct {
	Data     []byte
	MIMEType string
}

// Provider defines the interface for AI backends used by the compositor.
// Every provider is also a shape.Recommender.
type Provider interface {
	Name() string
	SelectPhotos(ctx context.Context, candidates []Candidate, count int) (*Selection, error)
	GenerateStory(ctx context.Context, req StoryRequest) (string, error)
	Recommend(ctx context.Context, req shape.RecommendRequest) (*shape.Recommendation, error)

	// Usage tracking.
	GetUsage() Usage
	ResetUsage()
}

// BackgroundGenerator is implemented by providers with an image model.
type BackgroundGenerator interface {
	GenerateBackground(ctx context.Context, req BackgroundRequest) (*Background, error)
}

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64 // in USD
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

// usageTracker is shared by the providers; slot workers call Recommend
// concurrently.
type usageTracker struct {
	mu    sync.Mutex
	usage Usage
}

func (u *usageTracker) track(inputTokens, outputTokens int64, price RequestPricing) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.InputTokens += int(inputTokens)
	u.usage.OutputTokens += int(outputTokens)
	u.usage.TotalCost += float64(inputTokens) / 1_000_000 * price.Input
	u.usage.TotalCost += float64(outputTokens) / 1_000_000 * price.Output
}

func (u *usageTracker) GetUsage() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}

func (u *usageTracker) ResetUsage() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage = Usage{}
}
