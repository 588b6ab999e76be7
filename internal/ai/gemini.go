package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/memorybook/internal/shape"
	"google.golang.org/genai"
)

const (
	geminiModel      = "gemini-2.5-flash"
	geminiImageModel = "gemini-2.5-flash-image"
)

type GeminiProvider struct {
	usageTracker
	client       *genai.Client
	pricing      RequestPricing
	imagePricing RequestPricing
}

func NewGeminiProvider(ctx context.Context, apiKey string, pricing, imagePricing RequestPricing) (*GeminiProvider, error) {
	return newGeminiProvider(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, pricing, imagePricing)
}

func newGeminiProvider(ctx context.Context, cfg *genai.ClientConfig, pricing, imagePricing RequestPricing) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client, pricing: pricing, imagePricing: imagePricing}, nil
}

func (p *GeminiProvider) Name() string {
	return geminiModel
}

func (p *GeminiProvider) SelectPhotos(ctx context.Context, candidates []Candidate, count int) (*Selection, error) {
	parts := []*genai.Part{{Text: buildSelectPrompt(count) + "\n\n" + buildSelectionContent(candidates)}}
	for i, c := range candidates {
		if i >= maxThumbnails || len(c.Thumbnail) == 0 {
			continue
		}
		parts = append(parts,
			&genai.Part{Text: "Photo " + c.ID + ":"},
			&genai.Part{InlineData: &genai.Blob{Data: selectionImage(c.Thumbnail), MIMEType: "image/jpeg"}},
		)
	}

	var sel Selection
	if err := p.generateJSON(ctx, parts, &sel); err != nil {
		return nil, err
	}
	return cleanSelection(&sel, candidates, count)
}

func (p *GeminiProvider) GenerateStory(ctx context.Context, req StoryRequest) (string, error) {
	var resp storyResponse
	parts := []*genai.Part{{Text: buildStoryPrompt(req.MaxWords) + "\n\n" + buildStoryContent(req)}}
	if err := p.generateJSON(ctx, parts, &resp); err != nil {
		return "", err
	}
	return resp.text()
}

// Recommend implements shape.Recommender.
func (p *GeminiProvider) Recommend(ctx context.Context, req shape.RecommendRequest) (*shape.Recommendation, error) {
	parts := []*genai.Part{
		{Text: buildShapePrompt(req)},
		{InlineData: &genai.Blob{Data: req.Image, MIMEType: "image/jpeg"}},
	}
	var rec shape.Recommendation
	if err := p.generateJSON(ctx, parts, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GenerateBackground asks the image model for a page background.
func (p *GeminiProvider) GenerateBackground(ctx context.Context, req BackgroundRequest) (*Background, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: buildBackgroundPrompt(req)}},
	}}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
	}

	result, err := p.client.Models.GenerateContent(ctx, geminiImageModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}
	if result.UsageMetadata != nil {
		p.track(int64(result.UsageMetadata.PromptTokenCount), int64(result.UsageMetadata.CandidatesTokenCount), p.imagePricing)
	}

	for _, cand := range result.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &Background{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
			}
		}
	}
	return nil, errors.New("no image in Gemini response")
}

// generateJSON sends the parts as one user turn and decodes the JSON answer
// into out, feeding parse errors back to the model up to maxRetries times.
func (p *GeminiProvider) generateJSON(ctx context.Context, parts []*genai.Part, out any) error {
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	var lastResponse string

	for range maxRetries {
		result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
		if err != nil {
			return fmt.Errorf("gemini API error: %w", err)
		}
		if result.UsageMetadata != nil {
			p.track(int64(result.UsageMetadata.PromptTokenCount), int64(result.UsageMetadata.CandidatesTokenCount), p.pricing)
		}

		content := result.Text()
		if content == "" {
			return errors.New("no response from Gemini")
		}
		lastResponse = content

		if err := json.Unmarshal([]byte(extractJSON(content)), out); err != nil {
			lastError = err
			contents = append(contents,
				&genai.Content{Role: "model", Parts: []*genai.Part{{Text: content}}},
				&genai.Content{Role: "user", Parts: []*genai.Part{{Text: jsonFixMessage(err)}}},
			)
			continue
		}
		return nil
	}

	return fmt.Errorf("failed to parse JSON after %d attempts: %w (last response: %s)", maxRetries, lastError, lastResponse)
}
