package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/memorybook/internal/shape"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const chatModel = openai.ChatModelGPT4_1Mini

type OpenAIProvider struct {
	usageTracker
	client  *openai.Client
	pricing RequestPricing
}

// NewOpenAIProvider creates the provider. Extra options are passed to the
// client (tests point it at a local server).
func NewOpenAIProvider(apiKey string, pricing RequestPricing, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, pricing: pricing}
}

func (p *OpenAIProvider) Name() string {
	return chatModel
}

func imagePart(data []byte) openai.ChatCompletionContentPartUnionParam {
	return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
		URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
		Detail: "low",
	})
}

func (p *OpenAIProvider) SelectPhotos(ctx context.Context, candidates []Candidate, count int) (*Selection, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(buildSelectionContent(candidates))}
	for i, c := range candidates {
		if i >= maxThumbnails || len(c.Thumbnail) == 0 {
			continue
		}
		parts = append(parts, openai.TextContentPart("Photo "+c.ID+":"), imagePart(selectionImage(c.Thumbnail)))
	}

	var sel Selection
	if err := p.chatJSON(ctx, buildSelectPrompt(count), parts, selectionMaxTokens, &sel); err != nil {
		return nil, err
	}
	return cleanSelection(&sel, candidates, count)
}

func (p *OpenAIProvider) GenerateStory(ctx context.Context, req StoryRequest) (string, error) {
	var resp storyResponse
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(buildStoryContent(req))}
	if err := p.chatJSON(ctx, buildStoryPrompt(req.MaxWords), parts, storyMaxTokens, &resp); err != nil {
		return "", err
	}
	return resp.text()
}

// Recommend implements shape.Recommender.
func (p *OpenAIProvider) Recommend(ctx context.Context, req shape.RecommendRequest) (*shape.Recommendation, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart("Recommend the crop for this photo."),
		imagePart(req.Image),
	}
	var rec shape.Recommendation
	if err := p.chatJSON(ctx, buildShapePrompt(req), parts, shapeMaxTokens, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// chatJSON sends one system prompt and one user message and decodes the JSON
// answer into out. Unparseable answers are sent back to the model with the
// parse error, up to maxRetries times.
func (p *OpenAIProvider) chatJSON(ctx context.Context, system string, user []openai.ChatCompletionContentPartUnionParam, maxTokens int64, out any) error {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: user,
				},
			},
		},
	}

	var lastError error
	var lastResponse string

	for range maxRetries {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    chatModel,
			Messages: messages,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			MaxTokens: openai.Int(maxTokens),
		})
		if err != nil {
			return fmt.Errorf("OpenAI API error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("no response from OpenAI")
		}

		if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
			p.track(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, p.pricing)
		}

		content := resp.Choices[0].Message.Content
		lastResponse = content

		if err := json.Unmarshal([]byte(extractJSON(content)), out); err != nil {
			lastError = err
			messages = append(messages,
				openai.AssistantMessage(content),
				openai.UserMessage(jsonFixMessage(err)),
			)
			continue
		}
		return nil
	}

	return fmt.Errorf("failed to parse JSON after %d attempts: %w (last response: %s)", maxRetries, lastError, lastResponse)
}
