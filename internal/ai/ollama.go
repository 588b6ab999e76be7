package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kozaktomas/memorybook/internal/shape"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2-vision:11b"
)

// OllamaProvider talks to a local Ollama server. Usage is tracked in tokens
// only; local models cost nothing.
type OllamaProvider struct {
	usageTracker
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

func (p *OllamaProvider) Name() string {
	return p.model
}

// ollamaRequest represents a request to the Ollama chat API
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 encoded images
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

// ollamaResponse represents a response from the Ollama chat API
type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func (p *OllamaProvider) SelectPhotos(ctx context.Context, candidates []Candidate, count int) (*Selection, error) {
	user := ollamaMessage{Role: "user", Content: buildSelectionContent(candidates)}
	// Vision models handle few images per turn; the list carries the rest.
	for i, c := range candidates {
		if i >= 4 || len(c.Thumbnail) == 0 {
			continue
		}
		user.Images = append(user.Images, base64.StdEncoding.EncodeToString(selectionImage(c.Thumbnail)))
	}

	var sel Selection
	if err := p.chatJSON(ctx, buildSelectPrompt(count), user, selectionMaxTokens, &sel); err != nil {
		return nil, err
	}
	return cleanSelection(&sel, candidates, count)
}

func (p *OllamaProvider) GenerateStory(ctx context.Context, req StoryRequest) (string, error) {
	var resp storyResponse
	user := ollamaMessage{Role: "user", Content: buildStoryContent(req)}
	if err := p.chatJSON(ctx, buildStoryPrompt(req.MaxWords), user, storyMaxTokens, &resp); err != nil {
		return "", err
	}
	return resp.text()
}

// Recommend implements shape.Recommender.
func (p *OllamaProvider) Recommend(ctx context.Context, req shape.RecommendRequest) (*shape.Recommendation, error) {
	user := ollamaMessage{
		Role:    "user",
		Content: "Recommend the crop for this photo.",
		Images:  []string{base64.StdEncoding.EncodeToString(req.Image)},
	}
	var rec shape.Recommendation
	if err := p.chatJSON(ctx, buildShapePrompt(req), user, shapeMaxTokens, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *OllamaProvider) chatJSON(ctx context.Context, system string, user ollamaMessage, maxTokens int, out any) error {
	messages := []ollamaMessage{{Role: "system", Content: system}, user}

	var lastError error
	var lastResponse string

	for range maxRetries {
		resp, err := p.sendRequest(ctx, messages, maxTokens)
		if err != nil {
			return fmt.Errorf("ollama API error: %w", err)
		}
		p.track(int64(resp.PromptEvalCount), int64(resp.EvalCount), RequestPricing{})

		content := resp.Message.Content
		lastResponse = content

		if err := json.Unmarshal([]byte(extractJSON(content)), out); err != nil {
			lastError = err
			messages = append(messages,
				ollamaMessage{Role: "assistant", Content: content},
				ollamaMessage{Role: "user", Content: jsonFixMessage(err)},
			)
			continue
		}
		return nil
	}

	return fmt.Errorf("failed to parse JSON after %d attempts: %w (last response: %s)", maxRetries, lastError, lastResponse)
}

func (p *OllamaProvider) sendRequest(ctx context.Context, messages []ollamaMessage, maxTokens int) (*ollamaResponse, error) {
	reqBody := ollamaRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
		Options: ollamaOptions{
			NumPredict: maxTokens,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &ollamaResp, nil
}
