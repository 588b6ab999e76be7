package ai

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/memorybook/internal/shape"
)

//go:embed prompts/select_photos.txt
var selectPhotosPrompt string

//go:embed prompts/story.txt
var storyPrompt string

//go:embed prompts/shape.txt
var shapePrompt string

//go:embed prompts/background.txt
var backgroundPrompt string

const (
	// maxRetries bounds the "fix your JSON" conversation with a model.
	maxRetries = 3
	// maxThumbnails caps the images attached to a selection request.
	maxThumbnails      = 24
	thumbnailMaxPx     = 512
	defaultStoryWords  = 80
	selectionMaxTokens = 800
	storyMaxTokens     = 600
	shapeMaxTokens     = 200
)

var (
	errEmptyResponse = errors.New("empty model response")
	errNoSelection   = errors.New("model selected no known photo")
)

// selectionImage turns a candidate thumbnail into a JPEG of at most
// thumbnailMaxPx. Undecodable data is sent as is.
func selectionImage(data []byte) []byte {
	out, err := ResizeImage(data, thumbnailMaxPx)
	if err != nil {
		return data
	}
	return out
}

func buildSelectPrompt(count int) string {
	return fmt.Sprintf(selectPhotosPrompt, count)
}

// buildSelectionContent lists the candidates for the selector. This is
// shared across all AI providers.
func buildSelectionContent(candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Candidate photos:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. id=%s", i+1, c.ID)
		if c.TakenAt != "" {
			fmt.Fprintf(&b, " date=%s", c.TakenAt)
		}
		if c.Width > 0 && c.Height > 0 {
			fmt.Fprintf(&b, " size=%dx%d", c.Width, c.Height)
		}
		if c.Faces > 0 {
			fmt.Fprintf(&b, " faces=%d", c.Faces)
		}
		if text := describe(c); text != "" {
			fmt.Fprintf(&b, " caption=%q", text)
		}
		if len(c.Tags) > 0 {
			fmt.Fprintf(&b, " tags=%s", strings.Join(c.Tags, ","))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func describe(c Candidate) string {
	switch {
	case c.Caption != "":
		return c.Caption
	default:
		return c.Title
	}
}

func buildStoryPrompt(maxWords int) string {
	if maxWords <= 0 {
		maxWords = defaultStoryWords
	}
	return fmt.Sprintf(storyPrompt, maxWords)
}

func buildStoryContent(req StoryRequest) string {
	var b strings.Builder
	if req.Prompt != "" {
		fmt.Fprintf(&b, "Author's prompt: %s\n", req.Prompt)
	}
	if req.Reasoning != "" {
		fmt.Fprintf(&b, "Why these photos: %s\n", req.Reasoning)
	}
	b.WriteString("\nPhotos:\n")
	for i, c := range req.Photos {
		fmt.Fprintf(&b, "%d.", i+1)
		if c.TakenAt != "" {
			fmt.Fprintf(&b, " %s", c.TakenAt)
		}
		if text := describe(c); text != "" {
			fmt.Fprintf(&b, " %s", text)
		}
		if len(c.Tags) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(c.Tags, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func buildShapePrompt(req shape.RecommendRequest) string {
	frame := fmt.Sprintf("%dx%d px", req.Width, req.Height)
	return fmt.Sprintf(shapePrompt, frame, req.Shape)
}

func buildBackgroundPrompt(req BackgroundRequest) string {
	ratio := req.AspectRatio
	if ratio == "" {
		ratio = "3:4"
	}
	theme := strings.TrimSpace(strings.Join([]string{req.Hint, req.Summary}, ". "))
	theme = strings.Trim(theme, ". ")
	if theme == "" {
		theme = "family memories"
	}
	return fmt.Sprintf(backgroundPrompt, ratio, theme)
}

// cleanSelection keeps known ids in model order, drops duplicates and caps
// the result at count.
func cleanSelection(sel *Selection, candidates []Candidate, count int) (*Selection, error) {
	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}
	seen := make(map[string]bool, len(sel.IDs))
	ids := make([]string, 0, len(sel.IDs))
	for _, id := range sel.IDs {
		id = strings.TrimSpace(id)
		if !known[id] || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if len(ids) == count {
			break
		}
	}
	if len(ids) == 0 {
		return nil, errNoSelection
	}
	return &Selection{IDs: ids, Reasoning: strings.TrimSpace(sel.Reasoning)}, nil
}

type storyResponse struct {
	Story string `json:"story"`
}

func (s storyResponse) text() (string, error) {
	text := strings.TrimSpace(s.Story)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(content); i++ {
		ch := content[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	// If no matching brace found, return from start
	return content[start:]
}

func jsonFixMessage(err error) string {
	return fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again. Remember to escape quotes inside strings with backslash. Output ONLY valid JSON, no other text.", err)
}
