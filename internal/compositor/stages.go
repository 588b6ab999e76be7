package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"mime"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/kozaktomas/memorybook/internal/ai"
	"github.com/kozaktomas/memorybook/internal/fingerprint"
	"github.com/kozaktomas/memorybook/internal/layout"
)

// selectPhotos fixes the photos of the job. Preselected photos and an
// earlier selection are kept; small pools are used whole; otherwise the
// selector picks, falling back to the first photos when it fails.
func (r *run) selectPhotos(ctx context.Context) (string, error) {
	want := min(r.job.RequiredCount, len(r.job.Candidates))
	var msg string

	switch {
	case len(r.job.SelectedIDs) > 0 && r.pick(r.job.SelectedIDs, want) == want:
		msg = fmt.Sprintf("reusing %d selected photos", want)
	case len(r.job.Request.PhotoIDs) > 0:
		r.pick(r.job.Request.PhotoIDs, want)
		msg = fmt.Sprintf("using %d requested photos", len(r.selected))
	case len(r.job.Candidates) <= r.job.RequiredCount:
		r.pick(candidateIDs(r.job.Candidates), want)
		msg = fmt.Sprintf("using all %d photos", len(r.selected))
	case r.engine.deps.Selector != nil:
		sel, err := r.runSelector(ctx, want)
		if err != nil {
			r.warn("photo selection failed, using the first %d photos: %v", want, err)
			r.pick(candidateIDs(r.job.Candidates), want)
			msg = fmt.Sprintf("selected the first %d photos", len(r.selected))
			break
		}
		r.job.SelectionReasoning = sel.Reasoning
		if n := r.pick(sel.IDs, want); n < want {
			r.fillSelection(want)
		}
		msg = fmt.Sprintf("selected %d of %d photos", len(r.selected), len(r.job.Candidates))
	default:
		r.pick(candidateIDs(r.job.Candidates), want)
		msg = fmt.Sprintf("selected the first %d photos", len(r.selected))
	}

	if len(r.selected) == 0 {
		return "", fmt.Errorf("%w: none of the %d candidates can be used", ErrNoAssets, len(r.job.Candidates))
	}
	r.job.SelectedIDs = make([]string, len(r.selected))
	for i, p := range r.selected {
		r.job.SelectedIDs[i] = p.ID
	}
	return msg, nil
}

// pick selects the known candidates among ids, up to limit, in order.
func (r *run) pick(ids []string, limit int) int {
	byID := make(map[string]PhotoAsset, len(r.job.Candidates))
	for _, c := range r.job.Candidates {
		byID[c.ID] = c
	}
	seen := make(map[string]bool, len(ids))
	r.selected = r.selected[:0]
	for _, id := range ids {
		p, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		r.selected = append(r.selected, p)
		if len(r.selected) == limit {
			break
		}
	}
	return len(r.selected)
}

// fillSelection tops up a short selection with unselected candidates.
func (r *run) fillSelection(want int) {
	seen := make(map[string]bool, len(r.selected))
	for _, p := range r.selected {
		seen[p.ID] = true
	}
	for _, c := range r.job.Candidates {
		if len(r.selected) >= want {
			return
		}
		if !seen[c.ID] {
			r.selected = append(r.selected, c)
		}
	}
}

func (r *run) runSelector(ctx context.Context, want int) (*ai.Selection, error) {
	candidates := make([]ai.Candidate, len(r.job.Candidates))
	for i, p := range r.job.Candidates {
		candidates[i] = toCandidate(p)
	}
	r.attachThumbnails(ctx, candidates)
	candidates = r.dropDuplicates(candidates, want)

	var sel *ai.Selection
	err := r.engine.call(ctx, func(ctx context.Context) error {
		var err error
		sel, err = r.engine.deps.Selector.SelectPhotos(ctx, candidates, want)
		return err
	})
	if err != nil {
		return nil, err
	}
	if sel == nil || len(sel.IDs) == 0 {
		return nil, fmt.Errorf("selector returned no photos")
	}
	return sel, nil
}

// attachThumbnails adds previews when the loader serves them. Missing
// previews are not an error.
func (r *run) attachThumbnails(ctx context.Context, candidates []ai.Candidate) {
	thumbs, ok := r.engine.deps.Assets.(ThumbnailLoader)
	if !ok {
		return
	}
	for i := range min(len(candidates), r.engine.opts.SelectorThumbnails) {
		err := r.engine.call(ctx, func(ctx context.Context) error {
			data, err := thumbs.Thumbnail(ctx, candidates[i].ID)
			candidates[i].Thumbnail = data
			return err
		})
		if err != nil {
			r.logger.Debug().Err(err).Str("photo", candidates[i].ID).Msg("thumbnail unavailable")
		}
	}
}

// dropDuplicates removes candidates whose thumbnail looks like an earlier
// one, such as burst shots. At most len(candidates)-want are dropped so the
// selector can still fill the book.
func (r *run) dropDuplicates(candidates []ai.Candidate, want int) []ai.Candidate {
	if r.engine.opts.DuplicateDistance < 0 || len(candidates) <= want {
		return candidates
	}
	hashes := make([]fingerprint.Hash, len(candidates))
	ok := make([]bool, len(candidates))
	for i, c := range candidates {
		if len(c.Thumbnail) == 0 {
			continue
		}
		h, err := fingerprint.FromBytes(c.Thumbnail)
		if err != nil {
			r.logger.Debug().Err(err).Str("photo", c.ID).Msg("thumbnail not hashable")
			continue
		}
		hashes[i], ok[i] = h, true
	}

	dup := fingerprint.Duplicates(hashes, ok, r.engine.opts.DuplicateDistance)
	budget := len(candidates) - want
	kept := candidates[:0:0]
	for i, c := range candidates {
		if dup[i] && budget > 0 {
			budget--
			r.logger.Debug().Str("photo", c.ID).Msg("near-duplicate dropped from selection")
			continue
		}
		kept = append(kept, c)
	}
	if dropped := len(candidates) - len(kept); dropped > 0 {
		r.logger.Info().Int("dropped", dropped).Msg("near-duplicate candidates removed")
	}
	return kept
}

func toCandidate(p PhotoAsset) ai.Candidate {
	return ai.Candidate{
		ID:      p.ID,
		Title:   p.Title,
		Caption: p.Caption,
		TakenAt: p.TakenAt,
		Width:   p.Width,
		Height:  p.Height,
		Faces:   len(p.Faces),
		Tags:    p.Tags,
	}
}

func candidateIDs(photos []PhotoAsset) []string {
	ids := make([]string, len(photos))
	for i, p := range photos {
		ids[i] = p.ID
	}
	return ids
}

// generateStory writes the page narrative when the theme has room for one.
// A failed generator leaves the story empty.
func (r *run) generateStory(ctx context.Context) (string, error) {
	switch {
	case r.job.Story != "":
		return "story ready", nil
	case r.theme.Story == nil:
		return "theme has no story region", nil
	case r.engine.deps.Stories == nil:
		return "no story writer configured", nil
	}

	photos := make([]ai.Candidate, len(r.selected))
	for i, p := range r.selected {
		photos[i] = toCandidate(p)
	}
	req := ai.StoryRequest{
		Photos:    photos,
		Prompt:    r.job.Request.StoryPrompt,
		Reasoning: r.job.SelectionReasoning,
		MaxWords:  r.engine.opts.StoryWords,
	}
	var story string
	err := r.engine.call(ctx, func(ctx context.Context) error {
		var err error
		story, err = r.engine.deps.Stories.GenerateStory(ctx, req)
		return err
	})
	if err != nil {
		r.warn("story generation failed, continuing without a story: %v", err)
		return "continuing without a story", nil
	}
	r.job.Story = strings.TrimSpace(story)
	return fmt.Sprintf("story written (%d words)", len(strings.Fields(r.job.Story))), nil
}

// prepareBackground obtains the generated background of the theme. Any
// failure falls back to the flat theme color.
func (r *run) prepareBackground(ctx context.Context) (string, error) {
	if !r.theme.Background.Type.NeedsImage() {
		return "flat background", nil
	}

	data, err := r.backgroundBytes(ctx)
	if err == nil && len(data) > 0 {
		var img image.Image
		if img, err = imaging.Decode(bytes.NewReader(data)); err == nil {
			r.background = img
			r.job.Background = data
			return "background ready", nil
		}
	}
	if err == nil {
		err = fmt.Errorf("no background generator configured")
	}
	r.warn("background unavailable, using a flat fill: %v", err)
	return "using a flat background", nil
}

func (r *run) backgroundBytes(ctx context.Context) ([]byte, error) {
	if len(r.job.Background) > 0 {
		return r.job.Background, nil
	}
	store := r.engine.deps.Store
	if r.job.BackgroundRef != "" && store != nil {
		data, _, err := store.Get(ctx, r.job.BackgroundRef)
		if err == nil {
			return data, nil
		}
		r.logger.Warn().Err(err).Str("ref", r.job.BackgroundRef).Msg("stored background unavailable, generating a new one")
	}
	gen := r.engine.deps.Backgrounds
	if gen == nil {
		return nil, nil
	}

	req := ai.BackgroundRequest{
		Summary:     summarize(r.selected),
		Hint:        r.theme.Background.Prompt,
		AspectRatio: aspectToken(r.page),
	}
	var bg *ai.Background
	err := r.engine.call(ctx, func(ctx context.Context) error {
		var err error
		bg, err = gen.GenerateBackground(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if bg == nil || len(bg.Data) == 0 {
		return nil, fmt.Errorf("generator returned no image")
	}

	if store != nil {
		key := fmt.Sprintf("jobs/%s/background%s", r.job.ID, extensionFor(bg.MIMEType, ".png"))
		if _, err := store.Put(ctx, key, bg.Data, bg.MIMEType); err != nil {
			r.logger.Warn().Err(err).Msg("failed to store background")
		} else {
			r.job.BackgroundRef = key
		}
	}
	return bg.Data, nil
}

// summarize collects the distinct titles, captions and tags of photos.
func summarize(photos []PhotoAsset) string {
	seen := map[string]bool{}
	var parts []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			return
		}
		seen[strings.ToLower(s)] = true
		parts = append(parts, s)
	}
	for _, p := range photos {
		add(p.Text())
		for _, t := range p.Tags {
			add(t)
		}
	}
	return strings.Join(parts, "; ")
}

var aspectTokens = []struct {
	token string
	ratio float64
}{
	{"1:1", 1}, {"3:4", 3.0 / 4}, {"4:3", 4.0 / 3}, {"2:3", 2.0 / 3},
	{"3:2", 3.0 / 2}, {"9:16", 9.0 / 16}, {"16:9", 16.0 / 9},
}

// aspectToken returns the image-model aspect ratio closest to the page.
func aspectToken(p layout.PageSize) string {
	if p.H <= 0 {
		return "1:1"
	}
	ratio := p.W / p.H
	best, diff := aspectTokens[0].token, math.Inf(1)
	for _, a := range aspectTokens {
		if d := math.Abs(a.ratio - ratio); d < diff {
			best, diff = a.token, d
		}
	}
	return best
}

func extensionFor(contentType, fallback string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return fallback
}
