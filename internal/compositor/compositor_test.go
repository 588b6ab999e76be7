package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/memorybook/internal/ai"
	"github.com/kozaktomas/memorybook/internal/convert"
	"github.com/kozaktomas/memorybook/internal/database/mock"
	"github.com/kozaktomas/memorybook/internal/document"
	"github.com/kozaktomas/memorybook/internal/layout"
	"github.com/kozaktomas/memorybook/internal/storage"
	"github.com/kozaktomas/memorybook/internal/theme"
)

func jpegBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

type fakeAssets struct {
	photos  []PhotoAsset
	data    map[string][]byte
	failing map[string]bool
	listErr error
	queries []AssetQuery
	mu      sync.Mutex
}

func newFakeAssets(t testing.TB, n int) *fakeAssets {
	f := &fakeAssets{data: map[string][]byte{}, failing: map[string]bool{}}
	for i := range n {
		w, h := 120, 80
		if i%2 == 1 {
			w, h = 80, 120
		}
		id := fmt.Sprintf("p%02d", i)
		f.photos = append(f.photos, PhotoAsset{ID: id, Width: w, Height: h, Title: "photo " + id, Tags: []string{"lake"}})
		f.data[id] = jpegBytes(t, w, h)
	}
	return f
}

func (f *fakeAssets) List(_ context.Context, q AssetQuery) ([]PhotoAsset, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(q.IDs) == 0 {
		return f.photos, nil
	}
	var out []PhotoAsset
	for _, id := range q.IDs {
		for _, p := range f.photos {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakeAssets) Load(_ context.Context, id string) ([]byte, error) {
	if f.failing[id] {
		return nil, errors.New("download failed")
	}
	data, ok := f.data[id]
	if !ok {
		return nil, fmt.Errorf("unknown photo %s", id)
	}
	return data, nil
}

type fakeWriter struct {
	mu   sync.Mutex
	docs []*document.Document
}

func (w *fakeWriter) Write(_ context.Context, doc *document.Document) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.docs = append(w.docs, doc)
	return []byte("%PDF-1.5 fake"), nil
}

func (w *fakeWriter) ContentType() string { return "application/pdf" }
func (w *fakeWriter) Extension() string   { return ".pdf" }

func (w *fakeWriter) last(t *testing.T) *document.Document {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.docs) == 0 {
		t.Fatal("no document written")
	}
	return w.docs[len(w.docs)-1]
}

type fakeFlattener struct{ calls int }

func (f *fakeFlattener) Flatten(_ context.Context, _ *document.Page, format convert.Format) ([]byte, error) {
	f.calls++
	return []byte("image:" + string(format)), nil
}

type fakeSelector struct {
	ids   []string
	err   error
	calls atomic.Int32
}

func (s *fakeSelector) SelectPhotos(_ context.Context, _ []ai.Candidate, count int) (*ai.Selection, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &ai.Selection{IDs: s.ids, Reasoning: "best light"}, nil
}

type fakeStories struct {
	story string
	calls atomic.Int32
}

func (s *fakeStories) GenerateStory(_ context.Context, _ ai.StoryRequest) (string, error) {
	s.calls.Add(1)
	return s.story, nil
}

// hangingBackground never answers before the context ends.
type hangingBackground struct{}

func (hangingBackground) GenerateBackground(ctx context.Context, _ ai.BackgroundRequest) (*ai.Background, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type testEnv struct {
	engine    *Engine
	assets    *fakeAssets
	writer    *fakeWriter
	flattener *fakeFlattener
	jobs      *mock.MockJobRepository
}

func newTestEnv(t *testing.T, photos int, mutate func(*Deps, *Options)) *testEnv {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	env := &testEnv{
		assets:    newFakeAssets(t, photos),
		writer:    &fakeWriter{},
		flattener: &fakeFlattener{},
		jobs:      mock.NewMockJobRepository(),
	}
	deps := Deps{
		Assets:    env.assets,
		Writer:    env.writer,
		Flattener: env.flattener,
		Store:     store,
		Jobs:      env.jobs,
	}
	opts := Options{DPI: 20, Workers: 3, CollaboratorRPS: 1000, CollaboratorTimeout: time.Second}
	if mutate != nil {
		mutate(&deps, &opts)
	}
	env.engine, err = New(deps, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return env
}

func sixSlotTheme() *theme.Theme {
	t := &theme.Theme{
		ID:         "six",
		Name:       "six slots",
		PageSize:   "a4",
		Background: theme.Background{Color: "#fafafa", Type: theme.BackgroundSolid},
	}
	for i := range 6 {
		t.Slots = append(t.Slots, theme.Slot{
			Position: theme.Point{X: 10 + float64(i%2)*100, Y: 10 + float64(i/2)*95},
			Size:     theme.Size{W: 80, H: 60 + float64(i%3)*10},
		})
	}
	return t
}

func milestoneStates(ms []Milestone) []State {
	out := make([]State, len(ms))
	for i, m := range ms {
		out[i] = m.State
	}
	return out
}

var fullRun = []State{
	StateSelectingPhotos, StateGeneratingStory, StatePreparingBackground,
	StateRenderingSlots, StateAssemblingPages, StateFinalizing, StateDone,
}

func TestRun_ClassicTheme(t *testing.T) {
	stories := &fakeStories{story: "A quiet day at the lake."}
	env := newTestEnv(t, 4, func(d *Deps, _ *Options) { d.Stories = stories })

	var reported []Milestone
	job := NewJob(Request{ThemeID: "classic-a4"})
	arts, err := env.engine.Run(context.Background(), job, func(m Milestone) { reported = append(reported, m) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.State != StateDone {
		t.Errorf("state = %s, want done", job.State)
	}
	if got := milestoneStates(reported); !slices.Equal(got, fullRun) {
		t.Errorf("milestones = %v, want %v", got, fullRun)
	}
	for i := 1; i < len(reported); i++ {
		if reported[i].Percent <= reported[i-1].Percent {
			t.Errorf("percent not increasing at %d: %d after %d", i, reported[i].Percent, reported[i-1].Percent)
		}
	}
	if job.Percent() != 100 {
		t.Errorf("percent = %d, want 100", job.Percent())
	}
	if job.Story != "A quiet day at the lake." {
		t.Errorf("story = %q", job.Story)
	}
	if len(job.SelectedIDs) != 4 {
		t.Errorf("selected %d photos, want 4", len(job.SelectedIDs))
	}
	if arts == nil || arts.DocumentType != "application/pdf" || len(arts.Document) == 0 {
		t.Fatalf("unexpected artifacts %+v", arts)
	}
	if !strings.HasSuffix(job.DocumentURL, "book.pdf") {
		t.Errorf("document url = %q", job.DocumentURL)
	}
	if job.Report == nil || len(job.Report.Slots) != 4 {
		t.Fatalf("report = %+v", job.Report)
	}
	for _, s := range job.Report.Slots {
		if s.PhotoID == "" || s.Placeholder || s.Empty {
			t.Errorf("slot %d not filled: %+v", s.Slot, s)
		}
	}

	doc := env.writer.last(t)
	if len(doc.Pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(doc.Pages))
	}
	var images, texts int
	for _, it := range doc.Pages[0].Items {
		switch it.Kind {
		case document.KindImage:
			images++
		case document.KindText:
			texts++
		}
	}
	if images != 4 {
		t.Errorf("images = %d, want 4", images)
	}
	// two captions, the story and the footer
	if texts != 4 {
		t.Errorf("texts = %d, want 4", texts)
	}

	if saves := env.jobs.SavedStates(); len(saves) == 0 || saves[len(saves)-1] != "done" {
		t.Errorf("saved states = %v", saves)
	}
}

func TestRun_FewerPhotosThanSlots(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	job := NewJob(Request{Theme: sixSlotTheme()})
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.State != StateDone {
		t.Fatalf("state = %s", job.State)
	}
	var filled, empty int
	for _, s := range job.Report.Slots {
		switch {
		case s.Empty:
			empty++
		case s.PhotoID != "":
			filled++
		}
	}
	if filled != 3 || empty != 3 {
		t.Errorf("filled %d empty %d, want 3 and 3", filled, empty)
	}
	doc := env.writer.last(t)
	for _, it := range doc.Pages[0].Items {
		if it.Kind == document.KindRect && it.Slot >= 0 {
			t.Errorf("empty slot %d drew a placeholder", it.Slot)
		}
	}
}

func TestRun_BackgroundTimeoutFallsBackToFlatFill(t *testing.T) {
	env := newTestEnv(t, 6, func(d *Deps, o *Options) {
		d.Backgrounds = hangingBackground{}
		o.CollaboratorTimeout = 50 * time.Millisecond
	})
	th := sixSlotTheme()
	th.Background.Type = theme.BackgroundGenerated

	job := NewJob(Request{Theme: th})
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.State != StateDone {
		t.Fatalf("state = %s", job.State)
	}
	if job.BackgroundRef != "" {
		t.Errorf("background ref = %q, want none", job.BackgroundRef)
	}
	found := false
	for _, w := range job.Report.Warnings {
		if strings.Contains(w, "background") {
			found = true
		}
	}
	if !found {
		t.Errorf("no background warning in %v", job.Report.Warnings)
	}
	page := env.writer.last(t).Pages[0]
	if want := th.Background.Fill().Opaque(1); page.Background != want {
		t.Errorf("page background = %v, want %v", page.Background, want)
	}
	for _, it := range page.Items {
		if it.Kind == document.KindImage && it.Slot < 0 {
			t.Error("flat page carries a background image")
		}
	}
}

func TestRun_GeneratedBackgroundIsStored(t *testing.T) {
	bg := pngBackground(t)
	env := newTestEnv(t, 6, func(d *Deps, _ *Options) { d.Backgrounds = bg })
	th := sixSlotTheme()
	th.Background.Type = theme.BackgroundGenerated

	job := NewJob(Request{Theme: th})
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := "jobs/" + job.ID + "/background.png"; job.BackgroundRef != want {
		t.Errorf("background ref = %q, want %q", job.BackgroundRef, want)
	}
	first := env.writer.last(t).Pages[0].Items[0]
	if first.Kind != document.KindImage || first.Slot != -1 || first.Box.W != 210 {
		t.Errorf("first item is not the full-page background: %+v", first.Box)
	}
}

type staticBackground struct{ data []byte }

func (s staticBackground) GenerateBackground(context.Context, ai.BackgroundRequest) (*ai.Background, error) {
	return &ai.Background{Data: s.data, MIMEType: "image/png"}, nil
}

func pngBackground(t *testing.T) staticBackground {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 30, 40))
	data, err := convert.Encode(img, convert.FormatPNG, 90, color.NRGBA{R: 200, G: 220, B: 255, A: 255})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return staticBackground{data: data}
}

func TestRun_StructuralFailures(t *testing.T) {
	tests := []struct {
		name    string
		photos  int
		req     Request
		listErr error
		want    error
	}{
		{name: "no photos", photos: 0, req: Request{ThemeID: "classic-a4"}, want: ErrNoAssets},
		{name: "unknown theme", photos: 4, req: Request{ThemeID: "no-such-theme"}, want: ErrLayout},
		{name: "invalid inline theme", photos: 4, req: Request{Theme: &theme.Theme{ID: "x", PageSize: "a4"}}, want: ErrLayout},
		{name: "rejected credentials", photos: 4, req: Request{ThemeID: "classic-a4"}, listErr: fmt.Errorf("photoprism: %w", ErrCredentials), want: ErrCredentials},
		{name: "source down", photos: 4, req: Request{ThemeID: "classic-a4"}, listErr: errors.New("connection refused"), want: ErrNoAssets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.photos, nil)
			env.assets.listErr = tt.listErr
			job := NewJob(tt.req)

			var last Milestone
			_, err := env.engine.Run(context.Background(), job, func(m Milestone) { last = m })
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if job.State != StateFailed {
				t.Errorf("state = %s, want failed", job.State)
			}
			if job.Error == "" {
				t.Error("error message not recorded")
			}
			if last.State != StateFailed || last.Percent != 0 {
				t.Errorf("last milestone = %+v", last)
			}
			if job.DocumentURL != "" {
				t.Errorf("failed job published %q", job.DocumentURL)
			}
			if saves := env.jobs.SavedStates(); len(saves) == 0 || saves[len(saves)-1] != "failed" {
				t.Errorf("saved states = %v", saves)
			}
		})
	}
}

func TestRun_SelectorFallback(t *testing.T) {
	sel := &fakeSelector{err: errors.New("model overloaded")}
	env := newTestEnv(t, 8, func(d *Deps, _ *Options) { d.Selector = sel })
	job := NewJob(Request{ThemeID: "classic-a4"})
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sel.calls.Load() != 1 {
		t.Errorf("selector calls = %d", sel.calls.Load())
	}
	if want := []string{"p00", "p01", "p02", "p03"}; !slices.Equal(job.SelectedIDs, want) {
		t.Errorf("selected = %v, want %v", job.SelectedIDs, want)
	}
}

func TestRun_SelectorChoice(t *testing.T) {
	sel := &fakeSelector{ids: []string{"p07", "p05", "unknown", "p05"}}
	env := newTestEnv(t, 8, func(d *Deps, _ *Options) { d.Selector = sel })
	job := NewJob(Request{ThemeID: "classic-a4"})
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// unknown and duplicate IDs are dropped, the rest is topped up in order
	if want := []string{"p07", "p05", "p00", "p01"}; !slices.Equal(job.SelectedIDs, want) {
		t.Errorf("selected = %v, want %v", job.SelectedIDs, want)
	}
	if job.SelectionReasoning != "best light" {
		t.Errorf("reasoning = %q", job.SelectionReasoning)
	}
}

// thumbAssets serves thumbnails on top of an asset loader.
type thumbAssets struct {
	AssetLoader
	thumbs map[string][]byte
}

func (a *thumbAssets) Thumbnail(_ context.Context, id string) ([]byte, error) {
	data, ok := a.thumbs[id]
	if !ok {
		return nil, fmt.Errorf("no thumbnail for %s", id)
	}
	return data, nil
}

// recordingSelector remembers the candidates it was offered.
type recordingSelector struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSelector) SelectPhotos(_ context.Context, candidates []ai.Candidate, count int) (*ai.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = s.ids[:0]
	for _, c := range candidates {
		s.ids = append(s.ids, c.ID)
	}
	return &ai.Selection{IDs: s.ids[:min(count, len(s.ids))]}, nil
}

// noiseJPEG renders a blocky random picture; equal seeds give equal images.
func noiseJPEG(t testing.TB, seed uint64) []byte {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+99))
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for by := 0; by < 64; by += 8 {
		for bx := 0; bx < 64; bx += 8 {
			c := color.NRGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 255}
			for y := by; y < by+8; y++ {
				for x := bx; x < bx+8; x++ {
					img.SetNRGBA(x, y, c)
				}
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestRun_NearDuplicatesDropped(t *testing.T) {
	tests := []struct {
		name   string
		photos int
		copies map[string]string // photo -> photo whose thumbnail it repeats
		want   []string
	}{
		{
			name:   "burst shots removed",
			photos: 8,
			copies: map[string]string{"p03": "p00", "p05": "p02"},
			want:   []string{"p00", "p01", "p02", "p04", "p06", "p07"},
		},
		{
			name:   "keeps enough to fill the theme",
			photos: 5,
			copies: map[string]string{"p03": "p00", "p04": "p01"},
			want:   []string{"p00", "p01", "p02", "p04"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thumbs := map[string][]byte{}
			for i := range tt.photos {
				id := fmt.Sprintf("p%02d", i)
				thumbs[id] = noiseJPEG(t, uint64(i+1))
			}
			for id, src := range tt.copies {
				thumbs[id] = thumbs[src]
			}
			sel := &recordingSelector{}
			env := newTestEnv(t, tt.photos, func(d *Deps, o *Options) {
				d.Assets = &thumbAssets{AssetLoader: d.Assets, thumbs: thumbs}
				d.Selector = sel
				o.SelectorThumbnails = 10
			})
			job := NewJob(Request{ThemeID: "classic-a4"})
			if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !slices.Equal(sel.ids, tt.want) {
				t.Errorf("selector saw %v, want %v", sel.ids, tt.want)
			}
		})
	}
}

func TestRun_DuplicateFilterDisabled(t *testing.T) {
	dup := noiseJPEG(t, 1)
	thumbs := map[string][]byte{}
	for i := range 6 {
		thumbs[fmt.Sprintf("p%02d", i)] = dup
	}
	sel := &recordingSelector{}
	env := newTestEnv(t, 6, func(d *Deps, o *Options) {
		d.Assets = &thumbAssets{AssetLoader: d.Assets, thumbs: thumbs}
		d.Selector = sel
		o.SelectorThumbnails = 10
		o.DuplicateDistance = -1
	})
	if _, err := env.engine.Run(context.Background(), NewJob(Request{ThemeID: "classic-a4"}), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sel.ids) != 6 {
		t.Errorf("selector saw %d candidates, want 6", len(sel.ids))
	}
}

func TestRun_ResumeSkipsCompletedWork(t *testing.T) {
	sel := &fakeSelector{ids: []string{"p01"}}
	stories := &fakeStories{story: "new story"}
	env := newTestEnv(t, 8, func(d *Deps, _ *Options) {
		d.Selector = sel
		d.Stories = stories
	})

	job := NewJob(Request{ThemeID: "classic-a4"})
	job.State = StatePreparingBackground
	job.SelectedIDs = []string{"p04", "p05", "p06", "p07"}
	job.Story = "kept story"
	job.Milestones = []Milestone{
		{State: StateSelectingPhotos, Percent: 10},
		{State: StateGeneratingStory, Percent: 25},
	}
	stored, err := job.Stored()
	if err != nil {
		t.Fatalf("Stored: %v", err)
	}
	env.jobs.AddJob(*stored)

	var reported []State
	resumed, _, err := env.engine.Resume(context.Background(), job.ID, func(m Milestone) { reported = append(reported, m.State) })
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if sel.calls.Load() != 0 || stories.calls.Load() != 0 {
		t.Errorf("selector calls %d, story calls %d, want none", sel.calls.Load(), stories.calls.Load())
	}
	if !slices.Equal(resumed.SelectedIDs, job.SelectedIDs) {
		t.Errorf("selection changed to %v", resumed.SelectedIDs)
	}
	if resumed.Story != "kept story" {
		t.Errorf("story = %q", resumed.Story)
	}
	if want := fullRun[2:]; !slices.Equal(reported, want) {
		t.Errorf("reported %v, want %v", reported, want)
	}
	if got := milestoneStates(resumed.Milestones); !slices.Equal(got, fullRun) {
		t.Errorf("milestones = %v, want %v", got, fullRun)
	}
	q := env.assets.queries[len(env.assets.queries)-1]
	if !slices.Equal(q.IDs, job.SelectedIDs) {
		t.Errorf("listed %v, want only the selected photos", q.IDs)
	}
}

func TestRun_FinishedJob(t *testing.T) {
	env := newTestEnv(t, 4, nil)
	job := NewJob(Request{ThemeID: "classic-a4"})
	job.State = StateDone
	if _, err := env.engine.Run(context.Background(), job, nil); !errors.Is(err, ErrJobFinished) {
		t.Errorf("err = %v, want ErrJobFinished", err)
	}
}

func TestRun_RetryAfterFailure(t *testing.T) {
	env := newTestEnv(t, 4, nil)
	env.assets.listErr = errors.New("timeout")
	job := NewJob(Request{ThemeID: "classic-a4"})
	if _, err := env.engine.Run(context.Background(), job, nil); err == nil {
		t.Fatal("expected failure")
	}
	env.assets.listErr = nil
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if job.State != StateDone || job.Error != "" {
		t.Errorf("state %s error %q", job.State, job.Error)
	}
	if got := milestoneStates(job.Milestones); !slices.Equal(got, fullRun) {
		t.Errorf("milestones = %v", got)
	}
}

func TestRun_GridIsCappedAtTenPages(t *testing.T) {
	env := newTestEnv(t, 70, func(_ *Deps, o *Options) { o.DPI = 10 })
	job := NewJob(Request{ThemeID: "grid-a4", Count: 100})
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.RequiredCount != 60 {
		t.Errorf("required = %d, want 60", job.RequiredCount)
	}
	doc := env.writer.last(t)
	if len(doc.Pages) != layout.MaxGridPages {
		t.Errorf("pages = %d, want %d", len(doc.Pages), layout.MaxGridPages)
	}
	if job.Report.Pages != layout.MaxGridPages {
		t.Errorf("report pages = %d", job.Report.Pages)
	}
	capped := false
	for _, w := range job.Report.Warnings {
		if strings.Contains(w, "capped") {
			capped = true
		}
	}
	if !capped {
		t.Errorf("no cap warning in %v", job.Report.Warnings)
	}
	// every page ends with its footer
	last := doc.Pages[9].Items[len(doc.Pages[9].Items)-1]
	if last.Kind != document.KindText || !strings.Contains(last.Text.Text, "10") {
		t.Errorf("last item of page 10 is not its footer: %+v", last)
	}
}

func TestRun_GridPartialPage(t *testing.T) {
	env := newTestEnv(t, 8, nil)
	job := NewJob(Request{ThemeID: "grid-a4", Count: 8})
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc := env.writer.last(t)
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(doc.Pages))
	}
	var second int
	for _, it := range doc.Pages[1].Items {
		if it.Kind == document.KindImage {
			second++
		}
	}
	if second != 2 {
		t.Errorf("second page has %d photos, want 2", second)
	}
}

func TestRun_Flatten(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantImage bool
	}{
		{name: "single page", req: Request{ThemeID: "classic-a4", Flatten: true, Format: convert.FormatJPEG}, wantImage: true},
		{name: "multi page", req: Request{ThemeID: "grid-a4", Count: 8, Flatten: true}, wantImage: false},
		{name: "not requested", req: Request{ThemeID: "classic-a4"}, wantImage: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 8, nil)
			job := NewJob(tt.req)
			arts, err := env.engine.Run(context.Background(), job, nil)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := arts.Image != nil; got != tt.wantImage {
				t.Fatalf("image produced = %v, want %v", got, tt.wantImage)
			}
			if !tt.wantImage {
				return
			}
			if arts.ImageType != "image/jpeg" {
				t.Errorf("image type = %q", arts.ImageType)
			}
			if !strings.HasSuffix(job.ImageURL, "page.jpg") {
				t.Errorf("image url = %q", job.ImageURL)
			}
		})
	}
}

func TestRun_FailedSlotBecomesPlaceholder(t *testing.T) {
	env := newTestEnv(t, 4, nil)
	env.assets.failing["p02"] = true
	job := NewJob(Request{ThemeID: "classic-a4"})
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var placeholders int
	for _, s := range job.Report.Slots {
		if s.Placeholder {
			placeholders++
			if s.PhotoID != "p02" || !strings.Contains(s.Error, "download failed") {
				t.Errorf("placeholder = %+v", s)
			}
		}
	}
	if placeholders != 1 {
		t.Errorf("placeholders = %d, want 1", placeholders)
	}
}

func TestRun_AllSlotsFail(t *testing.T) {
	env := newTestEnv(t, 4, nil)
	for _, id := range []string{"p00", "p01", "p02", "p03"} {
		env.assets.failing[id] = true
	}
	job := NewJob(Request{ThemeID: "classic-a4"})

	var last Milestone
	_, err := env.engine.Run(context.Background(), job, func(m Milestone) { last = m })
	if !errors.Is(err, ErrNoAssets) {
		t.Fatalf("err = %v, want ErrNoAssets", err)
	}
	if job.State != StateFailed {
		t.Errorf("state = %s, want failed", job.State)
	}
	if last.State != StateFailed {
		t.Errorf("last milestone = %+v", last)
	}
	if job.DocumentURL != "" || job.ImageURL != "" {
		t.Errorf("failed job published document=%q image=%q", job.DocumentURL, job.ImageURL)
	}
	env.writer.mu.Lock()
	written := len(env.writer.docs)
	env.writer.mu.Unlock()
	if written != 0 {
		t.Errorf("writer called %d times, want 0", written)
	}
}

func TestRun_LowResolutionWarning(t *testing.T) {
	env := newTestEnv(t, 4, func(_ *Deps, o *Options) { o.LowResDPI = 1000 })
	job := NewJob(Request{ThemeID: "classic-a4"})
	if _, err := env.engine.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, s := range job.Report.Slots {
		if !s.LowRes || s.EffectiveDPI <= 0 {
			t.Errorf("slot %d: lowRes %v dpi %v", s.Slot, s.LowRes, s.EffectiveDPI)
		}
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{Writer: &fakeWriter{}}, Options{}, zerolog.Nop()); err == nil {
		t.Error("expected error without assets")
	}
	if _, err := New(Deps{Assets: &fakeAssets{}}, Options{}, zerolog.Nop()); err == nil {
		t.Error("expected error without writer")
	}
	e, err := New(Deps{Assets: &fakeAssets{}, Writer: &fakeWriter{}}, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := e.Options().DPI; got != 300 {
		t.Errorf("default dpi = %v", got)
	}
}

func TestRotateAbout(t *testing.T) {
	tests := []struct {
		name   string
		box    layout.Box
		deg    float64
		wantCX float64
		wantCY float64
	}{
		{name: "no rotation", box: layout.Box{X: 0, Y: 10, W: 10, H: 2}, deg: 0, wantCX: 5, wantCY: 11},
		{name: "quarter turn moves below to the left", box: layout.Box{X: -1, Y: 9, W: 2, H: 2}, deg: 90, wantCX: -10, wantCY: 0},
		{name: "half turn", box: layout.Box{X: 4, Y: -1, W: 2, H: 2}, deg: 180, wantCX: -5, wantCY: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rotateAbout(tt.box, 0, 0, tt.deg)
			cx, cy := got.Center()
			if math.Abs(cx-tt.wantCX) > 1e-9 || math.Abs(cy-tt.wantCY) > 1e-9 {
				t.Errorf("center = (%v, %v), want (%v, %v)", cx, cy, tt.wantCX, tt.wantCY)
			}
			if got.W != tt.box.W || got.H != tt.box.H {
				t.Errorf("size changed to %vx%v", got.W, got.H)
			}
		})
	}
}

func TestAspectToken(t *testing.T) {
	tests := []struct {
		page layout.PageSize
		want string
	}{
		{layout.PageSize{W: 210, H: 297}, "2:3"},
		{layout.PageSize{W: 297, H: 210}, "4:3"},
		{layout.PageSize{W: 203.2, H: 203.2}, "1:1"},
		{layout.PageSize{W: 152.4, H: 101.6}, "3:2"},
		{layout.PageSize{}, "1:1"},
	}
	for _, tt := range tests {
		if got := aspectToken(tt.page); got != tt.want {
			t.Errorf("aspectToken(%vx%v) = %q, want %q", tt.page.W, tt.page.H, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	photos := []PhotoAsset{
		{Title: "Lake", Tags: []string{"water", "summer"}},
		{Caption: "lake", Title: "ignored", Tags: []string{"Water", "boat"}},
	}
	if got, want := summarize(photos), "Lake; water; summer; boat"; got != want {
		t.Errorf("summarize = %q, want %q", got, want)
	}
}

func TestJobStoredRoundTrip(t *testing.T) {
	job := NewJob(Request{ThemeID: "classic-a4", Count: 3, Flatten: true, Format: convert.FormatPNG})
	job.SelectedIDs = []string{"a", "b"}
	job.Milestones = []Milestone{{State: StateSelectingPhotos, Percent: 10, Message: "ok"}}
	job.Report = &Report{Pages: 1, Warnings: []string{"w"}}

	stored, err := job.Stored()
	if err != nil {
		t.Fatalf("Stored: %v", err)
	}
	if stored.Percent != 10 || stored.ThemeID != "classic-a4" {
		t.Errorf("stored = %+v", stored)
	}
	back, err := JobFromStored(stored)
	if err != nil {
		t.Fatalf("JobFromStored: %v", err)
	}
	if back.Request.Count != 3 || !back.Request.Flatten || back.Report.Pages != 1 || len(back.Milestones) != 1 {
		t.Errorf("restored = %+v", back)
	}
}
