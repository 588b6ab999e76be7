// Package compositor runs a generation job through its pipeline: select
// photos, write the story, prepare the background, render every slot,
// assemble the pages and serialize the document.
package compositor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/memorybook/internal/convert"
	"github.com/kozaktomas/memorybook/internal/database"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
	"github.com/kozaktomas/memorybook/internal/theme"
)

// State is a pipeline stage of a job.
type State string

const (
	StateSelectingPhotos     State = "selecting_photos"
	StateGeneratingStory     State = "generating_story"
	StatePreparingBackground State = "preparing_background"
	StateRenderingSlots      State = "rendering_slots"
	StateAssemblingPages     State = "assembling_pages"
	StateFinalizing          State = "finalizing"
	StateDone                State = State(database.JobStateDone)
	StateFailed              State = State(database.JobStateFailed)
)

// statePercent is the completion reported when a state finishes.
var statePercent = map[State]int{
	StateSelectingPhotos:     10,
	StateGeneratingStory:     25,
	StatePreparingBackground: 35,
	StateRenderingSlots:      75,
	StateAssemblingPages:     85,
	StateFinalizing:          95,
	StateDone:                100,
}

// Percent returns the completion percentage reached when s completes.
func (s State) Percent() int {
	return statePercent[s]
}

// Terminal reports whether no further state follows.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// PhotoAsset is a candidate photo. Width and Height are as stored, before
// EXIF orientation.
type PhotoAsset struct {
	ID          string              `json:"id"`
	Width       int                 `json:"width"`
	Height      int                 `json:"height"`
	Orientation int                 `json:"orientation,omitempty"`
	Faces       []smartcrop.FaceBox `json:"faces,omitempty"`
	Title       string              `json:"title,omitempty"`
	Caption     string              `json:"caption,omitempty"`
	TakenAt     string              `json:"takenAt,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
}

// Text returns the caption, or the title when there is none.
func (p PhotoAsset) Text() string {
	if p.Caption != "" {
		return p.Caption
	}
	return p.Title
}

// Request is what a caller asks for. It is persisted with the job so an
// interrupted job can be resumed.
type Request struct {
	ThemeID     string         `json:"themeId"`
	Theme       *theme.Theme   `json:"theme,omitempty"` // inline theme, overrides ThemeID
	Count       int            `json:"count,omitempty"` // photos for grid layouts
	Album       string         `json:"album,omitempty"`
	Query       string         `json:"query,omitempty"`
	PhotoIDs    []string       `json:"photoIds,omitempty"` // preselected photos, skips the selector
	Story       string         `json:"story,omitempty"`    // fixed story text, skips the generator
	StoryPrompt string         `json:"storyPrompt,omitempty"`
	Flatten     bool           `json:"flatten,omitempty"`
	Format      convert.Format `json:"format,omitempty"`
}

// Milestone is reported once per completed state.
type Milestone struct {
	State   State     `json:"state"`
	Percent int       `json:"percent"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// SlotResult is the outcome of one slot.
type SlotResult struct {
	Page         int     `json:"page"`
	Slot         int     `json:"slot"`
	PhotoID      string  `json:"photoId,omitempty"`
	Strategy     string  `json:"strategy,omitempty"`
	Shape        string  `json:"shape,omitempty"`
	Faces        int     `json:"faces"`
	EffectiveDPI float64 `json:"effectiveDpi,omitempty"`
	LowRes       bool    `json:"lowRes,omitempty"`
	Placeholder  bool    `json:"placeholder,omitempty"`
	Empty        bool    `json:"empty,omitempty"` // no photo left for the slot
	Error        string  `json:"error,omitempty"`
}

// Report summarizes the export.
type Report struct {
	Pages    int          `json:"pages"`
	Slots    []SlotResult `json:"slots"`
	Warnings []string     `json:"warnings,omitempty"`
}

// GenerationJob carries everything a job has produced so far. A job can be
// run again from any state; completed work is not repeated.
type GenerationJob struct {
	ID                 string       `json:"id"`
	State              State        `json:"state"`
	Request            Request      `json:"request"`
	RequiredCount      int          `json:"requiredCount"`
	Candidates         []PhotoAsset `json:"-"`
	SelectedIDs        []string     `json:"selectedIds,omitempty"`
	SelectionReasoning string       `json:"selectionReasoning,omitempty"`
	Story              string       `json:"story,omitempty"`
	BackgroundRef      string       `json:"backgroundRef,omitempty"`
	Background         []byte       `json:"-"`
	Report             *Report      `json:"report,omitempty"`
	Milestones         []Milestone  `json:"milestones"`
	Error              string       `json:"error,omitempty"`
	DocumentURL        string       `json:"documentUrl,omitempty"`
	ImageURL           string       `json:"imageUrl,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// NewJob creates a job for req.
func NewJob(req Request) *GenerationJob {
	return &GenerationJob{
		ID:        uuid.NewString(),
		State:     StateSelectingPhotos,
		Request:   req,
		Story:     req.Story,
		CreatedAt: time.Now(),
	}
}

// Percent returns the completion of the last milestone.
func (j *GenerationJob) Percent() int {
	if len(j.Milestones) == 0 {
		return 0
	}
	return j.Milestones[len(j.Milestones)-1].Percent
}

// Stored converts the job for persistence.
func (j *GenerationJob) Stored() (*database.StoredJob, error) {
	req, err := json.Marshal(j.Request)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	s := &database.StoredJob{
		ID:            j.ID,
		ThemeID:       j.Request.ThemeID,
		State:         string(j.State),
		Percent:       j.Percent(),
		RequiredCount: j.RequiredCount,
		SelectedIDs:   j.SelectedIDs,
		Reasoning:     j.SelectionReasoning,
		Story:         j.Story,
		StoryPrompt:   j.Request.StoryPrompt,
		BackgroundRef: j.BackgroundRef,
		Error:         j.Error,
		DocumentURL:   j.DocumentURL,
		ImageURL:      j.ImageURL,
		Request:       req,
		CreatedAt:     j.CreatedAt,
	}
	for _, m := range j.Milestones {
		s.Milestones = append(s.Milestones, database.StoredMilestone{
			State: string(m.State), Percent: m.Percent, Message: m.Message, At: m.At,
		})
	}
	if j.Report != nil {
		if s.Report, err = json.Marshal(j.Report); err != nil {
			return nil, fmt.Errorf("encode report: %w", err)
		}
	}
	return s, nil
}

// JobFromStored restores a persisted job.
func JobFromStored(s *database.StoredJob) (*GenerationJob, error) {
	j := &GenerationJob{
		ID:                 s.ID,
		State:              State(s.State),
		RequiredCount:      s.RequiredCount,
		SelectedIDs:        s.SelectedIDs,
		SelectionReasoning: s.Reasoning,
		Story:              s.Story,
		BackgroundRef:      s.BackgroundRef,
		Error:              s.Error,
		DocumentURL:        s.DocumentURL,
		ImageURL:           s.ImageURL,
		CreatedAt:          s.CreatedAt,
	}
	if len(s.Request) > 0 {
		if err := json.Unmarshal(s.Request, &j.Request); err != nil {
			return nil, fmt.Errorf("decode request of job %s: %w", s.ID, err)
		}
	}
	if j.Request.ThemeID == "" {
		j.Request.ThemeID = s.ThemeID
	}
	for _, m := range s.Milestones {
		j.Milestones = append(j.Milestones, Milestone{
			State: State(m.State), Percent: m.Percent, Message: m.Message, At: m.At,
		})
	}
	if len(s.Report) > 0 {
		j.Report = &Report{}
		if err := json.Unmarshal(s.Report, j.Report); err != nil {
			return nil, fmt.Errorf("decode report of job %s: %w", s.ID, err)
		}
	}
	return j, nil
}
