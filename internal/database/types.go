package database

import (
	"encoding/json"
	"time"
)

// Job states as persisted. They mirror the compositor state machine.
const (
	JobStateDone   = "done"
	JobStateFailed = "failed"
)

// StoredJob is a generation job as persisted between pipeline states.
type StoredJob struct {
	ID            string
	ThemeID       string
	State         string
	Percent       int
	RequiredCount int
	SelectedIDs   []string
	Reasoning     string
	Story         string
	StoryPrompt   string
	BackgroundRef string
	Error         string
	DocumentURL   string
	ImageURL      string
	Milestones    []StoredMilestone
	Request       json.RawMessage // the original job request, replayed on resume
	Report        json.RawMessage // per-slot export report
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StoredMilestone is one progress milestone of a job.
type StoredMilestone struct {
	State   string    `json:"state"`
	Percent int       `json:"percent"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Terminal reports whether the job will not change anymore.
func (j *StoredJob) Terminal() bool {
	return j.State == JobStateDone || j.State == JobStateFailed
}
