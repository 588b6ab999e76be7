package handlers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/database"
)

// eventChannelBuffer is the buffer size of a listener channel.
const eventChannelBuffer = 100

// ErrJobRunning is returned when a running job is resumed or deleted.
var ErrJobRunning = errors.New("job is running")

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, eventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	Finished() bool
}

// JobView is the JSON form of a job.
type JobView struct {
	compositor.GenerationJob
	Percent   int  `json:"percent"`
	Running   bool `json:"running"`
	Cancelled bool `json:"cancelled,omitempty"`
	HasImage  bool `json:"hasImage,omitempty"`
}

// RenderJob is a generation job run by the server.
type RenderJob struct {
	EventBroadcaster

	// job is only touched by the runner goroutine while running is set.
	job       *compositor.GenerationJob
	view      compositor.GenerationJob
	artifacts *compositor.Artifacts
	running   bool
	cancelled bool
	done      chan struct{}
}

func newRenderJob(job *compositor.GenerationJob) *RenderJob {
	done := make(chan struct{})
	close(done)
	return &RenderJob{job: job, view: snapshot(job), done: done}
}

// snapshot copies the fields of job the API exposes.
func snapshot(job *compositor.GenerationJob) compositor.GenerationJob {
	s := *job
	s.Candidates = nil
	s.Background = nil
	s.SelectedIDs = slices.Clone(job.SelectedIDs)
	s.Milestones = slices.Clone(job.Milestones)
	return s
}

// ID returns the job ID.
func (j *RenderJob) ID() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.view.ID
}

// View returns a consistent copy of the job state.
func (j *RenderJob) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobView{
		GenerationJob: j.view,
		Percent:       j.view.Percent(),
		Running:       j.running,
		Cancelled:     j.cancelled,
		HasImage:      j.artifacts != nil && j.artifacts.Image != nil,
	}
}

// Finished reports whether the job is not running (implements SSEJob).
func (j *RenderJob) Finished() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return !j.running
}

// Done is closed when the current run ends.
func (j *RenderJob) Done() <-chan struct{} {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.done
}

// Artifacts returns the outputs of a finished run, nil before.
func (j *RenderJob) Artifacts() *compositor.Artifacts {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.artifacts
}

// Cancel stops a running job. It returns false when the job is not running.
func (j *RenderJob) Cancel() bool {
	j.mu.Lock()
	if !j.running || j.cancelled {
		j.mu.Unlock()
		return false
	}
	j.cancelled = true
	cancel := j.cancel
	j.mu.Unlock()

	cancel()
	j.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
	return true
}

// update refreshes the snapshot. It is called from the runner goroutine.
func (j *RenderJob) update() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.view = snapshot(j.job)
}

func (j *RenderJob) finish(arts *compositor.Artifacts, err error) {
	j.mu.Lock()
	j.view = snapshot(j.job)
	j.artifacts = arts
	j.running = false
	done := j.done
	j.mu.Unlock()

	ev := JobEvent{Type: "completed", Message: "book ready", Data: j.View()}
	if err != nil {
		ev = JobEvent{Type: "failed", Message: err.Error(), Data: j.View()}
	}
	j.SendEvent(ev)
	close(done)
}

// JobManager runs generation jobs in the background and keeps them in
// memory. With a store, jobs of earlier server runs can be listed and
// resumed too.
type JobManager struct {
	engine *compositor.Engine
	store  database.JobWriter
	logger zerolog.Logger
	jobs   map[string]*RenderJob
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

// NewJobManager creates a new job manager. store may be nil.
func NewJobManager(engine *compositor.Engine, store database.JobWriter, logger zerolog.Logger) *JobManager {
	return &JobManager{
		engine: engine,
		store:  store,
		logger: logger.With().Str("component", "jobs").Logger(),
		jobs:   make(map[string]*RenderJob),
	}
}

// Start creates a job for req and runs it in the background.
func (m *JobManager) Start(req compositor.Request) (*RenderJob, error) {
	rj := newRenderJob(compositor.NewJob(req))
	m.mu.Lock()
	m.jobs[rj.view.ID] = rj
	m.mu.Unlock()

	if err := m.launch(rj); err != nil {
		return nil, err
	}
	return rj, nil
}

// Resume runs a stopped job again from where it stopped.
func (m *JobManager) Resume(ctx context.Context, id string) (*RenderJob, error) {
	rj := m.GetJob(id)
	if rj == nil {
		stored, err := m.loadStored(ctx, id)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		// a concurrent resume may have loaded it first
		if existing, ok := m.jobs[id]; ok {
			rj = existing
		} else {
			rj = newRenderJob(stored)
			m.jobs[id] = rj
		}
		m.mu.Unlock()
	}
	if err := m.launch(rj); err != nil {
		return nil, err
	}
	return rj, nil
}

func (m *JobManager) launch(rj *RenderJob) error {
	rj.mu.Lock()
	switch {
	case rj.running:
		rj.mu.Unlock()
		return ErrJobRunning
	case rj.job.State == compositor.StateDone:
		rj.mu.Unlock()
		return fmt.Errorf("%w: %s", compositor.ErrJobFinished, rj.job.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	rj.running = true
	rj.cancelled = false
	rj.cancel = cancel
	rj.done = make(chan struct{})
	rj.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		logger := m.logger.With().Str("job", rj.job.ID).Logger()
		logger.Info().Str("theme", rj.job.Request.ThemeID).Msg("job started")

		arts, err := m.engine.Run(ctx, rj.job, func(ms compositor.Milestone) {
			rj.update()
			rj.SendEvent(JobEvent{Type: "milestone", Message: ms.Message, Data: ms})
		})
		if err != nil {
			logger.Warn().Err(err).Msg("job stopped")
		} else {
			logger.Info().Msg("job finished")
		}
		rj.finish(arts, err)
	}()
	return nil
}

func (m *JobManager) loadStored(ctx context.Context, id string) (*compositor.GenerationJob, error) {
	if m.store == nil {
		return nil, database.ErrJobNotFound
	}
	stored, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return compositor.JobFromStored(stored)
}

// GetJob retrieves a job of this server run by ID.
func (m *JobManager) GetJob(id string) *RenderJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// Lookup returns the view of a job from memory or the store.
func (m *JobManager) Lookup(ctx context.Context, id string) (JobView, error) {
	if rj := m.GetJob(id); rj != nil {
		return rj.View(), nil
	}
	job, err := m.loadStored(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return JobView{GenerationJob: *job, Percent: job.Percent()}, nil
}

// ListJobs returns up to limit jobs, newest first.
func (m *JobManager) ListJobs(ctx context.Context, limit int) ([]JobView, error) {
	m.mu.RLock()
	views := make([]JobView, 0, len(m.jobs))
	for _, job := range m.jobs {
		views = append(views, job.View())
	}
	m.mu.RUnlock()

	if m.store != nil {
		known := make(map[string]bool, len(views))
		for _, v := range views {
			known[v.ID] = true
		}
		stored, err := m.store.ListJobs(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("list stored jobs: %w", err)
		}
		for i := range stored {
			if known[stored[i].ID] {
				continue
			}
			job, err := compositor.JobFromStored(&stored[i])
			if err != nil {
				m.logger.Warn().Err(err).Str("job", stored[i].ID).Msg("skipping unreadable job")
				continue
			}
			views = append(views, JobView{GenerationJob: *job, Percent: job.Percent()})
		}
	}

	slices.SortFunc(views, func(a, b JobView) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

// DeleteJob removes a stopped job from memory and the store.
func (m *JobManager) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	rj, inMemory := m.jobs[id]
	if inMemory {
		if !rj.Finished() {
			m.mu.Unlock()
			return ErrJobRunning
		}
		delete(m.jobs, id)
	}
	m.mu.Unlock()

	if m.store == nil {
		if !inMemory {
			return database.ErrJobNotFound
		}
		return nil
	}
	if !inMemory {
		if _, err := m.store.GetJob(ctx, id); err != nil {
			return err
		}
	}
	return m.store.DeleteJob(ctx, id)
}

// Shutdown cancels every running job and waits for them to stop.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, job := range m.jobs {
		job.Cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
