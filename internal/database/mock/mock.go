// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/memorybook/internal/database"
)

// MockJobRepository is an in-memory implementation of database.JobWriter
type MockJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*database.StoredJob

	// Saves records the state of every SaveJob call in order
	Saves []string

	// Error injection
	GetError    error
	ListError   error
	SaveError   error
	DeleteError error
}

// NewMockJobRepository creates a new mock job repository
func NewMockJobRepository() *MockJobRepository {
	return &MockJobRepository{
		jobs: make(map[string]*database.StoredJob),
	}
}

// AddJob adds a job to the mock store without recording a save
func (m *MockJobRepository) AddJob(job database.StoredJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = clone(&job)
}

// GetJob retrieves a job by ID
func (m *MockJobRepository) GetJob(ctx context.Context, id string) (*database.StoredJob, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, database.ErrJobNotFound
	}
	return clone(job), nil
}

// ListJobs returns the most recently updated jobs first
func (m *MockJobRepository) ListJobs(ctx context.Context, limit int) ([]database.StoredJob, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]database.StoredJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *clone(job))
	}
	slices.SortFunc(jobs, func(a, b database.StoredJob) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// SaveJob stores a copy of the job
func (m *MockJobRepository) SaveJob(ctx context.Context, job *database.StoredJob) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = clone(job)
	m.Saves = append(m.Saves, job.State)
	return nil
}

// DeleteJob removes a job
func (m *MockJobRepository) DeleteJob(ctx context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

// SavedStates returns a copy of the states passed to SaveJob
func (m *MockJobRepository) SavedStates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.Saves)
}

func clone(job *database.StoredJob) *database.StoredJob {
	c := *job
	c.SelectedIDs = slices.Clone(job.SelectedIDs)
	c.Milestones = slices.Clone(job.Milestones)
	c.Request = slices.Clone(job.Request)
	c.Report = slices.Clone(job.Report)
	return &c
}

var _ database.JobWriter = (*MockJobRepository)(nil)
