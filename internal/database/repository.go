package database

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job ID is unknown.
var ErrJobNotFound = errors.New("job not found")

// JobReader provides read-only access to generation jobs
type JobReader interface {
	// GetJob retrieves a job by ID, returns ErrJobNotFound if missing
	GetJob(ctx context.Context, id string) (*StoredJob, error)
	// ListJobs returns the most recently updated jobs first
	ListJobs(ctx context.Context, limit int) ([]StoredJob, error)
}

// JobWriter provides write access to generation jobs
type JobWriter interface {
	JobReader

	// SaveJob inserts or replaces the job; UpdatedAt is set by the store
	SaveJob(ctx context.Context, job *StoredJob) error
	// DeleteJob removes a job; deleting a missing job is not an error
	DeleteJob(ctx context.Context, id string) error
}
