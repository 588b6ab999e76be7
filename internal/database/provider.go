package database

import (
	"context"
	"errors"
)

var (
	postgresJobWriter   func() JobWriter
	postgresInitialized bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(jobWriter func() JobWriter) {
	postgresJobWriter = jobWriter
	postgresInitialized = jobWriter != nil
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetJobWriter returns a JobWriter from the PostgreSQL backend
func GetJobWriter(ctx context.Context) (JobWriter, error) {
	if !postgresInitialized {
		return nil, errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	return postgresJobWriter(), nil
}

// GetJobReader returns a JobReader from the PostgreSQL backend
func GetJobReader(ctx context.Context) (JobReader, error) {
	return GetJobWriter(ctx)
}
