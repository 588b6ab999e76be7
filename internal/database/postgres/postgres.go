// Package postgres persists generation jobs in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/memorybook/internal/config"
	"github.com/kozaktomas/memorybook/internal/database"
)

// Pool is the job store connection pool.
type Pool struct {
	db     *sql.DB
	logger zerolog.Logger
}

var (
	jobPool *Pool
	poolMu  sync.RWMutex
)

// NewPool connects to the job store and checks it answers.
func NewPool(cfg *config.DatabaseConfig, logger zerolog.Logger) (*Pool, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("job store URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	// Jobs are written a handful of times per render; idle connections can
	// be recycled freely.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("job store unreachable: %w", err)
	}

	return &Pool{db: db, logger: logger.With().Str("component", "jobstore").Logger()}, nil
}

// Close releases the job store connections.
func (p *Pool) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close job store: %w", err)
	}
	return nil
}

// GetGlobalPool returns the pool opened by Initialize, or nil.
func GetGlobalPool() *Pool {
	poolMu.RLock()
	defer poolMu.RUnlock()
	return jobPool
}

func setGlobalPool(p *Pool) {
	poolMu.Lock()
	defer poolMu.Unlock()
	jobPool = p
}

// QueryRow runs a query returning at most one job row.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// Query runs a query returning job rows.
func (p *Pool) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return rows, nil
}

// Exec runs a job statement that returns no rows.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("write jobs: %w", err)
	}
	return result, nil
}

// Initialize opens the job store, brings its schema up to date and
// registers the job repository with the database package.
func Initialize(cfg *config.DatabaseConfig, logger zerolog.Logger) error {
	pool, err := NewPool(cfg, logger)
	if err != nil {
		return err
	}

	if err := pool.Migrate(context.Background()); err != nil {
		_ = pool.Close()
		return fmt.Errorf("migrate job store: %w", err)
	}

	setGlobalPool(pool)
	repo := NewJobRepository(pool)
	database.RegisterPostgresBackend(func() database.JobWriter { return repo })
	pool.logger.Debug().Msg("job store ready")
	return nil
}
