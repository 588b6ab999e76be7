package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kozaktomas/memorybook/internal/database"
)

const defaultListLimit = 50

// JobRepository provides PostgreSQL-backed generation job storage
type JobRepository struct {
	pool *Pool
}

// NewJobRepository creates a new PostgreSQL job repository
func NewJobRepository(pool *Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, theme_id, state, percent, required_count, selected_ids, reasoning,
	story, story_prompt, background_ref, error, document_url, image_url,
	milestones, request, report, created_at, updated_at`

// SaveJob stores a job in the database
func (r *JobRepository) SaveJob(ctx context.Context, job *database.StoredJob) error {
	milestones, err := json.Marshal(job.Milestones)
	if err != nil {
		return fmt.Errorf("encode milestones: %w", err)
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `
		INSERT INTO generation_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			theme_id = EXCLUDED.theme_id,
			state = EXCLUDED.state,
			percent = EXCLUDED.percent,
			required_count = EXCLUDED.required_count,
			selected_ids = EXCLUDED.selected_ids,
			reasoning = EXCLUDED.reasoning,
			story = EXCLUDED.story,
			story_prompt = EXCLUDED.story_prompt,
			background_ref = EXCLUDED.background_ref,
			error = EXCLUDED.error,
			document_url = EXCLUDED.document_url,
			image_url = EXCLUDED.image_url,
			milestones = EXCLUDED.milestones,
			request = EXCLUDED.request,
			report = EXCLUDED.report,
			updated_at = EXCLUDED.updated_at
	`

	selected := job.SelectedIDs
	if selected == nil {
		selected = []string{}
	}
	_, err = r.pool.Exec(ctx, query,
		job.ID, job.ThemeID, job.State, job.Percent, job.RequiredCount,
		pq.Array(selected), job.Reasoning, job.Story, job.StoryPrompt,
		job.BackgroundRef, job.Error, job.DocumentURL, job.ImageURL,
		milestones, nullJSON(job.Request), nullJSON(job.Report),
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, id string) (*database.StoredJob, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM generation_jobs WHERE id = $1", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the most recently updated jobs
func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]database.StoredJob, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.pool.Query(ctx, "SELECT "+jobColumns+" FROM generation_jobs ORDER BY updated_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []database.StoredJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job from the database
func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM generation_jobs WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// DeleteFinishedBefore removes terminal jobs last updated before the cutoff
// and returns the count deleted
func (r *JobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx,
		"DELETE FROM generation_jobs WHERE state IN ($1, $2) AND updated_at < $3",
		database.JobStateDone, database.JobStateFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*database.StoredJob, error) {
	var job database.StoredJob
	var milestones, request, report []byte
	err := s.Scan(
		&job.ID,
		&job.ThemeID,
		&job.State,
		&job.Percent,
		&job.RequiredCount,
		pq.Array(&job.SelectedIDs),
		&job.Reasoning,
		&job.Story,
		&job.StoryPrompt,
		&job.BackgroundRef,
		&job.Error,
		&job.DocumentURL,
		&job.ImageURL,
		&milestones,
		&request,
		&report,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(milestones) > 0 {
		if err := json.Unmarshal(milestones, &job.Milestones); err != nil {
			return nil, fmt.Errorf("decode milestones: %w", err)
		}
	}
	if len(request) > 0 {
		job.Request = request
	}
	if len(report) > 0 {
		job.Report = report
	}
	return &job, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
