package etljobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("etl job not found")

// Repository provides job persistence and the atomic claim used by the
// dispatcher.
type Repository struct {
	db bun.IDB
}

// NewRepository creates a job repository.
func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// GetByID fetches a job.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*ETLJob, error) {
	job := &ETLJob{}
	err := r.db.NewSelect().Model(job).Where("j.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Create inserts a job. The unique (tenant_id, job_name) constraint keeps
// a tenant from holding two jobs with the same name.
func (r *Repository) Create(ctx context.Context, job *ETLJob) error {
	if _, err := r.db.NewInsert().Model(job).Exec(ctx); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// ClaimDue atomically claims up to limit due jobs inside the caller's
// transaction, flipping them to RUNNING. FOR UPDATE SKIP LOCKED lets
// multiple scheduler instances tick concurrently without double-starting a
// job.
func (r *Repository) ClaimDue(ctx context.Context, tx bun.IDB, limit int) ([]*ETLJob, error) {
	// Strategic SQL that cannot be expressed with Bun's query builder.
	// The WHERE clause mirrors isDue: inactive jobs (and jobs of inactive
	// tenants) are skipped, RUNNING is never claimed, FAILED jobs wait
	// retry_interval, the rest wait schedule_interval.
	var jobs []*ETLJob
	err := tx.NewRaw(`
		WITH cte AS (
			SELECT id FROM etl_jobs
			WHERE active = TRUE
				AND status != 'RUNNING'
				AND EXISTS (
					SELECT 1 FROM tenants t
					WHERE t.id = etl_jobs.tenant_id AND t.active = TRUE
				)
				AND (
					last_run_started_at IS NULL
					OR (status = 'FAILED'
						AND last_run_started_at <= now() - (retry_interval / 1000000000.0) * interval '1 second')
					OR (status != 'FAILED'
						AND last_run_started_at <= now() - (schedule_interval / 1000000000.0) * interval '1 second')
				)
			ORDER BY last_run_started_at ASC NULLS FIRST
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE etl_jobs j
		SET status = 'RUNNING',
			last_run_started_at = now(),
			error_message = NULL,
			updated_at = now()
		FROM cte WHERE j.id = cte.id
		RETURNING j.*`,
		limit).Scan(ctx, &jobs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	return jobs, nil
}

// MarkFinished finalizes a successful run: clears the checkpoint, resets
// the retry count and stamps the finish time.
func (r *Repository) MarkFinished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*ETLJob)(nil)).
		Set("status = ?", StatusFinished).
		Set("last_run_finished_at = now()").
		Set("retry_count = 0").
		Set("checkpoint_data = NULL").
		Set("error_message = NULL").
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}
	return nil
}

// MarkFailed fails a run. The checkpoint is left intact so the retry
// resumes where the run stopped.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	_, err := r.db.NewUpdate().
		Model((*ETLJob)(nil)).
		Set("status = ?", StatusFailed).
		Set("retry_count = retry_count + 1").
		Set("error_message = ?", errMsg).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// SaveCheckpoint persists run progress. Extractors call this after every
// completed step or page so a retry never repeats finished work.
func (r *Repository) SaveCheckpoint(ctx context.Context, id uuid.UUID, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = r.db.NewUpdate().
		Model((*ETLJob)(nil)).
		Set("checkpoint_data = ?", string(data)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// RecoverStuck fails RUNNING jobs whose run started longer ago than the
// message TTL: their in-flight messages have expired, so the run can never
// complete.
func (r *Repository) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := r.db.NewUpdate().
		Model((*ETLJob)(nil)).
		Set("status = ?", StatusFailed).
		Set("retry_count = retry_count + 1").
		Set("error_message = ?", "run abandoned: in-flight messages expired").
		Set("updated_at = now()").
		Where("status = ?", StatusRunning).
		Where("last_run_started_at < now() - (? || ' seconds')::interval", int(olderThan.Seconds())).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stuck jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
