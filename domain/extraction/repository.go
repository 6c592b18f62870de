package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Repository provides raw staging persistence.
type Repository struct {
	db bun.IDB
}

// NewRepository creates a raw data repository.
func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// StoreBatch inserts staged rows, populating their IDs.
func (r *Repository) StoreBatch(ctx context.Context, rows []*RawData) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := r.db.NewInsert().Model(&rows).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("store raw batch: %w", err)
	}
	return nil
}

// GetByID fetches a staged row.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*RawData, error) {
	row := &RawData{}
	err := r.db.NewSelect().Model(row).Where("red.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get raw row: %w", err)
	}
	return row, nil
}

// Acquire flips a pending row to processing. Returns false when the row was
// already taken or finished, which makes redelivered transform messages
// idempotent.
func (r *Repository) Acquire(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*RawData)(nil)).
		Set("status = ?", RawProcessing).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = ?", RawPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire raw row: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Release returns a processing row to pending so a redelivery can retry it.
func (r *Repository) Release(ctx context.Context, id uuid.UUID, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	_, err := r.db.NewUpdate().
		Model((*RawData)(nil)).
		Set("status = ?", RawPending).
		Set("error_message = ?", errMsg).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release raw row: %w", err)
	}
	return nil
}

// MarkCompleted finishes a processed row.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*RawData)(nil)).
		Set("status = ?", RawCompleted).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete raw row: %w", err)
	}
	return nil
}

// MarkFailed permanently fails a row.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	_, err := r.db.NewUpdate().
		Model((*RawData)(nil)).
		Set("status = ?", RawFailed).
		Set("error_message = ?", errMsg).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("fail raw row: %w", err)
	}
	return nil
}

// RunComplete reports whether every staged row of a job run is settled
// (completed or failed) and the run's final row has been staged. Rows are
// scoped to the run by its start timestamp, so leftovers from earlier runs
// of the same job do not count.
func (r *Repository) RunComplete(ctx context.Context, jobID uuid.UUID, since *time.Time) (bool, error) {
	var res struct {
		Unsettled int  `bun:"unsettled"`
		FinalSeen bool `bun:"final_seen"`
	}
	q := r.db.NewSelect().
		Model((*RawData)(nil)).
		ColumnExpr("count(*) FILTER (WHERE red.status IN (?, ?)) AS unsettled", RawPending, RawProcessing).
		ColumnExpr("COALESCE(bool_or(red.is_final), FALSE) AS final_seen").
		Where("red.job_id = ?", jobID)
	if since != nil {
		q = q.Where("red.created_at >= ?", *since)
	}
	if err := q.Scan(ctx, &res); err != nil {
		return false, fmt.Errorf("check run completion: %w", err)
	}
	return res.Unsettled == 0 && res.FinalSeen, nil
}

// PruneCompleted deletes completed rows older than the retention window.
// Returns the number of rows removed.
func (r *Repository) PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*RawData)(nil)).
		Where("status = ?", RawCompleted).
		Where("updated_at < now() - (? || ' seconds')::interval", int(olderThan.Seconds())).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune raw rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
