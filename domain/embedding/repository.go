package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Repository persists embedding queue entries.
type Repository struct {
	db bun.IDB
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// Record upserts a pending entry, populating its ID. A record re-indexed by
// a later run (or a redelivered message) reuses its existing row instead of
// inserting a duplicate.
func (r *Repository) Record(ctx context.Context, entry *QueueEntry) error {
	_, err := r.db.NewInsert().
		Model(entry).
		On("CONFLICT (tenant_id, table_name, external_id) DO UPDATE").
		Set("job_id = EXCLUDED.job_id").
		Set("content = EXCLUDED.content").
		Set("status = EXCLUDED.status").
		Set("attempts = 0").
		Set("error_message = NULL").
		Set("updated_at = now()").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record embedding entry: %w", err)
	}
	return nil
}

// MarkCompleted finishes an entry after a successful vector-store call.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, attempts int) error {
	_, err := r.db.NewUpdate().
		Model((*QueueEntry)(nil)).
		Set("status = ?", EntryCompleted).
		Set("attempts = ?", attempts).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete embedding entry: %w", err)
	}
	return nil
}

// MarkFailed records an exhausted entry.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	_, err := r.db.NewUpdate().
		Model((*QueueEntry)(nil)).
		Set("status = ?", EntryFailed).
		Set("attempts = ?", attempts).
		Set("error_message = ?", errMsg).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("fail embedding entry: %w", err)
	}
	return nil
}

// PruneCompleted deletes completed entries older than the retention window.
func (r *Repository) PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*QueueEntry)(nil)).
		Where("status = ?", EntryCompleted).
		Where("updated_at < now() - (? || ' seconds')::interval", int(olderThan.Seconds())).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune embedding entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
