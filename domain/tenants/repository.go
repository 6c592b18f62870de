package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned when a tenant does not exist.
var ErrNotFound = errors.New("tenant not found")

// Repository provides tenant persistence.
type Repository struct {
	db bun.IDB
}

// NewRepository creates a tenant repository.
func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// GetByID fetches a tenant.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	tenant := &Tenant{}
	err := r.db.NewSelect().Model(tenant).Where("t.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return tenant, nil
}

// Create inserts a tenant.
func (r *Repository) Create(ctx context.Context, tenant *Tenant) error {
	if _, err := r.db.NewInsert().Model(tenant).Exec(ctx); err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// UpdateTier changes a tenant's tier. Callers must invalidate the tier
// cache afterwards so routing picks up the change within one TTL.
func (r *Repository) UpdateTier(ctx context.Context, id uuid.UUID, tier string) error {
	res, err := r.db.NewUpdate().
		Model((*Tenant)(nil)).
		Set("tier = ?", tier).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update tenant tier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
