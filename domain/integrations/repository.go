package integrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/relaydev/syncd/pkg/encryption"
)

// ErrNotFound is returned when an integration does not exist.
var ErrNotFound = errors.New("integration not found")

// Repository provides integration persistence.
type Repository struct {
	db      bun.IDB
	secrets encryption.Decrypter
}

// NewRepository creates an integration repository.
func NewRepository(db bun.IDB, secrets encryption.Decrypter) *Repository {
	return &Repository{db: db, secrets: secrets}
}

// GetByID fetches an integration.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Integration, error) {
	integration := &Integration{}
	err := r.db.NewSelect().Model(integration).Where("i.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return integration, nil
}

// GetCredentials decrypts an integration's stored credentials.
func (r *Repository) GetCredentials(ctx context.Context, integration *Integration) (map[string]any, error) {
	creds, err := r.secrets.Decrypt(ctx, integration.Credentials)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials for integration %s: %w", integration.ID, err)
	}
	return creds, nil
}

// AdvanceLastSyncAt moves the incremental watermark forward. The guard
// keeps the watermark monotonic when two runs race: an older run finishing
// late never rewinds a newer run's watermark.
func (r *Repository) AdvanceLastSyncAt(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("last_sync_at = ?", syncedAt).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("last_sync_at IS NULL OR last_sync_at < ?", syncedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("advance last_sync_at: %w", err)
	}
	return nil
}

// ListActive returns all active integrations for a tenant.
func (r *Repository) ListActive(ctx context.Context, tenantID uuid.UUID) ([]*Integration, error) {
	var out []*Integration
	err := r.db.NewSelect().
		Model(&out).
		Where("i.tenant_id = ?", tenantID).
		Where("i.active = TRUE").
		Order("i.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	return out, nil
}
