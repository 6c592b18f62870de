package embedding

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/relaydev/syncd/pkg/logger"
)

// VectorStore computes and stores the vector representation of one record.
// Keys are (tenant, table, external_id), so repeated calls for the same
// record overwrite rather than duplicate.
type VectorStore interface {
	StoreVector(ctx context.Context, tenantID uuid.UUID, table, externalID, content string) error
}

// NoopStore satisfies VectorStore without an external vector backend.
// Deployments wire a real implementation in its place.
type NoopStore struct {
	log *slog.Logger
}

func NewNoopStore(log *slog.Logger) *NoopStore {
	return &NoopStore{log: log.With(logger.Scope("embedding.noop-store"))}
}

func (s *NoopStore) StoreVector(ctx context.Context, tenantID uuid.UUID, table, externalID, content string) error {
	s.log.Debug("vector store call skipped",
		slog.String("tenant_id", tenantID.String()),
		slog.String("table", table),
		slog.String("external_id", externalID),
		slog.Int("content_len", len(content)))
	return nil
}
