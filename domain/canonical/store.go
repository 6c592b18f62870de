package canonical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/database"
	"github.com/relaydev/syncd/pkg/metrics"
)

// ErrNotFound is returned when a canonical record does not exist.
var ErrNotFound = errors.New("canonical record not found")

// Store writes canonical rows in batches and reads them back for indexing.
// Writes go to the primary, single-record reads to the replica.
type Store struct {
	db        bun.IDB
	replica   bun.IDB
	batchSize int
}

func NewStore(db *bun.DB, replica *database.ReplicaDB, cfg *config.Config) *Store {
	return &Store{db: db, replica: replica.DB, batchSize: cfg.Transform.UpsertBatchSize}
}

// upsertBatch inserts rows in chunks, resolving conflicts on the natural key
// by updating the listed columns. Redelivered messages converge to the same
// row state, which is what makes the pipeline's at-least-once delivery safe.
func upsertBatch[T any](ctx context.Context, db bun.IDB, table string, rows []T, batchSize int, updateCols []string) error {
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		q := db.NewInsert().
			Model(&chunk).
			On("CONFLICT (tenant_id, integration_id, external_id) DO UPDATE")
		for _, col := range updateCols {
			q = q.Set(fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
		q = q.Set("updated_at = now()")

		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
		metrics.UpsertedRows.WithLabelValues(table, "upsert").Add(float64(len(chunk)))
	}
	return nil
}

func (s *Store) UpsertProjects(ctx context.Context, rows []*Project) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableProjects, rows, s.batchSize,
		[]string{"name", "key", "description", "url", "active"})
}

func (s *Store) UpsertWITs(ctx context.Context, rows []*WIT) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableWITs, rows, s.batchSize,
		[]string{"name", "description", "icon_url", "subtask", "active"})
}

func (s *Store) UpsertWorkItems(ctx context.Context, rows []*WorkItem) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableWorkItems, rows, s.batchSize,
		[]string{
			"project_external_id", "wit_external_id", "title", "description",
			"status_external_id", "assignee", "reporter", "priority", "labels",
			"parent_external_id", "external_created_at", "external_updated_at", "active",
		})
}

func (s *Store) UpsertStatuses(ctx context.Context, rows []*Status) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableStatuses, rows, s.batchSize,
		[]string{"name", "category", "active"})
}

func (s *Store) UpsertWorkflows(ctx context.Context, rows []*Workflow) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableWorkflows, rows, s.batchSize,
		[]string{"name", "project_external_id", "active"})
}

func (s *Store) UpsertStatusMappings(ctx context.Context, rows []*StatusMapping) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableStatusMappings, rows, s.batchSize,
		[]string{"workflow_external_id", "status_name", "flow_step", "active"})
}

func (s *Store) UpsertChangelogs(ctx context.Context, rows []*Changelog) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableChangelogs, rows, s.batchSize,
		[]string{"work_item_external_id", "field", "old_value", "new_value", "author", "changed_at", "active"})
}

func (s *Store) UpsertCustomFields(ctx context.Context, rows []*CustomField) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableCustomFields, rows, s.batchSize,
		[]string{"name", "field_type", "field_schema", "active"})
}

func (s *Store) UpsertWITHierarchies(ctx context.Context, rows []*WITHierarchy) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableWITHierarchies, rows, s.batchSize,
		[]string{"parent_wit_external_id", "child_wit_external_id", "level", "active"})
}

func (s *Store) UpsertWITMappings(ctx context.Context, rows []*WITMapping) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableWITMappings, rows, s.batchSize,
		[]string{"wit_external_id", "canonical_type", "active"})
}

func (s *Store) UpsertRepositories(ctx context.Context, rows []*Repository) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableRepositories, rows, s.batchSize,
		[]string{"name", "owner", "url", "default_branch", "active"})
}

func (s *Store) UpsertPRs(ctx context.Context, rows []*PR) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TablePRs, rows, s.batchSize,
		[]string{
			"repository_external_id", "number", "title", "body", "state", "author",
			"source_branch", "target_branch", "merged_at", "closed_at",
			"external_created_at", "external_updated_at", "active",
		})
}

func (s *Store) UpsertPRCommits(ctx context.Context, rows []*PRCommit) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TablePRCommits, rows, s.batchSize,
		[]string{"pr_external_id", "sha", "message", "author", "committed_at", "active"})
}

func (s *Store) UpsertPRReviews(ctx context.Context, rows []*PRReview) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TablePRReviews, rows, s.batchSize,
		[]string{"pr_external_id", "author", "state", "body", "submitted_at", "active"})
}

func (s *Store) UpsertPRComments(ctx context.Context, rows []*PRComment) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TablePRComments, rows, s.batchSize,
		[]string{"pr_external_id", "author", "body", "external_created_at", "active"})
}

func (s *Store) UpsertWITPRLinks(ctx context.Context, rows []*WITPRLink) error {
	if len(rows) == 0 {
		return nil
	}
	return upsertBatch(ctx, s.db, TableWITPRLinks, rows, s.batchSize,
		[]string{"work_item_external_id", "pr_external_id", "active"})
}

// LoadContent fetches one canonical record from the replica and renders its
// embedding content. The table name comes straight off the embedding message.
func (s *Store) LoadContent(ctx context.Context, table string, tenantID, integrationID uuid.UUID, externalID string) (string, error) {
	record, err := s.loadRecord(ctx, table, tenantID, integrationID, externalID)
	if err != nil {
		return "", err
	}
	return record.Content(), nil
}

// ContentRenderer is any canonical record that can render itself as
// embedding content.
type ContentRenderer interface {
	Content() string
}

func (s *Store) loadRecord(ctx context.Context, table string, tenantID, integrationID uuid.UUID, externalID string) (ContentRenderer, error) {
	var record ContentRenderer
	switch table {
	case TableProjects:
		record = &Project{}
	case TableWITs:
		record = &WIT{}
	case TableWorkItems:
		record = &WorkItem{}
	case TableStatuses:
		record = &Status{}
	case TableWorkflows:
		record = &Workflow{}
	case TableStatusMappings:
		record = &StatusMapping{}
	case TableChangelogs:
		record = &Changelog{}
	case TableCustomFields:
		record = &CustomField{}
	case TableWITHierarchies:
		record = &WITHierarchy{}
	case TableWITMappings:
		record = &WITMapping{}
	case TableRepositories:
		record = &Repository{}
	case TablePRs:
		record = &PR{}
	case TablePRCommits:
		record = &PRCommit{}
	case TablePRReviews:
		record = &PRReview{}
	case TablePRComments:
		record = &PRComment{}
	case TableWITPRLinks:
		record = &WITPRLink{}
	default:
		return nil, fmt.Errorf("unknown canonical table %q", table)
	}

	err := s.replica.NewSelect().
		Model(record).
		Where("tenant_id = ?", tenantID).
		Where("integration_id = ?", integrationID).
		Where("external_id = ?", externalID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	return record, nil
}
