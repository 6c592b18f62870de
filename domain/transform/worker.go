// Package transform consumes transform messages, maps staged raw payloads
// into canonical rows, bulk-upserts them and hands each written record to
// the embedding stage.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaydev/syncd/domain/canonical"
	"github.com/relaydev/syncd/domain/extraction"
	"github.com/relaydev/syncd/domain/pipeline"
	"github.com/relaydev/syncd/domain/tenants"
	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/queue"
	"github.com/relaydev/syncd/pkg/logger"
	"github.com/relaydev/syncd/pkg/tracing"
)

// rawStore is the raw staging surface the worker needs.
type rawStore interface {
	Acquire(ctx context.Context, id uuid.UUID) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*extraction.RawData, error)
	Release(ctx context.Context, id uuid.UUID, errMsg string) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	RunComplete(ctx context.Context, jobID uuid.UUID, since *time.Time) (bool, error)
}

// recordStore is the canonical upsert surface the worker needs.
type recordStore interface {
	UpsertProjects(ctx context.Context, rows []*canonical.Project) error
	UpsertWITs(ctx context.Context, rows []*canonical.WIT) error
	UpsertWorkItems(ctx context.Context, rows []*canonical.WorkItem) error
	UpsertStatuses(ctx context.Context, rows []*canonical.Status) error
	UpsertWorkflows(ctx context.Context, rows []*canonical.Workflow) error
	UpsertStatusMappings(ctx context.Context, rows []*canonical.StatusMapping) error
	UpsertChangelogs(ctx context.Context, rows []*canonical.Changelog) error
	UpsertCustomFields(ctx context.Context, rows []*canonical.CustomField) error
	UpsertWITHierarchies(ctx context.Context, rows []*canonical.WITHierarchy) error
	UpsertWITMappings(ctx context.Context, rows []*canonical.WITMapping) error
	UpsertRepositories(ctx context.Context, rows []*canonical.Repository) error
	UpsertPRs(ctx context.Context, rows []*canonical.PR) error
	UpsertPRCommits(ctx context.Context, rows []*canonical.PRCommit) error
	UpsertPRReviews(ctx context.Context, rows []*canonical.PRReview) error
	UpsertPRComments(ctx context.Context, rows []*canonical.PRComment) error
	UpsertWITPRLinks(ctx context.Context, rows []*canonical.WITPRLink) error
}

type publisher interface {
	Publish(ctx context.Context, queueName string, payload any) error
}

type tierRouter interface {
	QueueFor(ctx context.Context, stage queue.Stage, tenantID uuid.UUID) (string, error)
}

// Worker consumes the per-tier transform queues.
type Worker struct {
	manager   *queue.Manager
	queue     publisher
	raw       rawStore
	store     recordStore
	tiers     tierRouter
	cfg       *config.Config
	log       *slog.Logger
	consumers []*queue.Consumer
}

// NewWorker creates the transform worker.
func NewWorker(
	manager *queue.Manager,
	raw *extraction.Repository,
	store *canonical.Store,
	tiers *tenants.TierResolver,
	cfg *config.Config,
	log *slog.Logger,
) *Worker {
	return &Worker{
		manager: manager,
		queue:   manager,
		raw:     raw,
		store:   store,
		tiers:   tiers,
		cfg:     cfg,
		log:     log.With(logger.Scope("transform.worker")),
	}
}

// Start launches one consumer per tier queue.
func (w *Worker) Start() {
	for _, tier := range queue.Tiers {
		name := queue.Name(queue.StageTransform, tier)
		c := queue.NewConsumer(name, w.manager, w.handle, w.cfg.Transform.Workers, w.log)
		c.Start()
		w.consumers = append(w.consumers, c)
	}
}

// Stop drains all consumers.
func (w *Worker) Stop(ctx context.Context) error {
	var firstErr error
	for _, c := range w.consumers {
		if err := c.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Worker) handle(ctx context.Context, msg *queue.Message) error {
	var tm pipeline.TransformMessage
	if err := msg.Decode(&tm); err != nil {
		return fmt.Errorf("%w: decode transform message: %v", queue.ErrPermanent, err)
	}

	ctx, span := tracing.Start(ctx, "transform.handle",
		attribute.String("data_type", tm.DataType),
		attribute.String("job_id", tm.JobID.String()))
	defer span.End()

	acquired, err := w.raw.Acquire(ctx, tm.RawID)
	if err != nil {
		return err
	}
	if !acquired {
		// Redelivered message whose row was already processed; the
		// embedding messages for it are already in flight. The redelivery
		// may be retrying a failed marker publish, so the completion check
		// still runs.
		w.log.Debug("raw row already taken, skipping",
			slog.String("raw_id", tm.RawID.String()),
			slog.String("data_type", tm.DataType))
		return w.maybeFinalizeRun(ctx, &tm)
	}

	row, err := w.raw.GetByID(ctx, tm.RawID)
	if err != nil {
		return w.retryOrFail(ctx, msg, &tm, err)
	}

	rs, err := mapPayload(&tm, row.Payload)
	if err != nil {
		// A payload that does not parse will not parse on redelivery: the
		// row and the message are dead, but the run continues without them.
		_ = w.raw.MarkFailed(ctx, tm.RawID, err.Error())
		if finErr := w.maybeFinalizeRun(ctx, &tm); finErr != nil {
			w.log.Error("completion marker publish failed", logger.Error(finErr))
		}
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}

	if err := w.persist(ctx, rs); err != nil {
		return w.retryOrFail(ctx, msg, &tm, err)
	}
	if err := w.publishEmbeddings(ctx, &tm, rs); err != nil {
		return w.retryOrFail(ctx, msg, &tm, err)
	}

	if err := w.raw.MarkCompleted(ctx, tm.RawID); err != nil {
		return w.retryOrFail(ctx, msg, &tm, err)
	}
	return w.maybeFinalizeRun(ctx, &tm)
}

// mapPayload dispatches a staged payload to the mapper for its data type.
func mapPayload(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	switch tm.DataType {
	case pipeline.StepJiraProjects:
		return mapJiraProjects(tm, payload)
	case pipeline.StepJiraIssueTypes:
		return mapJiraIssueTypes(tm, payload)
	case pipeline.StepJiraStatuses:
		return mapJiraStatuses(tm, payload)
	case pipeline.StepJiraCustomFields:
		return mapJiraCustomFields(tm, payload)
	case pipeline.StepJiraWorkflows:
		return mapJiraWorkflows(tm, payload)
	case pipeline.StepJiraIssues:
		return mapJiraIssues(tm, payload)
	case pipeline.StepJiraChangelogs:
		return mapJiraChangelogs(tm, payload)
	case pipeline.StepJiraDevStatus:
		return mapJiraDevStatus(tm, payload)
	case pipeline.StepGitHubRepositories:
		return mapGitHubRepositories(tm, payload)
	case pipeline.StepGitHubPRBatch:
		return mapGitHubPRBatch(tm, payload)
	case pipeline.StepGitHubPRNested:
		return mapGitHubPRNested(tm, payload)
	default:
		return nil, fmt.Errorf("unknown data type %q", tm.DataType)
	}
}

func (w *Worker) persist(ctx context.Context, rs *recordSet) error {
	steps := []func() error{
		func() error { return w.store.UpsertProjects(ctx, rs.projects) },
		func() error { return w.store.UpsertWITs(ctx, rs.wits) },
		func() error { return w.store.UpsertStatuses(ctx, rs.statuses) },
		func() error { return w.store.UpsertWorkflows(ctx, rs.workflows) },
		func() error { return w.store.UpsertStatusMappings(ctx, rs.statusMappings) },
		func() error { return w.store.UpsertCustomFields(ctx, rs.customFields) },
		func() error { return w.store.UpsertWITMappings(ctx, rs.witMappings) },
		func() error { return w.store.UpsertWITHierarchies(ctx, rs.witHierarchies) },
		func() error { return w.store.UpsertWorkItems(ctx, rs.workItems) },
		func() error { return w.store.UpsertChangelogs(ctx, rs.changelogs) },
		func() error { return w.store.UpsertRepositories(ctx, rs.repositories) },
		func() error { return w.store.UpsertPRs(ctx, rs.prs) },
		func() error { return w.store.UpsertPRCommits(ctx, rs.prCommits) },
		func() error { return w.store.UpsertPRReviews(ctx, rs.prReviews) },
		func() error { return w.store.UpsertPRComments(ctx, rs.prComments) },
		func() error { return w.store.UpsertWITPRLinks(ctx, rs.witPRLinks) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// publishEmbeddings emits one embedding message per written record. A page
// that mapped zero records still publishes a flag carrier when it opened
// or closed a step, so the status broadcasts fire for empty pages too.
func (w *Worker) publishEmbeddings(ctx context.Context, tm *pipeline.TransformMessage, rs *recordSet) error {
	embeddingQueue, err := w.tiers.QueueFor(ctx, queue.StageEmbedding, tm.TenantID)
	if err != nil {
		return err
	}

	if len(rs.embeds) == 0 {
		if !tm.FirstItem && !tm.LastItem {
			return nil
		}
		carrier := &pipeline.EmbeddingMessage{
			Envelope:        tm.Envelope,
			Step:            tm.DataType,
			FirstItem:       tm.FirstItem,
			LastItem:        tm.LastItem,
			OldLastSyncDate: tm.OldLastSyncDate,
			NewLastSyncDate: tm.NewLastSyncDate,
		}
		return w.queue.Publish(ctx, embeddingQueue, carrier)
	}

	for i, ref := range rs.embeds {
		externalID := ref.externalID
		em := &pipeline.EmbeddingMessage{
			Envelope:        tm.Envelope,
			TableName:       ref.table,
			ExternalID:      &externalID,
			Step:            tm.DataType,
			FirstItem:       tm.FirstItem && i == 0,
			LastItem:        tm.LastItem && i == len(rs.embeds)-1,
			OldLastSyncDate: tm.OldLastSyncDate,
			NewLastSyncDate: tm.NewLastSyncDate,
		}
		if err := w.queue.Publish(ctx, embeddingQueue, em); err != nil {
			return err
		}
	}
	return nil
}

// maybeFinalizeRun publishes the completion marker once every staged row of
// the run is settled. The check runs after each settled row rather than on
// the LastJobItem message itself: transform consumers run concurrently, so
// the run's final page can finish before an earlier page does. Two workers
// settling the last rows at the same time may both publish the marker;
// finalization is idempotent, so the duplicate is harmless.
func (w *Worker) maybeFinalizeRun(ctx context.Context, tm *pipeline.TransformMessage) error {
	done, err := w.raw.RunComplete(ctx, tm.JobID, tm.NewLastSyncDate)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}

	embeddingQueue, err := w.tiers.QueueFor(ctx, queue.StageEmbedding, tm.TenantID)
	if err != nil {
		return err
	}
	marker := &pipeline.EmbeddingMessage{
		Envelope:        tm.Envelope,
		LastItem:        true,
		LastJobItem:     true,
		OldLastSyncDate: tm.OldLastSyncDate,
		NewLastSyncDate: tm.NewLastSyncDate,
	}
	if err := w.queue.Publish(ctx, embeddingQueue, marker); err != nil {
		return fmt.Errorf("publish completion marker: %w", err)
	}

	w.log.Info("run transform complete, marker published",
		slog.String("job_id", tm.JobID.String()),
		slog.String("job", tm.JobName))
	return nil
}

// retryOrFail releases the raw row for the next delivery. On the final
// delivery the row is failed instead and the run continues without it.
func (w *Worker) retryOrFail(ctx context.Context, msg *queue.Message, tm *pipeline.TransformMessage, cause error) error {
	if msg.DeliveryCount >= w.cfg.Queue.MaxDeliveries {
		_ = w.raw.MarkFailed(ctx, tm.RawID, cause.Error())
		w.log.Warn("raw row failed after final delivery",
			slog.String("raw_id", tm.RawID.String()),
			slog.String("data_type", tm.DataType),
			logger.Error(cause))
		if finErr := w.maybeFinalizeRun(ctx, tm); finErr != nil {
			w.log.Error("completion marker publish failed", logger.Error(finErr))
		}
		return cause
	}
	if err := w.raw.Release(ctx, tm.RawID, cause.Error()); err != nil {
		w.log.Error("failed to release raw row",
			slog.String("raw_id", tm.RawID.String()),
			logger.Error(err))
	}
	return cause
}
