package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/relaydev/syncd/domain/canonical"
	"github.com/relaydev/syncd/domain/etljobs"
	"github.com/relaydev/syncd/domain/integrations"
	"github.com/relaydev/syncd/domain/pipeline"
	"github.com/relaydev/syncd/domain/status"
	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/queue"
	"github.com/relaydev/syncd/pkg/logger"
	"github.com/relaydev/syncd/pkg/metrics"
	"github.com/relaydev/syncd/pkg/syshealth"
	"github.com/relaydev/syncd/pkg/tracing"
)

// Worker consumes the per-tier embedding queues. Record messages are
// rendered and pushed to the vector store; the completion marker finalises
// the job run and advances the integration watermark.
type Worker struct {
	manager      *queue.Manager
	store        *canonical.Store
	entries      *Repository
	vectors      VectorStore
	jobs         *etljobs.Repository
	integrations *integrations.Repository
	events       *status.Broadcaster
	scaler       *syshealth.ConcurrencyScaler
	cfg          *config.Config
	log          *slog.Logger

	mu        sync.Mutex
	active    int
	consumers []*queue.Consumer
}

// NewWorker creates the embedding worker.
func NewWorker(
	manager *queue.Manager,
	store *canonical.Store,
	entries *Repository,
	vectors VectorStore,
	jobs *etljobs.Repository,
	integrationsRepo *integrations.Repository,
	events *status.Broadcaster,
	scaler *syshealth.ConcurrencyScaler,
	cfg *config.Config,
	log *slog.Logger,
) *Worker {
	return &Worker{
		manager:      manager,
		store:        store,
		entries:      entries,
		vectors:      vectors,
		jobs:         jobs,
		integrations: integrationsRepo,
		events:       events,
		scaler:       scaler,
		cfg:          cfg,
		log:          log.With(logger.Scope("embedding.worker")),
	}
}

// Start launches one consumer per tier queue.
func (w *Worker) Start() {
	for _, tier := range queue.Tiers {
		name := queue.Name(queue.StageEmbedding, tier)
		c := queue.NewConsumer(name, w.manager, w.handle, w.cfg.Embedding.Workers, w.log)
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
	var em pipeline.EmbeddingMessage
	if err := msg.Decode(&em); err != nil {
		return fmt.Errorf("%w: decode embedding message: %v", queue.ErrPermanent, err)
	}

	ctx, span := tracing.Start(ctx, "embedding.handle",
		attribute.String("table", em.TableName),
		attribute.String("job_id", em.JobID.String()))
	defer span.End()

	if em.FirstItem {
		ev := status.NewEvent(status.EventRunning, em.TenantID, em.JobID, em.JobName)
		ev.Step = em.Step
		w.events.Publish(ev)
	}

	if em.IsCompletionMarker() {
		return w.finalize(ctx, &em)
	}
	if em.ExternalID == nil {
		// Flag carrier from a page that mapped zero records: the
		// broadcasts are its only effect.
		if em.LastItem {
			w.broadcastStepFinished(&em)
		}
		return nil
	}

	content, err := w.store.LoadContent(ctx, em.TableName, em.TenantID, em.IntegrationID, *em.ExternalID)
	if errors.Is(err, canonical.ErrNotFound) {
		// The record was pruned or deactivated between transform and here;
		// nothing to index.
		w.log.Warn("canonical record gone before indexing",
			slog.String("table", em.TableName),
			slog.String("external_id", *em.ExternalID))
		return nil
	}
	if err != nil {
		return err
	}

	entry := &QueueEntry{
		TenantID:   em.TenantID,
		JobID:      em.JobID,
		TableName:  em.TableName,
		ExternalID: *em.ExternalID,
		Content:    content,
		Status:     EntryPending,
	}
	if err := w.entries.Record(ctx, entry); err != nil {
		return err
	}

	release := w.acquireSlot(ctx)
	attempts, err := w.storeWithRetry(ctx, &em, content)
	release()
	if err != nil {
		if markErr := w.entries.MarkFailed(ctx, entry.ID, attempts, err.Error()); markErr != nil {
			w.log.Error("failed to mark embedding entry failed", logger.Error(markErr))
		}
		if msg.DeliveryCount >= w.cfg.Queue.MaxDeliveries {
			w.failJob(ctx, &em, err)
		}
		return err
	}
	if err := w.entries.MarkCompleted(ctx, entry.ID, attempts); err != nil {
		return err
	}
	if em.LastItem {
		w.broadcastStepFinished(&em)
	}
	return nil
}

// broadcastStepFinished reports the end of one extraction step's indexing.
func (w *Worker) broadcastStepFinished(em *pipeline.EmbeddingMessage) {
	ev := status.NewEvent(status.EventFinished, em.TenantID, em.JobID, em.JobName)
	ev.Step = em.Step
	w.events.Publish(ev)
}

// storeWithRetry calls the vector store up to the configured budget with a
// linear backoff between attempts.
func (w *Worker) storeWithRetry(ctx context.Context, em *pipeline.EmbeddingMessage, content string) (int, error) {
	retries := w.cfg.Embedding.StoreRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * time.Second):
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			}
		}

		err := w.vectors.StoreVector(ctx, em.TenantID, em.TableName, *em.ExternalID, content)
		if err == nil {
			metrics.VectorStores.WithLabelValues("ok").Inc()
			return attempt, nil
		}
		lastErr = err
		metrics.VectorStores.WithLabelValues("error").Inc()
	}
	return retries, fmt.Errorf("vector store after %d attempts: %w", retries, lastErr)
}

// acquireSlot blocks until the adaptive concurrency budget admits another
// in-flight vector-store call. The returned func releases the slot.
func (w *Worker) acquireSlot(ctx context.Context) func() {
	for {
		allowed := w.scaler.GetConcurrency(w.cfg.Embedding.Workers)
		w.mu.Lock()
		if w.active < allowed {
			w.active++
			w.mu.Unlock()
			return func() {
				w.mu.Lock()
				w.active--
				w.mu.Unlock()
			}
		}
		w.mu.Unlock()

		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return func() {}
		}
	}
}

// finalize completes the run: the job flips to FINISHED, its checkpoint is
// cleared, and the integration watermark advances to the run's start time.
func (w *Worker) finalize(ctx context.Context, em *pipeline.EmbeddingMessage) error {
	if err := w.jobs.MarkFinished(ctx, em.JobID); err != nil {
		return err
	}
	if em.NewLastSyncDate != nil {
		if err := w.integrations.AdvanceLastSyncAt(ctx, em.IntegrationID, *em.NewLastSyncDate); err != nil {
			return err
		}
	}

	metrics.JobRuns.WithLabelValues(em.JobName, "finished").Inc()
	w.events.Publish(status.NewEvent(status.EventFinished, em.TenantID, em.JobID, em.JobName))

	w.log.Info("job run finished",
		slog.String("job_id", em.JobID.String()),
		slog.String("job", em.JobName))
	return nil
}

func (w *Worker) failJob(ctx context.Context, em *pipeline.EmbeddingMessage, cause error) {
	if err := w.jobs.MarkFailed(ctx, em.JobID, cause.Error()); err != nil {
		w.log.Error("failed to mark job failed",
			slog.String("job_id", em.JobID.String()),
			logger.Error(err))
		return
	}

	event := status.NewEvent(status.EventFailed, em.TenantID, em.JobID, em.JobName)
	event.Step = em.Step
	event.Message = cause.Error()
	w.events.Publish(event)
}
