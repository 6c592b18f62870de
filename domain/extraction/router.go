package extraction

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/relaydev/syncd/domain/etljobs"
	"github.com/relaydev/syncd/domain/pipeline"
	"github.com/relaydev/syncd/domain/status"
	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/queue"
	"github.com/relaydev/syncd/pkg/logger"
	"github.com/relaydev/syncd/pkg/tracing"
)

// Router consumes the per-tier extraction queues and dispatches each
// message to the extractor registered for its provider. A failure on the
// message's final delivery, or a fatal provider error, fails the job run.
type Router struct {
	registry  *Registry
	manager   *queue.Manager
	jobs      *etljobs.Repository
	events    *status.Broadcaster
	cfg       *config.Config
	log       *slog.Logger
	consumers []*queue.Consumer
}

// NewRouter creates the extraction router.
func NewRouter(
	registry *Registry,
	manager *queue.Manager,
	jobs *etljobs.Repository,
	events *status.Broadcaster,
	cfg *config.Config,
	log *slog.Logger,
) *Router {
	return &Router{
		registry: registry,
		manager:  manager,
		jobs:     jobs,
		events:   events,
		cfg:      cfg,
		log:      log.With(logger.Scope("extraction.router")),
	}
}

// Start launches one consumer per tier queue.
func (r *Router) Start() {
	for _, tier := range queue.Tiers {
		name := queue.Name(queue.StageExtraction, tier)
		c := queue.NewConsumer(name, r.manager, r.handle, 1, r.log)
		c.Start()
		r.consumers = append(r.consumers, c)
	}
}

// Stop drains all consumers.
func (r *Router) Stop(ctx context.Context) error {
	var firstErr error
	for _, c := range r.consumers {
		if err := c.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) handle(ctx context.Context, msg *queue.Message) error {
	var em pipeline.ExtractionMessage
	if err := msg.Decode(&em); err != nil {
		return fmt.Errorf("%w: decode extraction message: %v", queue.ErrPermanent, err)
	}

	ctx, span := tracing.Start(ctx, "extraction.handle",
		attribute.String("provider", em.Provider),
		attribute.String("step", em.Step),
		attribute.String("job_id", em.JobID.String()))
	defer span.End()

	extractor, err := r.registry.Get(em.Provider)
	if err != nil {
		r.failJob(ctx, &em, err)
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}

	if err := extractor.Extract(ctx, &em); err != nil {
		finalDelivery := msg.DeliveryCount >= r.cfg.Queue.MaxDeliveries
		if pipeline.IsFatal(err) || finalDelivery {
			r.failJob(ctx, &em, err)
		}
		if pipeline.IsFatal(err) {
			return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
		}
		return err
	}
	return nil
}

// failJob fails the run and notifies subscribers. The checkpoint stays in
// place so the scheduled retry resumes from the last completed step.
func (r *Router) failJob(ctx context.Context, em *pipeline.ExtractionMessage, cause error) {
	if err := r.jobs.MarkFailed(ctx, em.JobID, cause.Error()); err != nil {
		r.log.Error("failed to mark job failed",
			slog.String("job_id", em.JobID.String()),
			logger.Error(err))
		return
	}

	event := status.NewEvent(status.EventFailed, em.TenantID, em.JobID, em.JobName)
	event.Step = em.Step
	event.Message = cause.Error()
	r.events.Publish(event)

	r.log.Warn("job run failed during extraction",
		slog.String("job_id", em.JobID.String()),
		slog.String("step", em.Step),
		logger.Error(cause))
}
