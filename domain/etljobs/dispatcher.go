package etljobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/relaydev/syncd/domain/integrations"
	"github.com/relaydev/syncd/domain/pipeline"
	"github.com/relaydev/syncd/domain/tenants"
	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/database"
	"github.com/relaydev/syncd/internal/queue"
	"github.com/relaydev/syncd/pkg/logger"
	"github.com/relaydev/syncd/pkg/metrics"
)

// maxDispatchPerTick bounds how many runs one tick can start.
const maxDispatchPerTick = 50

// Dispatcher starts due jobs. The RUNNING flip and the first extraction
// message share one transaction: if the publish fails the flip rolls back
// and the job is picked up again on a later tick.
type Dispatcher struct {
	db           *bun.DB
	repo         *Repository
	integrations *integrations.Repository
	tiers        *tenants.TierResolver
	queue        *queue.Manager
	cfg          *config.Config
	log          *slog.Logger
}

// NewDispatcher creates a job dispatcher.
func NewDispatcher(
	db *bun.DB,
	repo *Repository,
	integrationsRepo *integrations.Repository,
	tiers *tenants.TierResolver,
	queueManager *queue.Manager,
	cfg *config.Config,
	log *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		db:           db,
		repo:         repo,
		integrations: integrationsRepo,
		tiers:        tiers,
		queue:        queueManager,
		cfg:          cfg,
		log:          log.With(logger.Scope("etljobs.dispatcher")),
	}
}

// Tick scans for due jobs and starts them one at a time. Runs from the
// interval scheduler.
func (d *Dispatcher) Tick(ctx context.Context) error {
	if _, err := d.repo.RecoverStuck(ctx, d.cfg.Queue.MessageTTL); err != nil {
		d.log.Error("stuck job recovery failed", logger.Error(err))
	}

	for i := 0; i < maxDispatchPerTick; i++ {
		started, err := d.dispatchOne(ctx)
		if err != nil {
			d.log.Error("dispatch failed", logger.Error(err))
			return err
		}
		if !started {
			return nil
		}
	}
	return nil
}

// dispatchOne claims and starts a single due job. Returns false when no job
// was due.
func (d *Dispatcher) dispatchOne(ctx context.Context) (bool, error) {
	tx, err := database.BeginSafeTx(ctx, d.db)
	if err != nil {
		return false, fmt.Errorf("begin dispatch tx: %w", err)
	}
	defer tx.Rollback()

	jobs, err := d.repo.ClaimDue(ctx, tx, 1)
	if err != nil {
		return false, err
	}
	if len(jobs) == 0 {
		return false, nil
	}
	job := jobs[0]

	integration, err := d.integrations.GetByID(ctx, job.IntegrationID)
	if err != nil {
		return false, fmt.Errorf("load integration for job %s: %w", job.ID, err)
	}
	if !integration.Active {
		// Skip, not fail: the claim already stamped last_run_started_at,
		// so the job waits a full schedule interval before the next look.
		_, err := tx.NewUpdate().
			Model((*ETLJob)(nil)).
			Set("status = ?", StatusReady).
			Set("updated_at = now()").
			Where("id = ?", job.ID).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("release job with inactive integration: %w", err)
		}
		d.log.Info("skipping job, integration inactive",
			slog.String("job_id", job.ID.String()),
			slog.String("integration_id", job.IntegrationID.String()))
		return true, tx.Commit()
	}

	msg, err := d.buildExtractionMessage(job, integration)
	if err != nil {
		return false, err
	}

	queueName, err := d.tiers.QueueFor(ctx, queue.StageExtraction, job.TenantID)
	if err != nil {
		return false, err
	}

	if err := d.queue.PublishTx(ctx, tx, queueName, msg); err != nil {
		metrics.JobRuns.WithLabelValues(job.JobName, "publish_failed").Inc()
		return false, fmt.Errorf("publish initial extraction message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit dispatch: %w", err)
	}

	metrics.JobRuns.WithLabelValues(job.JobName, "started").Inc()
	d.log.Info("job run started",
		slog.String("job_id", job.ID.String()),
		slog.String("job_name", job.JobName),
		slog.String("provider", integration.Provider),
		slog.String("queue", queueName),
		slog.Bool("resumed", len(job.CheckpointData) > 0))

	return true, nil
}

// buildExtractionMessage composes the first message of a run. A job that
// failed mid-run resumes from its checkpoint; a fresh run starts at the
// provider's first step with the integration watermark as the old sync
// date.
func (d *Dispatcher) buildExtractionMessage(job *ETLJob, integration *integrations.Integration) (*pipeline.ExtractionMessage, error) {
	msg := &pipeline.ExtractionMessage{
		Envelope: pipeline.Envelope{
			TenantID:      job.TenantID,
			IntegrationID: job.IntegrationID,
			JobID:         job.ID,
			JobName:       job.JobName,
			Provider:      integration.Provider,
		},
	}

	cp, err := job.DecodeCheckpoint()
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint for job %s: %w", job.ID, err)
	}
	if cp != nil {
		msg.Step = cp.Step
		msg.Cursor = cp.Cursor
		msg.OldLastSyncDate = cp.OldLastSyncDate
		msg.NewLastSyncDate = cp.NewLastSyncDate
		return msg, nil
	}

	now := time.Now().UTC()
	msg.Step = firstStep(integration.Provider)
	msg.OldLastSyncDate = integration.LastSyncAt
	msg.NewLastSyncDate = &now
	return msg, nil
}

// firstStep returns the opening extraction step for a provider.
func firstStep(provider string) string {
	switch provider {
	case pipeline.ProviderGitHub:
		return pipeline.StepGitHubRepositories
	default:
		return pipeline.StepJiraProjects
	}
}
