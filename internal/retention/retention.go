// Package retention periodically prunes processed pipeline data: completed
// raw staging rows, consumed queue messages and finished embedding entries.
// It also refreshes queue depth gauges and sweeps stale claims.
package retention

import (
	"context"
	"log/slog"

	"github.com/relaydev/syncd/domain/embedding"
	"github.com/relaydev/syncd/domain/extraction"
	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/queue"
	"github.com/relaydev/syncd/pkg/logger"
)

// Pruner runs the retention sweep.
type Pruner struct {
	raw     *extraction.Repository
	entries *embedding.Repository
	manager *queue.Manager
	cfg     *config.Config
	log     *slog.Logger
}

// NewPruner creates the retention pruner.
func NewPruner(
	raw *extraction.Repository,
	entries *embedding.Repository,
	manager *queue.Manager,
	cfg *config.Config,
	log *slog.Logger,
) *Pruner {
	return &Pruner{
		raw:     raw,
		entries: entries,
		manager: manager,
		cfg:     cfg,
		log:     log.With(logger.Scope("retention")),
	}
}

// Run executes one retention sweep. Failures in one target do not stop the
// others; the first error is reported after everything has run.
func (p *Pruner) Run(ctx context.Context) error {
	maxAge := p.cfg.Retention.MaxAge

	var firstErr error
	rawPruned, err := p.raw.PruneCompleted(ctx, maxAge)
	if err != nil {
		firstErr = err
		p.log.Error("raw data pruning failed", logger.Error(err))
	}

	msgsPruned, err := p.manager.Prune(ctx, maxAge)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		p.log.Error("queue message pruning failed", logger.Error(err))
	}

	entriesPruned, err := p.entries.PruneCompleted(ctx, maxAge)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		p.log.Error("embedding entry pruning failed", logger.Error(err))
	}

	if _, err := p.manager.RecoverStale(ctx); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		p.log.Error("stale message recovery failed", logger.Error(err))
	}
	p.manager.UpdateDepthMetrics(ctx)

	if rawPruned > 0 || msgsPruned > 0 || entriesPruned > 0 {
		p.log.Info("retention sweep complete",
			slog.Int64("raw_rows", rawPruned),
			slog.Int64("queue_messages", msgsPruned),
			slog.Int64("embedding_entries", entriesPruned))
	}
	return firstErr
}
