// Package queue provides durable, tier-partitioned message queues backed by
// PostgreSQL. Claims use FOR UPDATE SKIP LOCKED so any number of consumers
// can poll the same queue safely, and each consumer claims a single message
// at a time.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/uptrace/bun"

	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/pkg/logger"
	"github.com/relaydev/syncd/pkg/metrics"
)

const (
	// redeliveryDelayBase is the base for the delivery backoff
	// (base * attempt^2, capped at redeliveryDelayMax).
	redeliveryDelayBase = 5 * time.Second
	redeliveryDelayMax  = 5 * time.Minute
)

// Manager publishes and claims messages on the shared queue_messages table.
type Manager struct {
	db  bun.IDB
	cfg config.QueueConfig
	log *slog.Logger
}

// NewManager creates a queue manager.
func NewManager(db *bun.DB, cfg *config.Config, log *slog.Logger) *Manager {
	return &Manager{
		db:  db,
		cfg: cfg.Queue,
		log: log.With(logger.Scope("queue")),
	}
}

// Publish enqueues a message, retrying transient failures up to the
// configured budget with exponential backoff. A message that cannot be
// published after all retries is reported back to the caller so the
// producing stage can fail its own unit of work.
func (m *Manager) Publish(ctx context.Context, queueName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.PublishRetries; attempt++ {
		if lastErr = m.insert(ctx, m.db, queueName, data); lastErr == nil {
			metrics.MessagesPublished.WithLabelValues(queueName, "ok").Inc()
			return nil
		}

		m.log.Warn("publish failed, retrying",
			slog.String("queue", queueName),
			slog.Int("attempt", attempt),
			logger.Error(lastErr))

		if attempt < m.cfg.PublishRetries {
			delay := m.cfg.PublishBackoffBase * time.Duration(attempt*attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	metrics.MessagesPublished.WithLabelValues(queueName, "error").Inc()
	return fmt.Errorf("publish to %s after %d attempts: %w", queueName, m.cfg.PublishRetries, lastErr)
}

// PublishTx enqueues a message inside the caller's transaction, with no
// retries: if the insert fails the whole transaction rolls back. The
// scheduler uses this so a job is only flipped to RUNNING when its first
// extraction message is durably enqueued.
func (m *Manager) PublishTx(ctx context.Context, tx bun.IDB, queueName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := m.insert(ctx, tx, queueName, data); err != nil {
		metrics.MessagesPublished.WithLabelValues(queueName, "error").Inc()
		return err
	}
	metrics.MessagesPublished.WithLabelValues(queueName, "ok").Inc()
	return nil
}

func (m *Manager) insert(ctx context.Context, db bun.IDB, queueName string, data []byte) error {
	msg := &Message{
		QueueName:   queueName,
		Payload:     data,
		Status:      StatusPending,
		ScheduledAt: time.Now(),
		ExpiresAt:   time.Now().Add(m.cfg.MessageTTL),
	}
	if _, err := db.NewInsert().Model(msg).Exec(ctx); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Claim atomically claims the oldest deliverable message on a queue.
// Returns nil when the queue is empty. The delivery count is incremented as
// part of the claim so a crash between claim and ack still counts the
// delivery.
func (m *Manager) Claim(ctx context.Context, queueName string) (*Message, error) {
	// Strategic SQL that cannot be expressed with Bun's query builder
	msg := &Message{}
	err := m.db.NewRaw(`
		WITH cte AS (
			SELECT id FROM queue_messages
			WHERE queue_name = ? AND status = 'pending'
				AND scheduled_at <= now() AND expires_at > now()
			ORDER BY scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue_messages qm
		SET status = 'processing',
			claimed_at = now(),
			delivery_count = qm.delivery_count + 1
		FROM cte WHERE qm.id = cte.id
		RETURNING qm.*`,
		queueName).Scan(ctx, msg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", queueName, err)
	}

	return msg, nil
}

// Ack marks a claimed message as completed.
func (m *Manager) Ack(ctx context.Context, msg *Message) error {
	_, err := m.db.NewUpdate().
		Model((*Message)(nil)).
		Set("status = ?", StatusCompleted).
		Set("completed_at = now()").
		Where("id = ?", msg.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	metrics.MessagesConsumed.WithLabelValues(msg.QueueName, "ack").Inc()
	return nil
}

// Nack returns a failed message to its queue with a delivery backoff, or
// moves it to the dead-letter queue when the delivery budget is spent.
func (m *Manager) Nack(ctx context.Context, msg *Message, handlerErr error) error {
	errMsg := truncateError(handlerErr.Error())

	if exhausted(msg.DeliveryCount, m.cfg.MaxDeliveries) {
		_, err := m.db.NewUpdate().
			Model((*Message)(nil)).
			Set("status = ?", StatusDead).
			Set("queue_name = ?", DLQName(msg.QueueName)).
			Set("error_message = ?", errMsg).
			Where("id = ?", msg.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("dead-letter message: %w", err)
		}

		m.log.Warn("message moved to dead-letter queue",
			slog.String("queue", msg.QueueName),
			slog.String("message_id", msg.ID.String()),
			slog.Int("deliveries", msg.DeliveryCount),
			slog.String("error", errMsg))
		metrics.MessagesConsumed.WithLabelValues(msg.QueueName, "dead").Inc()
		return nil
	}

	delay := redeliveryDelay(msg.DeliveryCount)
	_, err := m.db.NewUpdate().
		Model((*Message)(nil)).
		Set("status = ?", StatusPending).
		Set("claimed_at = NULL").
		Set("scheduled_at = now() + (? || ' seconds')::interval", int(delay.Seconds())).
		Set("error_message = ?", errMsg).
		Where("id = ?", msg.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("requeue message: %w", err)
	}

	m.log.Debug("message requeued",
		slog.String("queue", msg.QueueName),
		slog.String("message_id", msg.ID.String()),
		slog.Int("delivery", msg.DeliveryCount),
		slog.Duration("delay", delay))
	metrics.MessagesConsumed.WithLabelValues(msg.QueueName, "nack").Inc()
	return nil
}

// ErrPermanent marks a handler failure that must not be retried. The
// consumer dead-letters the message immediately instead of requeueing it.
var ErrPermanent = errors.New("permanent handler failure")

// Kill dead-letters a claimed message without consuming the remaining
// delivery budget. Used for failures that retrying cannot fix.
func (m *Manager) Kill(ctx context.Context, msg *Message, handlerErr error) error {
	_, err := m.db.NewUpdate().
		Model((*Message)(nil)).
		Set("status = ?", StatusDead).
		Set("queue_name = ?", DLQName(msg.QueueName)).
		Set("error_message = ?", truncateError(handlerErr.Error())).
		Where("id = ?", msg.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kill message: %w", err)
	}

	m.log.Warn("message dead-lettered on permanent failure",
		slog.String("queue", msg.QueueName),
		slog.String("message_id", msg.ID.String()),
		logger.Error(handlerErr))
	metrics.MessagesConsumed.WithLabelValues(msg.QueueName, "dead").Inc()
	return nil
}

// exhausted reports whether a message that has been delivered count times
// should be dead-lettered instead of requeued.
func exhausted(deliveryCount, maxDeliveries int) bool {
	return deliveryCount >= maxDeliveries
}

// redeliveryDelay computes the backoff before the next delivery attempt.
func redeliveryDelay(deliveryCount int) time.Duration {
	delay := time.Duration(math.Min(
		float64(redeliveryDelayMax),
		float64(redeliveryDelayBase)*float64(deliveryCount)*float64(deliveryCount),
	))
	return delay
}

// RecoverStale returns messages stuck in 'processing' to 'pending' and
// dead-letters pending messages whose TTL expired. Runs at startup and
// periodically from the retention task.
func (m *Manager) RecoverStale(ctx context.Context) (int, error) {
	res, err := m.db.NewUpdate().
		Model((*Message)(nil)).
		Set("status = ?", StatusPending).
		Set("claimed_at = NULL").
		Set("scheduled_at = now()").
		Where("status = ?", StatusProcessing).
		Where("claimed_at < now() - (? || ' seconds')::interval", int(m.cfg.StaleAfter.Seconds())).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stale messages: %w", err)
	}
	recovered, _ := res.RowsAffected()

	expired, err := m.db.NewUpdate().
		Model((*Message)(nil)).
		Set("status = ?", StatusDead).
		Set("error_message = ?", "message TTL expired").
		Where("status = ?", StatusPending).
		Where("expires_at <= now()").
		Exec(ctx)
	if err != nil {
		return int(recovered), fmt.Errorf("expire messages: %w", err)
	}
	expiredCount, _ := expired.RowsAffected()

	if recovered > 0 || expiredCount > 0 {
		m.log.Warn("queue maintenance",
			slog.Int64("recovered", recovered),
			slog.Int64("expired", expiredCount))
	}

	return int(recovered), nil
}

// Prune deletes completed and dead messages older than the retention
// window. Returns the number of rows removed.
func (m *Manager) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := m.db.NewDelete().
		Model((*Message)(nil)).
		Where("status IN (?, ?)", StatusCompleted, StatusDead).
		Where("created_at < now() - (? || ' seconds')::interval", int(olderThan.Seconds())).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats represents per-queue statistics
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Dead       int64 `json:"dead"`
}

// GetStats returns statistics for a single queue.
func (m *Manager) GetStats(ctx context.Context, queueName string) (*Stats, error) {
	stats := &Stats{}
	err := m.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'processing') as processing,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'dead') as dead
		FROM queue_messages
		WHERE queue_name = ? OR queue_name = ?`,
		queueName, DLQName(queueName)).
		Scan(ctx, &stats.Pending, &stats.Processing, &stats.Completed, &stats.Dead)
	if err != nil {
		return nil, fmt.Errorf("get stats for %s: %w", queueName, err)
	}
	return stats, nil
}

// UpdateDepthMetrics refreshes the queue depth gauge for all known queues.
func (m *Manager) UpdateDepthMetrics(ctx context.Context) {
	for _, name := range AllQueueNames() {
		stats, err := m.GetStats(ctx, name)
		if err != nil {
			m.log.Debug("queue depth collection failed",
				slog.String("queue", name), logger.Error(err))
			continue
		}
		metrics.QueueDepth.WithLabelValues(name).Set(float64(stats.Pending))
	}
}

// truncateError truncates an error message to 500 characters
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
