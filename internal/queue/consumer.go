package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/relaydev/syncd/pkg/logger"
)

// Handler processes a single claimed message. A nil return acks the
// message; an error nacks it (requeue or dead-letter).
type Handler func(ctx context.Context, msg *Message) error

// Consumer polls one queue with a fixed number of workers. Each worker
// claims a single message at a time, so in-flight work per worker is
// bounded to one message.
type Consumer struct {
	queueName    string
	manager      *Manager
	handler      Handler
	pollInterval time.Duration
	workers      int
	log          *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer for a queue. workers must be >= 1.
func NewConsumer(queueName string, manager *Manager, handler Handler, workers int, log *slog.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		queueName:    queueName,
		manager:      manager,
		handler:      handler,
		pollInterval: manager.cfg.PollInterval,
		workers:      workers,
		log:          log.With(logger.Scope("queue.consumer"), slog.String("queue", queueName)),
	}
}

// Start launches the worker goroutines. Calling Start on a running
// consumer is a no-op.
func (c *Consumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.run()
	}

	c.log.Info("consumer started", slog.Int("workers", c.workers))
}

// Stop signals all workers and waits for in-flight messages to finish, up
// to the context deadline.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info("consumer stopped")
		return nil
	case <-ctx.Done():
		c.log.Warn("consumer stop timed out with messages in flight")
		return ctx.Err()
	}
}

func (c *Consumer) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		ctx := context.Background()
		msg, err := c.manager.Claim(ctx, c.queueName)
		if err != nil {
			c.log.Error("claim failed", logger.Error(err))
			c.sleep()
			continue
		}
		if msg == nil {
			c.sleep()
			continue
		}

		if err := c.handler(ctx, msg); err != nil {
			c.log.Warn("message handling failed",
				slog.String("message_id", msg.ID.String()),
				slog.Int("delivery", msg.DeliveryCount),
				logger.Error(err))
			if errors.Is(err, ErrPermanent) {
				if killErr := c.manager.Kill(ctx, msg, err); killErr != nil {
					c.log.Error("kill failed", logger.Error(killErr))
				}
			} else if nackErr := c.manager.Nack(ctx, msg, err); nackErr != nil {
				c.log.Error("nack failed", logger.Error(nackErr))
			}
			continue
		}

		if err := c.manager.Ack(ctx, msg); err != nil {
			c.log.Error("ack failed", logger.Error(err))
		}
	}
}

func (c *Consumer) sleep() {
	select {
	case <-time.After(c.pollInterval):
	case <-c.stopCh:
	}
}
