package status

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/relaydev/syncd/pkg/logger"
)

const subscriberBuffer = 16

type subscriptionKey struct {
	tenantID uuid.UUID
	jobID    uuid.UUID
}

// Broadcaster fans job events out to subscribers keyed by (tenant, job).
// Delivery is best-effort: a subscriber that stops draining its channel
// loses events rather than blocking the pipeline.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[subscriptionKey]map[uuid.UUID]chan Event
	log         *slog.Logger
}

// NewBroadcaster creates an event broadcaster.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[subscriptionKey]map[uuid.UUID]chan Event),
		log:         log.With(logger.Scope("status")),
	}
}

// Subscribe registers interest in one job's events. The returned id is
// passed to Unsubscribe when done.
func (b *Broadcaster) Subscribe(tenantID, jobID uuid.UUID) (uuid.UUID, <-chan Event) {
	key := subscriptionKey{tenantID: tenantID, jobID: jobID}
	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[key] == nil {
		b.subscribers[key] = make(map[uuid.UUID]chan Event)
	}
	b.subscribers[key][id] = ch

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(tenantID, jobID, subscriberID uuid.UUID) {
	key := subscriptionKey{tenantID: tenantID, jobID: jobID}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	if ch, ok := subs[subscriberID]; ok {
		close(ch)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}
}

// Publish delivers an event to all subscribers of its job. Slow
// subscribers are skipped.
func (b *Broadcaster) Publish(event Event) {
	key := subscriptionKey{tenantID: event.TenantID, jobID: event.JobID}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[key] {
		select {
		case ch <- event:
		default:
			b.log.Debug("dropping event for slow subscriber",
				slog.String("subscriber_id", id.String()),
				slog.String("status", string(event.Status)))
		}
	}

	b.log.Debug("job event",
		slog.String("status", string(event.Status)),
		slog.String("job", event.Job),
		slog.String("job_id", event.JobID.String()))
}

// SubscriberCount returns the number of subscribers for a job.
func (b *Broadcaster) SubscriberCount(tenantID, jobID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[subscriptionKey{tenantID: tenantID, jobID: jobID}])
}
