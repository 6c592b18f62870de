package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MessageStatus represents the state of a queued message
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusDead       MessageStatus = "dead"
)

// Message is a durable queue message. Delivery is at-least-once: a message
// redelivered after a crash carries its previous delivery count, and the
// third failed delivery moves it to the dead-letter queue.
type Message struct {
	bun.BaseModel `bun:"table:queue_messages,alias:qm"`

	ID            uuid.UUID       `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	QueueName     string          `bun:"queue_name,notnull"`
	Payload       json.RawMessage `bun:"payload,type:jsonb,notnull"`
	Status        MessageStatus   `bun:"status,notnull,default:'pending'"`
	DeliveryCount int             `bun:"delivery_count,notnull,default:0"`
	ScheduledAt   time.Time       `bun:"scheduled_at,notnull,default:now()"`
	ExpiresAt     time.Time       `bun:"expires_at,notnull"`
	ClaimedAt     *time.Time      `bun:"claimed_at"`
	CompletedAt   *time.Time      `bun:"completed_at"`
	ErrorMessage  *string         `bun:"error_message"`
	CreatedAt     time.Time       `bun:"created_at,notnull,default:now()"`
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}
