// Package embedding consumes embedding messages, renders canonical records
// into vector-store content, and finalises job runs when the completion
// marker arrives.
package embedding

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EntryStatus is the processing state of an embedding queue entry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// QueueEntry is the audit record of one vector-store call. Entries make
// indexing progress observable and give the retention task something to
// prune.
type QueueEntry struct {
	bun.BaseModel `bun:"table:embedding_queue,alias:eq"`

	ID           uuid.UUID   `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID     uuid.UUID   `bun:"tenant_id,notnull,type:uuid"`
	JobID        uuid.UUID   `bun:"job_id,notnull,type:uuid"`
	TableName    string      `bun:"table_name,notnull"`
	ExternalID   string      `bun:"external_id,notnull"`
	Content      string      `bun:"content,notnull"`
	Status       EntryStatus `bun:"status,notnull,default:'pending'"`
	Attempts     int         `bun:"attempts,notnull,default:0"`
	ErrorMessage *string     `bun:"error_message"`
	CreatedAt    time.Time   `bun:"created_at,notnull,default:now()"`
	UpdatedAt    time.Time   `bun:"updated_at,notnull,default:now()"`
}
