// Package extraction consumes extraction messages, drives the provider
// extractors and stages raw API payloads for the transform stage.
package extraction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RawStatus is the processing state of a staged raw payload.
type RawStatus string

const (
	RawPending    RawStatus = "pending"
	RawProcessing RawStatus = "processing"
	RawCompleted  RawStatus = "completed"
	RawFailed     RawStatus = "failed"
)

// RawData is one staged API response fragment. Transform workers acquire
// rows with a compare-and-set on status, so a redelivered transform message
// whose row is already completed is a no-op.
type RawData struct {
	bun.BaseModel `bun:"table:raw_extraction_data,alias:red"`

	ID            uuid.UUID       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID      uuid.UUID       `bun:"tenant_id,notnull,type:uuid" json:"tenant_id"`
	IntegrationID uuid.UUID       `bun:"integration_id,notnull,type:uuid" json:"integration_id"`
	JobID         uuid.UUID       `bun:"job_id,notnull,type:uuid" json:"job_id"`
	Provider      string          `bun:"provider,notnull" json:"provider"`
	DataType      string          `bun:"data_type,notnull" json:"data_type"`
	Payload       json.RawMessage `bun:"payload,type:jsonb,notnull" json:"payload"`
	Status        RawStatus       `bun:"status,notnull,default:'pending'" json:"status"`
	// Final marks the last staged row of a run. The transform stage uses it
	// to decide when every row of the run has been settled.
	Final bool `bun:"is_final,notnull,default:false" json:"is_final"`
	ErrorMessage  *string         `bun:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time       `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}
