// Package status broadcasts job progress events to in-process subscribers.
package status

import (
	"time"

	"github.com/google/uuid"
)

// TypeStatus is the type discriminator carried by every job event.
const TypeStatus = "status"

// Status is the job state an event reports.
type Status string

const (
	EventRunning  Status = "running"
	EventFinished Status = "finished"
	EventFailed   Status = "failed"
)

// Event is one job progress notification.
type Event struct {
	Type      string    `json:"type"`
	Job       string    `json:"job"`
	Status    Status    `json:"status"`
	TenantID  uuid.UUID `json:"tenant_id"`
	JobID     uuid.UUID `json:"job_id"`
	Step      string    `json:"step,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time in RFC 3339.
func NewEvent(st Status, tenantID, jobID uuid.UUID, jobName string) Event {
	return Event{
		Type:      TypeStatus,
		Job:       jobName,
		Status:    st,
		TenantID:  tenantID,
		JobID:     jobID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
