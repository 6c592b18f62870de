// Package etljobs manages sync job records, their lifecycle and the
// dispatcher that turns due jobs into extraction messages.
package etljobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	StatusReady    JobStatus = "READY"
	StatusRunning  JobStatus = "RUNNING"
	StatusFinished JobStatus = "FINISHED"
	StatusFailed   JobStatus = "FAILED"
)

// ETLJob is a recurring sync job for one integration. A tenant has at most
// one job per job name. FAILED jobs keep their checkpoint and are retried
// at RetryInterval instead of ScheduleInterval.
type ETLJob struct {
	bun.BaseModel `bun:"table:etl_jobs,alias:j"`

	ID                uuid.UUID       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID          uuid.UUID       `bun:"tenant_id,notnull,type:uuid" json:"tenant_id"`
	IntegrationID     uuid.UUID       `bun:"integration_id,notnull,type:uuid" json:"integration_id"`
	JobName           string          `bun:"job_name,notnull" json:"job_name"`
	Status            JobStatus       `bun:"status,notnull,default:'READY'" json:"status"`
	Active            bool            `bun:"active,notnull,default:true" json:"active"`
	ScheduleInterval  time.Duration   `bun:"schedule_interval,notnull" json:"schedule_interval"`
	RetryInterval     time.Duration   `bun:"retry_interval,notnull" json:"retry_interval"`
	RetryCount        int             `bun:"retry_count,notnull,default:0" json:"retry_count"`
	CheckpointData    json.RawMessage `bun:"checkpoint_data,type:jsonb,nullzero" json:"checkpoint_data,omitempty"`
	LastRunStartedAt  *time.Time      `bun:"last_run_started_at" json:"last_run_started_at"`
	LastRunFinishedAt *time.Time      `bun:"last_run_finished_at" json:"last_run_finished_at"`
	ErrorMessage      *string         `bun:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time       `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt         time.Time       `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// Checkpoint records how far a run progressed, step by step. A retried job
// resumes from here instead of restarting the whole sync.
type Checkpoint struct {
	Step            string          `json:"step"`
	Cursor          json.RawMessage `json:"cursor,omitempty"`
	OldLastSyncDate *time.Time      `json:"old_last_sync_date,omitempty"`
	NewLastSyncDate *time.Time      `json:"new_last_sync_date,omitempty"`
}

// DecodeCheckpoint parses the job's stored checkpoint. Returns nil when the
// job has none.
func (j *ETLJob) DecodeCheckpoint() (*Checkpoint, error) {
	if len(j.CheckpointData) == 0 {
		return nil, nil
	}
	cp := &Checkpoint{}
	if err := json.Unmarshal(j.CheckpointData, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// isDue reports whether a job should start a new run at now. Inactive and
// RUNNING jobs are never due; FAILED jobs wait RetryInterval, everything
// else waits ScheduleInterval since the last run started.
func isDue(job *ETLJob, now time.Time) bool {
	if !job.Active || job.Status == StatusRunning {
		return false
	}
	if job.LastRunStartedAt == nil {
		return true
	}

	interval := job.ScheduleInterval
	if job.Status == StatusFailed {
		interval = job.RetryInterval
	}
	return now.Sub(*job.LastRunStartedAt) >= interval
}
