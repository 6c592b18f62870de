// Package pipeline defines the message contracts that flow between the
// extraction, transform and embedding stages, and the error classification
// the stages use to decide between retry and permanent failure.
package pipeline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Provider identifiers.
const (
	ProviderJira   = "jira"
	ProviderGitHub = "github"
)

// Extraction step names. A step is a unit of checkpointable progress; the
// step name recorded in a checkpoint decides where a retried job resumes.
const (
	StepJiraProjects     = "jira_projects"
	StepJiraIssueTypes   = "jira_issue_types"
	StepJiraStatuses     = "jira_statuses"
	StepJiraCustomFields = "jira_custom_fields"
	StepJiraWorkflows    = "jira_workflows"
	StepJiraIssues       = "jira_issues"
	StepJiraChangelogs   = "jira_changelogs"
	StepJiraDevStatus    = "jira_dev_status"

	StepGitHubRepositories = "github_repositories"
	StepGitHubPRBatch      = "github_pr_batch"
	StepGitHubPRNested     = "github_pr_nested"
)

// JiraSteps is the fixed step order of a Jira sync run.
var JiraSteps = []string{
	StepJiraProjects,
	StepJiraIssueTypes,
	StepJiraStatuses,
	StepJiraCustomFields,
	StepJiraWorkflows,
	StepJiraIssues,
	StepJiraChangelogs,
	StepJiraDevStatus,
}

// Envelope carries the identity shared by every pipeline message.
type Envelope struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	JobID         uuid.UUID `json:"job_id"`
	JobName       string    `json:"job_name"`
	Provider      string    `json:"provider"`
}

// ExtractionMessage instructs an extractor to run one step of a sync. The
// scheduler publishes the initial message with an empty cursor; extractors
// publish continuation messages carrying the cursor for the next page.
type ExtractionMessage struct {
	Envelope

	Step   string          `json:"step"`
	Cursor json.RawMessage `json:"cursor,omitempty"`

	// OldLastSyncDate is the watermark this run syncs from; NewLastSyncDate
	// is the timestamp captured when the run started. Both ride through the
	// whole pipeline so the finalizer can advance the integration watermark.
	OldLastSyncDate *time.Time `json:"old_last_sync_date,omitempty"`
	NewLastSyncDate *time.Time `json:"new_last_sync_date,omitempty"`
}

// TransformMessage points a transform worker at one staged raw row.
type TransformMessage struct {
	Envelope

	// RawID references the raw_extraction_data row to transform.
	RawID uuid.UUID `json:"raw_id"`
	// DataType selects the mapper (e.g. "jira_issues", "github_prs").
	DataType string `json:"data_type"`

	// FirstItem marks the first message of a step; LastItem marks the
	// final message of a step; LastJobItem marks the final message of the
	// entire run. The transform stage publishes the completion marker once
	// every staged row of the run, the LastJobItem row included, is settled.
	FirstItem   bool `json:"first_item"`
	LastItem    bool `json:"last_item"`
	LastJobItem bool `json:"last_job_item"`

	// Meta carries provider-specific context the mapper needs, such as
	// outstanding nested cursors for a GitHub PR page.
	Meta json.RawMessage `json:"meta,omitempty"`

	OldLastSyncDate *time.Time `json:"old_last_sync_date,omitempty"`
	NewLastSyncDate *time.Time `json:"new_last_sync_date,omitempty"`
}

// EmbeddingMessage asks the embedding stage to index one canonical record.
// A message with a nil ExternalID and LastJobItem set is the completion
// marker: it carries no record and finalizes the job when consumed. A nil
// ExternalID without LastJobItem is a flag carrier published for pages
// that mapped zero records, so step broadcasts still fire.
type EmbeddingMessage struct {
	Envelope

	TableName  string  `json:"table_name"`
	ExternalID *string `json:"external_id"`
	// Step is the extraction step the record came from, carried so the
	// embedding stage can scope its broadcasts.
	Step string `json:"step,omitempty"`

	FirstItem   bool `json:"first_item"`
	LastItem    bool `json:"last_item"`
	LastJobItem bool `json:"last_job_item"`

	OldLastSyncDate *time.Time `json:"old_last_sync_date,omitempty"`
	NewLastSyncDate *time.Time `json:"new_last_sync_date,omitempty"`
}

// IsCompletionMarker reports whether the message is a run completion
// marker rather than a record to index.
func (m *EmbeddingMessage) IsCompletionMarker() bool {
	return m.ExternalID == nil && m.LastJobItem
}

// GitHubBatchMeta rides on a PR-batch transform message. PRs listed in
// PendingPRIDs still have nested pages outstanding, so their embedding is
// deferred until the last nested page lands.
type GitHubBatchMeta struct {
	PendingPRIDs []string `json:"pending_pr_ids,omitempty"`
}

// GitHubNestedMeta rides on a nested-page transform message.
// AllNestedDone is set on the final outstanding page of a PR, signalling
// the mapper to emit the PR's deferred embedding message.
type GitHubNestedMeta struct {
	PRID          string `json:"pr_id"`
	Kind          string `json:"kind"`
	AllNestedDone bool   `json:"all_nested_done"`
}
