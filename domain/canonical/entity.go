// Package canonical defines the normalized record types the transform
// stage writes and the embedding stage reads. Every table is keyed by
// (tenant_id, integration_id, external_id), which makes upserts idempotent
// under message redelivery.
package canonical

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Canonical table names, used in embedding messages and vector store calls.
const (
	TableProjects       = "projects"
	TableWITs           = "wits"
	TableWorkItems      = "work_items"
	TableStatuses       = "statuses"
	TableWorkflows      = "workflows"
	TableStatusMappings = "status_mappings"
	TableChangelogs     = "changelogs"
	TableCustomFields   = "custom_fields"
	TableWITHierarchies = "wit_hierarchies"
	TableWITMappings    = "wit_mappings"
	TableRepositories   = "repositories"
	TablePRs            = "prs"
	TablePRCommits      = "prs_commits"
	TablePRReviews      = "prs_reviews"
	TablePRComments     = "prs_comments"
	TableWITPRLinks     = "wit_pr_links"
)

// Project is a work item container (Jira project).
type Project struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID      uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID    string    `bun:"external_id,notnull"`
	Name          string    `bun:"name,notnull"`
	Key           string    `bun:"key,notnull,default:''"`
	Description   *string   `bun:"description"`
	URL           *string   `bun:"url"`
	Active        bool      `bun:"active,notnull,default:true"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:now()"`
}

// WIT is a work item type definition.
type WIT struct {
	bun.BaseModel `bun:"table:wits,alias:w"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID      uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID    string    `bun:"external_id,notnull"`
	Name          string    `bun:"name,notnull"`
	Description   *string   `bun:"description"`
	IconURL       *string   `bun:"icon_url"`
	Subtask       bool      `bun:"subtask,notnull,default:false"`
	Active        bool      `bun:"active,notnull,default:true"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:now()"`
}

// WorkItem is one issue/task/story.
type WorkItem struct {
	bun.BaseModel `bun:"table:work_items,alias:wi"`

	ID                uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID          uuid.UUID  `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID     uuid.UUID  `bun:"integration_id,notnull,type:uuid"`
	ExternalID        string     `bun:"external_id,notnull"`
	ProjectExternalID string     `bun:"project_external_id,notnull,default:''"`
	WITExternalID     string     `bun:"wit_external_id,notnull,default:''"`
	Title             string     `bun:"title,notnull,default:''"`
	Description       *string    `bun:"description"`
	StatusExternalID  *string    `bun:"status_external_id"`
	Assignee          *string    `bun:"assignee"`
	Reporter          *string    `bun:"reporter"`
	Priority          *string    `bun:"priority"`
	Labels            []string   `bun:"labels,type:jsonb,nullzero"`
	ParentExternalID  *string    `bun:"parent_external_id"`
	ExternalCreatedAt *time.Time `bun:"external_created_at"`
	ExternalUpdatedAt *time.Time `bun:"external_updated_at"`
	Active            bool       `bun:"active,notnull,default:true"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:now()"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:now()"`
}

// Status is a workflow status definition.
type Status struct {
	bun.BaseModel `bun:"table:statuses,alias:s"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID      uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID    string    `bun:"external_id,notnull"`
	Name          string    `bun:"name,notnull"`
	Category      *string   `bun:"category"`
	Active        bool      `bun:"active,notnull,default:true"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:now()"`
}

// Workflow is a named status graph.
type Workflow struct {
	bun.BaseModel `bun:"table:workflows,alias:wf"`

	ID                uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID          uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID     uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID        string    `bun:"external_id,notnull"`
	Name              string    `bun:"name,notnull"`
	ProjectExternalID *string   `bun:"project_external_id"`
	Active            bool      `bun:"active,notnull,default:true"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt         time.Time `bun:"updated_at,notnull,default:now()"`
}

// StatusMapping maps a status name to a canonical flow step within one
// workflow. Lookups are case-insensitive on the trimmed status name.
type StatusMapping struct {
	bun.BaseModel `bun:"table:status_mappings,alias:sm"`

	ID                 uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID           uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID      uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID         string    `bun:"external_id,notnull"`
	WorkflowExternalID string    `bun:"workflow_external_id,notnull"`
	StatusName         string    `bun:"status_name,notnull"`
	FlowStep           string    `bun:"flow_step,notnull"`
	Active             bool      `bun:"active,notnull,default:true"`
	CreatedAt          time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt          time.Time `bun:"updated_at,notnull,default:now()"`
}

// Changelog is one field transition of a work item.
type Changelog struct {
	bun.BaseModel `bun:"table:changelogs,alias:cl"`

	ID                 uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID           uuid.UUID  `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID      uuid.UUID  `bun:"integration_id,notnull,type:uuid"`
	ExternalID         string     `bun:"external_id,notnull"`
	WorkItemExternalID string     `bun:"work_item_external_id,notnull"`
	Field              string     `bun:"field,notnull"`
	OldValue           *string    `bun:"old_value"`
	NewValue           *string    `bun:"new_value"`
	Author             *string    `bun:"author"`
	ChangedAt          *time.Time `bun:"changed_at"`
	Active             bool       `bun:"active,notnull,default:true"`
	CreatedAt          time.Time  `bun:"created_at,notnull,default:now()"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull,default:now()"`
}

// CustomField is a tenant-defined field definition.
type CustomField struct {
	bun.BaseModel `bun:"table:custom_fields,alias:cf"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID      uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID    string    `bun:"external_id,notnull"`
	Name          string    `bun:"name,notnull"`
	FieldType     *string   `bun:"field_type"`
	FieldSchema   []byte    `bun:"field_schema,type:jsonb,nullzero"`
	Active        bool      `bun:"active,notnull,default:true"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:now()"`
}

// WITHierarchy is a parent/child relation between work item types.
type WITHierarchy struct {
	bun.BaseModel `bun:"table:wit_hierarchies,alias:wh"`

	ID                  uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID            uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID       uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID          string    `bun:"external_id,notnull"`
	ParentWITExternalID string    `bun:"parent_wit_external_id,notnull"`
	ChildWITExternalID  string    `bun:"child_wit_external_id,notnull"`
	Level               int       `bun:"level,notnull,default:0"`
	Active              bool      `bun:"active,notnull,default:true"`
	CreatedAt           time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt           time.Time `bun:"updated_at,notnull,default:now()"`
}

// WITMapping maps a provider work item type to a canonical type.
type WITMapping struct {
	bun.BaseModel `bun:"table:wit_mappings,alias:wm"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID      uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID    string    `bun:"external_id,notnull"`
	WITExternalID string    `bun:"wit_external_id,notnull"`
	CanonicalType string    `bun:"canonical_type,notnull"`
	Active        bool      `bun:"active,notnull,default:true"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:now()"`
}

// Repository is a source code repository.
type Repository struct {
	bun.BaseModel `bun:"table:repositories,alias:r"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID      uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID    string    `bun:"external_id,notnull"`
	Name          string    `bun:"name,notnull"`
	Owner         string    `bun:"owner,notnull,default:''"`
	URL           *string   `bun:"url"`
	DefaultBranch *string   `bun:"default_branch"`
	Active        bool      `bun:"active,notnull,default:true"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:now()"`
}

// PR is a pull request.
type PR struct {
	bun.BaseModel `bun:"table:prs,alias:pr"`

	ID                   uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID             uuid.UUID  `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID        uuid.UUID  `bun:"integration_id,notnull,type:uuid"`
	ExternalID           string     `bun:"external_id,notnull"`
	RepositoryExternalID string     `bun:"repository_external_id,notnull,default:''"`
	Number               int        `bun:"number,notnull,default:0"`
	Title                string     `bun:"title,notnull,default:''"`
	Body                 *string    `bun:"body"`
	State                *string    `bun:"state"`
	Author               *string    `bun:"author"`
	SourceBranch         *string    `bun:"source_branch"`
	TargetBranch         *string    `bun:"target_branch"`
	MergedAt             *time.Time `bun:"merged_at"`
	ClosedAt             *time.Time `bun:"closed_at"`
	ExternalCreatedAt    *time.Time `bun:"external_created_at"`
	ExternalUpdatedAt    *time.Time `bun:"external_updated_at"`
	Active               bool       `bun:"active,notnull,default:true"`
	CreatedAt            time.Time  `bun:"created_at,notnull,default:now()"`
	UpdatedAt            time.Time  `bun:"updated_at,notnull,default:now()"`
}

// PRCommit is one commit belonging to a PR.
type PRCommit struct {
	bun.BaseModel `bun:"table:prs_commits,alias:pc"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID      uuid.UUID  `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID uuid.UUID  `bun:"integration_id,notnull,type:uuid"`
	ExternalID    string     `bun:"external_id,notnull"`
	PRExternalID  string     `bun:"pr_external_id,notnull"`
	SHA           string     `bun:"sha,notnull"`
	Message       *string    `bun:"message"`
	Author        *string    `bun:"author"`
	CommittedAt   *time.Time `bun:"committed_at"`
	Active        bool       `bun:"active,notnull,default:true"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:now()"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:now()"`
}

// PRReview is one review on a PR.
type PRReview struct {
	bun.BaseModel `bun:"table:prs_reviews,alias:prv"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID      uuid.UUID  `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID uuid.UUID  `bun:"integration_id,notnull,type:uuid"`
	ExternalID    string     `bun:"external_id,notnull"`
	PRExternalID  string     `bun:"pr_external_id,notnull"`
	Author        *string    `bun:"author"`
	State         *string    `bun:"state"`
	Body          *string    `bun:"body"`
	SubmittedAt   *time.Time `bun:"submitted_at"`
	Active        bool       `bun:"active,notnull,default:true"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:now()"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:now()"`
}

// PRComment is one comment on a PR.
type PRComment struct {
	bun.BaseModel `bun:"table:prs_comments,alias:pcm"`

	ID                uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID          uuid.UUID  `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID     uuid.UUID  `bun:"integration_id,notnull,type:uuid"`
	ExternalID        string     `bun:"external_id,notnull"`
	PRExternalID      string     `bun:"pr_external_id,notnull"`
	Author            *string    `bun:"author"`
	Body              *string    `bun:"body"`
	ExternalCreatedAt *time.Time `bun:"external_created_at"`
	Active            bool       `bun:"active,notnull,default:true"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:now()"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:now()"`
}

// WITPRLink connects a work item to a PR that references it.
type WITPRLink struct {
	bun.BaseModel `bun:"table:wit_pr_links,alias:wpl"`

	ID                 uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TenantID           uuid.UUID `bun:"tenant_id,notnull,type:uuid"`
	IntegrationID      uuid.UUID `bun:"integration_id,notnull,type:uuid"`
	ExternalID         string    `bun:"external_id,notnull"`
	WorkItemExternalID string    `bun:"work_item_external_id,notnull"`
	PRExternalID       string    `bun:"pr_external_id,notnull"`
	Active             bool      `bun:"active,notnull,default:true"`
	CreatedAt          time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt          time.Time `bun:"updated_at,notnull,default:now()"`
}
