package jira

import "encoding/json"

// API response shapes, trimmed to the fields the pipeline consumes. Raw
// payloads are staged verbatim, so unknown fields survive for the
// transform stage.

// ProjectSearchResponse is the paginated project list.
type ProjectSearchResponse struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	IsLast     bool      `json:"isLast"`
	Values     []Project `json:"values"`
}

// Project is a container for work items.
type Project struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Self        string `json:"self,omitempty"`
}

// IssueType is a work item type definition.
type IssueType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IconURL     string `json:"iconUrl,omitempty"`
	Subtask     bool   `json:"subtask"`
}

// Status is a workflow status definition.
type Status struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	StatusCategory *StatusCategory `json:"statusCategory,omitempty"`
}

// StatusCategory groups statuses into todo/in-progress/done.
type StatusCategory struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Field is a field definition; custom fields carry Custom=true.
type Field struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Custom bool            `json:"custom"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// WorkflowSearchResponse is the paginated workflow list.
type WorkflowSearchResponse struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	IsLast     bool       `json:"isLast"`
	Values     []Workflow `json:"values"`
}

// Workflow is a named status graph with the statuses it contains.
type Workflow struct {
	ID       WorkflowID `json:"id"`
	Statuses []Status   `json:"statuses,omitempty"`
}

// WorkflowID is the composite workflow identifier.
type WorkflowID struct {
	Name     string `json:"name"`
	EntityID string `json:"entityId,omitempty"`
}

// SearchResponse is the paginated JQL issue search result.
type SearchResponse struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Issue is one work item, with fields left raw for the mapper.
type Issue struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Fields    json.RawMessage `json:"fields"`
	Changelog json.RawMessage `json:"changelog,omitempty"`
}

// DevStatusResponse is the development-panel detail for one issue.
type DevStatusResponse struct {
	Detail []DevStatusDetail `json:"detail"`
}

// DevStatusDetail is one connected development tool's contribution.
type DevStatusDetail struct {
	PullRequests []DevStatusPR `json:"pullRequests"`
}

// DevStatusPR is a pull request linked to an issue.
type DevStatusPR struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// DevStatusPage is the staged shape for one dev-status extraction page.
type DevStatusPage struct {
	Issues []DevStatusIssue `json:"issues"`
}

// DevStatusIssue pairs an issue with its linked pull requests.
type DevStatusIssue struct {
	ID           string        `json:"id"`
	Key          string        `json:"key"`
	PullRequests []DevStatusPR `json:"pullRequests"`
}
