// Package jira extracts projects, work items and workflow metadata from a
// Jira-style REST API, one checkpointable step at a time.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaydev/syncd/domain/etljobs"
	"github.com/relaydev/syncd/domain/extraction"
	"github.com/relaydev/syncd/domain/integrations"
	"github.com/relaydev/syncd/domain/pipeline"
	"github.com/relaydev/syncd/domain/tenants"
	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/queue"
	"github.com/relaydev/syncd/pkg/logger"
)

// jqlTimeLayout is the timestamp format accepted in JQL clauses.
const jqlTimeLayout = "2006-01-02 15:04"

// Cursor tracks progress inside a step. ProjectKeys is collected during the
// projects step and rides through the rest of the run so the issue steps
// know which projects to page over.
type Cursor struct {
	StartAt      int      `json:"start_at"`
	ProjectIndex int      `json:"project_index"`
	ProjectKeys  []string `json:"project_keys,omitempty"`
}

// pageResult is the outcome of extracting one page.
type pageResult struct {
	payload  []byte
	cursor   Cursor
	stepDone bool
}

// Extractor implements the Jira sync as an eight-step machine: projects,
// issue types, statuses, custom fields, workflows, issues, changelogs,
// dev status.
type Extractor struct {
	client       *Client
	raw          *extraction.Repository
	jobs         *etljobs.Repository
	integrations *integrations.Repository
	tiers        *tenants.TierResolver
	queue        *queue.Manager
	pageSize     int
	log          *slog.Logger
}

// NewExtractor creates the Jira extractor.
func NewExtractor(
	client *Client,
	raw *extraction.Repository,
	jobs *etljobs.Repository,
	integrationsRepo *integrations.Repository,
	tiers *tenants.TierResolver,
	queueManager *queue.Manager,
	cfg *config.Config,
	log *slog.Logger,
) *Extractor {
	return &Extractor{
		client:       client,
		raw:          raw,
		jobs:         jobs,
		integrations: integrationsRepo,
		tiers:        tiers,
		queue:        queueManager,
		pageSize:     cfg.Jira.PageSize,
		log:          log.With(logger.Scope("jira-extractor")),
	}
}

// Provider implements extraction.Extractor.
func (e *Extractor) Provider() string { return pipeline.ProviderJira }

// Extract runs one step page: fetch, stage, hand off to transform,
// checkpoint, and publish the continuation.
func (e *Extractor) Extract(ctx context.Context, msg *pipeline.ExtractionMessage) error {
	var cur Cursor
	if len(msg.Cursor) > 0 {
		if err := json.Unmarshal(msg.Cursor, &cur); err != nil {
			return pipeline.Fatal(fmt.Errorf("decode jira cursor: %w", err))
		}
	}

	creds, err := e.credentials(ctx, msg)
	if err != nil {
		return err
	}

	result, err := e.extractPage(ctx, msg, cur, creds)
	if err != nil {
		return classify(err)
	}

	nextStep := msg.Step
	if result.stepDone {
		nextStep = stepAfter(msg.Step)
	}
	runDone := result.stepDone && nextStep == ""

	row := &extraction.RawData{
		TenantID:      msg.TenantID,
		IntegrationID: msg.IntegrationID,
		JobID:         msg.JobID,
		Provider:      pipeline.ProviderJira,
		DataType:      msg.Step,
		Payload:       result.payload,
		Status:        extraction.RawPending,
		Final:         runDone,
	}
	if err := e.raw.StoreBatch(ctx, []*extraction.RawData{row}); err != nil {
		return pipeline.Transient(err)
	}

	tm := &pipeline.TransformMessage{
		Envelope:        msg.Envelope,
		RawID:           row.ID,
		DataType:        msg.Step,
		FirstItem:       cur.StartAt == 0 && cur.ProjectIndex == 0,
		LastItem:        result.stepDone,
		LastJobItem:     runDone,
		OldLastSyncDate: msg.OldLastSyncDate,
		NewLastSyncDate: msg.NewLastSyncDate,
	}
	transformQueue, err := e.tiers.QueueFor(ctx, queue.StageTransform, msg.TenantID)
	if err != nil {
		return pipeline.Transient(err)
	}
	if err := e.queue.Publish(ctx, transformQueue, tm); err != nil {
		return pipeline.Transient(err)
	}

	// Checkpoint after the page has been handed off: a retried run resumes
	// at the next position, never repeating finished pages.
	nextCursor := result.cursor
	if result.stepDone {
		nextCursor = Cursor{ProjectKeys: result.cursor.ProjectKeys}
	}
	cursorData, err := json.Marshal(nextCursor)
	if err != nil {
		return pipeline.Fatal(err)
	}
	cp := &etljobs.Checkpoint{
		Step:            msg.Step,
		Cursor:          cursorData,
		OldLastSyncDate: msg.OldLastSyncDate,
		NewLastSyncDate: msg.NewLastSyncDate,
	}
	if !runDone {
		cp.Step = nextStep
	}
	if err := e.jobs.SaveCheckpoint(ctx, msg.JobID, cp); err != nil {
		return pipeline.Transient(err)
	}

	if runDone {
		e.log.Info("jira extraction complete",
			slog.String("job_id", msg.JobID.String()),
			slog.Int("projects", len(result.cursor.ProjectKeys)))
		return nil
	}

	continuation := &pipeline.ExtractionMessage{
		Envelope:        msg.Envelope,
		Step:            nextStep,
		Cursor:          cursorData,
		OldLastSyncDate: msg.OldLastSyncDate,
		NewLastSyncDate: msg.NewLastSyncDate,
	}
	extractionQueue, err := e.tiers.QueueFor(ctx, queue.StageExtraction, msg.TenantID)
	if err != nil {
		return pipeline.Transient(err)
	}
	if err := e.queue.Publish(ctx, extractionQueue, continuation); err != nil {
		return pipeline.Transient(err)
	}
	return nil
}

func (e *Extractor) credentials(ctx context.Context, msg *pipeline.ExtractionMessage) (Credentials, error) {
	integration, err := e.integrations.GetByID(ctx, msg.IntegrationID)
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return Credentials{}, pipeline.Fatal(err)
		}
		return Credentials{}, pipeline.Transient(err)
	}

	secret, err := e.integrations.GetCredentials(ctx, integration)
	if err != nil {
		return Credentials{}, pipeline.Fatal(err)
	}
	token, _ := secret["token"].(string)
	if token == "" {
		return Credentials{}, pipeline.Fatal(fmt.Errorf("integration %s has no API token", integration.ID))
	}

	return Credentials{
		BaseURL:  integration.BaseURL,
		Username: integration.Username,
		Token:    token,
	}, nil
}

func (e *Extractor) extractPage(ctx context.Context, msg *pipeline.ExtractionMessage, cur Cursor, creds Credentials) (*pageResult, error) {
	switch msg.Step {
	case pipeline.StepJiraProjects:
		return e.projectsPage(ctx, creds, cur)
	case pipeline.StepJiraIssueTypes:
		_, body, err := e.client.GetIssueTypes(ctx, creds)
		return singlePage(body, cur), err
	case pipeline.StepJiraStatuses:
		_, body, err := e.client.GetStatuses(ctx, creds)
		return singlePage(body, cur), err
	case pipeline.StepJiraCustomFields:
		return e.customFieldsPage(ctx, creds, cur)
	case pipeline.StepJiraWorkflows:
		return e.workflowsPage(ctx, creds, cur)
	case pipeline.StepJiraIssues:
		return e.issuesPage(ctx, msg, creds, cur, false)
	case pipeline.StepJiraChangelogs:
		return e.issuesPage(ctx, msg, creds, cur, true)
	case pipeline.StepJiraDevStatus:
		return e.devStatusPage(ctx, msg, creds, cur)
	default:
		return nil, &unknownStepError{step: msg.Step}
	}
}

func (e *Extractor) projectsPage(ctx context.Context, creds Credentials, cur Cursor) (*pageResult, error) {
	resp, body, err := e.client.SearchProjects(ctx, creds, cur.StartAt, e.pageSize)
	if err != nil {
		return nil, err
	}

	for _, p := range resp.Values {
		cur.ProjectKeys = append(cur.ProjectKeys, p.Key)
	}

	last := resp.IsLast || resp.StartAt+len(resp.Values) >= resp.Total
	if !last {
		cur.StartAt += len(resp.Values)
	}
	return &pageResult{payload: body, cursor: cur, stepDone: last}, nil
}

// customFieldsPage fetches all fields, keeps custom ones and drops
// duplicate IDs. Jira reports context-scoped copies of the same field.
func (e *Extractor) customFieldsPage(ctx context.Context, creds Credentials, cur Cursor) (*pageResult, error) {
	fields, _, err := e.client.GetFields(ctx, creds)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(fields))
	custom := make([]Field, 0, len(fields))
	for _, f := range fields {
		if !f.Custom || seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		custom = append(custom, f)
	}

	payload, err := json.Marshal(custom)
	if err != nil {
		return nil, err
	}
	return singlePage(payload, cur), nil
}

func (e *Extractor) workflowsPage(ctx context.Context, creds Credentials, cur Cursor) (*pageResult, error) {
	resp, body, err := e.client.SearchWorkflows(ctx, creds, cur.StartAt, e.pageSize)
	if err != nil {
		return nil, err
	}

	last := resp.IsLast || resp.StartAt+len(resp.Values) >= resp.Total
	if !last {
		cur.StartAt += len(resp.Values)
	}
	return &pageResult{payload: body, cursor: cur, stepDone: last}, nil
}

// issuesPage pages through issues project by project. The cursor walks
// (project_index, start_at); a project's last page advances to the next
// project, and the last page of the last project finishes the step.
func (e *Extractor) issuesPage(ctx context.Context, msg *pipeline.ExtractionMessage, creds Credentials, cur Cursor, withChangelog bool) (*pageResult, error) {
	if cur.ProjectIndex >= len(cur.ProjectKeys) {
		// No projects to sync: stage an empty page so the pipeline flags
		// still flow through transform.
		return &pageResult{payload: []byte(`{"issues":[],"total":0}`), cursor: cur, stepDone: true}, nil
	}

	key := cur.ProjectKeys[cur.ProjectIndex]
	resp, body, err := e.client.SearchIssues(ctx, creds, buildJQL(key, msg.OldLastSyncDate), cur.StartAt, e.pageSize, withChangelog)
	if err != nil {
		return nil, err
	}

	projectDone := resp.StartAt+len(resp.Issues) >= resp.Total
	if !projectDone {
		cur.StartAt += len(resp.Issues)
		return &pageResult{payload: body, cursor: cur, stepDone: false}, nil
	}

	if cur.ProjectIndex+1 < len(cur.ProjectKeys) {
		cur.ProjectIndex++
		cur.StartAt = 0
		return &pageResult{payload: body, cursor: cur, stepDone: false}, nil
	}
	return &pageResult{payload: body, cursor: cur, stepDone: true}, nil
}

// devStatusPage pages issues like issuesPage, then fetches the development
// panel of each issue on the page. The staged payload pairs every issue
// with the pull requests the tracker knows about.
func (e *Extractor) devStatusPage(ctx context.Context, msg *pipeline.ExtractionMessage, creds Credentials, cur Cursor) (*pageResult, error) {
	if cur.ProjectIndex >= len(cur.ProjectKeys) {
		return &pageResult{payload: []byte(`{"issues":[]}`), cursor: cur, stepDone: true}, nil
	}

	key := cur.ProjectKeys[cur.ProjectIndex]
	resp, _, err := e.client.SearchIssues(ctx, creds, buildJQL(key, msg.OldLastSyncDate), cur.StartAt, e.pageSize, false)
	if err != nil {
		return nil, err
	}

	page := DevStatusPage{Issues: make([]DevStatusIssue, 0, len(resp.Issues))}
	for _, issue := range resp.Issues {
		prs, err := e.client.GetDevStatus(ctx, creds, issue.ID)
		if err != nil {
			return nil, err
		}
		page.Issues = append(page.Issues, DevStatusIssue{
			ID:           issue.ID,
			Key:          issue.Key,
			PullRequests: prs,
		})
	}
	payload, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}

	projectDone := resp.StartAt+len(resp.Issues) >= resp.Total
	if !projectDone {
		cur.StartAt += len(resp.Issues)
		return &pageResult{payload: payload, cursor: cur, stepDone: false}, nil
	}
	if cur.ProjectIndex+1 < len(cur.ProjectKeys) {
		cur.ProjectIndex++
		cur.StartAt = 0
		return &pageResult{payload: payload, cursor: cur, stepDone: false}, nil
	}
	return &pageResult{payload: payload, cursor: cur, stepDone: true}, nil
}

// buildJQL composes the per-project issue query, bounded strictly below by
// the incremental watermark when one exists.
func buildJQL(projectKey string, since *time.Time) string {
	jql := fmt.Sprintf("project = %q", projectKey)
	if since != nil {
		jql += fmt.Sprintf(" AND updated > %q", since.UTC().Format(jqlTimeLayout))
	}
	return jql + " ORDER BY updated ASC"
}

func singlePage(payload []byte, cur Cursor) *pageResult {
	return &pageResult{payload: payload, cursor: cur, stepDone: true}
}

// stepAfter returns the next step of the run, or "" after the last.
func stepAfter(step string) string {
	for i, s := range pipeline.JiraSteps {
		if s == step && i+1 < len(pipeline.JiraSteps) {
			return pipeline.JiraSteps[i+1]
		}
	}
	return ""
}

type unknownStepError struct{ step string }

func (e *unknownStepError) Error() string { return "unknown jira step: " + e.step }

// classify maps provider failures onto pipeline semantics: client errors
// are permanent, everything else is worth a redelivery.
func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		return pipeline.Fatal(err)
	}
	var unknown *unknownStepError
	if errors.As(err, &unknown) {
		return pipeline.Fatal(err)
	}
	return pipeline.Transient(err)
}
