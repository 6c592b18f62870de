// Package github extracts repositories and pull requests from a
// GitHub-style GraphQL API. PR pages arrive newest-update-first with the
// first page of each nested connection inline; deeper nested pages are
// fetched by continuation messages so one run forms a single sequential
// message chain per job.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relaydev/syncd/domain/etljobs"
	"github.com/relaydev/syncd/domain/extraction"
	"github.com/relaydev/syncd/domain/integrations"
	"github.com/relaydev/syncd/domain/pipeline"
	"github.com/relaydev/syncd/domain/tenants"
	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/queue"
	"github.com/relaydev/syncd/pkg/logger"
)

// RepoRef identifies a repository collected during the repository step.
type RepoRef struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// PRBatchPayload is the staged form of one PR page, tagged with the
// repository it was fetched from so the mapper can attribute the PRs.
type PRBatchPayload struct {
	Repository RepoRef         `json:"repository"`
	Page       PullRequestPage `json:"page"`
}

// NestedWork is one outstanding nested-connection continuation for a PR.
type NestedWork struct {
	PRID   string `json:"pr_id"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Kind   string `json:"kind"`
	Cursor string `json:"cursor"`
}

// Cursor is the run state carried between continuation messages. Nested
// work is drained before the next PR page is fetched.
type Cursor struct {
	PageCursor   string       `json:"page_cursor,omitempty"`
	Repos        []RepoRef    `json:"repos,omitempty"`
	RepoIndex    int          `json:"repo_index"`
	Nested       []NestedWork `json:"nested,omitempty"`
	PRsProcessed int          `json:"prs_processed"`
}

type pageResult struct {
	payload  []byte
	dataType string
	meta     json.RawMessage
	cursor   Cursor
	runDone  bool
}

// Extractor implements the GitHub sync.
type Extractor struct {
	client       *Client
	raw          *extraction.Repository
	jobs         *etljobs.Repository
	integrations *integrations.Repository
	tiers        *tenants.TierResolver
	queue        *queue.Manager
	log          *slog.Logger
}

// NewExtractor creates the GitHub extractor.
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
		log:          log.With(logger.Scope("github-extractor")),
	}
}

// Provider implements extraction.Extractor.
func (e *Extractor) Provider() string { return pipeline.ProviderGitHub }

// Extract processes one extraction message: fetch a page, stage it, hand
// it to transform, checkpoint and publish the continuation.
func (e *Extractor) Extract(ctx context.Context, msg *pipeline.ExtractionMessage) error {
	var cur Cursor
	if len(msg.Cursor) > 0 {
		if err := json.Unmarshal(msg.Cursor, &cur); err != nil {
			return pipeline.Fatal(fmt.Errorf("decode github cursor: %w", err))
		}
	}

	creds, err := e.credentials(ctx, msg)
	if err != nil {
		return err
	}

	// The first page of each phase opens a step-level broadcast downstream.
	repoFirst := msg.Step == pipeline.StepGitHubRepositories && cur.PageCursor == "" && len(cur.Repos) == 0
	prFirst := msg.Step == pipeline.StepGitHubPRBatch &&
		cur.RepoIndex == 0 && cur.PageCursor == "" && len(cur.Nested) == 0 && cur.PRsProcessed == 0
	firstItem := repoFirst || prFirst

	var result *pageResult
	switch msg.Step {
	case pipeline.StepGitHubRepositories:
		result, err = e.repositoriesPage(ctx, creds, cur)
	case pipeline.StepGitHubPRBatch, pipeline.StepGitHubPRNested:
		result, err = e.pullRequestsPage(ctx, msg, creds, cur)
	default:
		return pipeline.Fatal(fmt.Errorf("unknown github step: %s", msg.Step))
	}
	if err != nil {
		return classify(err)
	}

	row := &extraction.RawData{
		TenantID:      msg.TenantID,
		IntegrationID: msg.IntegrationID,
		JobID:         msg.JobID,
		Provider:      pipeline.ProviderGitHub,
		DataType:      result.dataType,
		Payload:       result.payload,
		Status:        extraction.RawPending,
		Final:         result.runDone,
	}
	if err := e.raw.StoreBatch(ctx, []*extraction.RawData{row}); err != nil {
		return pipeline.Transient(err)
	}

	stepDone := result.runDone || (msg.Step == pipeline.StepGitHubRepositories && result.dataType == pipeline.StepGitHubRepositories && result.cursor.PageCursor == "")
	tm := &pipeline.TransformMessage{
		Envelope:        msg.Envelope,
		RawID:           row.ID,
		DataType:        result.dataType,
		FirstItem:       firstItem,
		LastItem:        stepDone,
		LastJobItem:     result.runDone,
		Meta:            result.meta,
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

	cursorData, err := json.Marshal(result.cursor)
	if err != nil {
		return pipeline.Fatal(err)
	}
	nextStep := e.nextStep(msg.Step, result)
	cp := &etljobs.Checkpoint{
		Step:            nextStep,
		Cursor:          cursorData,
		OldLastSyncDate: msg.OldLastSyncDate,
		NewLastSyncDate: msg.NewLastSyncDate,
	}
	if result.runDone {
		cp.Step = msg.Step
	}
	if err := e.jobs.SaveCheckpoint(ctx, msg.JobID, cp); err != nil {
		return pipeline.Transient(err)
	}

	if result.runDone {
		e.log.Info("github extraction complete",
			slog.String("job_id", msg.JobID.String()),
			slog.Int("repos", len(result.cursor.Repos)),
			slog.Int("prs_processed", result.cursor.PRsProcessed))
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

// nextStep picks the continuation step: repositories until exhausted, then
// PR batches, with nested continuations interleaved while outstanding.
func (e *Extractor) nextStep(current string, result *pageResult) string {
	if current == pipeline.StepGitHubRepositories && result.cursor.PageCursor != "" {
		return pipeline.StepGitHubRepositories
	}
	if len(result.cursor.Nested) > 0 {
		return pipeline.StepGitHubPRNested
	}
	return pipeline.StepGitHubPRBatch
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

	return Credentials{BaseURL: integration.BaseURL, Token: token}, nil
}

func (e *Extractor) repositoriesPage(ctx context.Context, creds Credentials, cur Cursor) (*pageResult, error) {
	page, err := e.client.ListRepositories(ctx, creds, cur.PageCursor)
	if err != nil {
		return nil, err
	}

	for _, repo := range page.Nodes {
		cur.Repos = append(cur.Repos, RepoRef{ID: repo.ID, Owner: repo.Owner.Login, Name: repo.Name})
	}
	if page.PageInfo.HasNextPage {
		cur.PageCursor = page.PageInfo.EndCursor
	} else {
		cur.PageCursor = ""
	}

	payload, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}
	return &pageResult{
		payload:  payload,
		dataType: pipeline.StepGitHubRepositories,
		cursor:   cur,
		// A tenant with zero repositories finishes the run here.
		runDone: !page.PageInfo.HasNextPage && len(cur.Repos) == 0,
	}, nil
}

// pullRequestsPage drains outstanding nested work first, then fetches the
// next PR page. The run is done when every repo's PR pages and all nested
// continuations are exhausted.
func (e *Extractor) pullRequestsPage(ctx context.Context, msg *pipeline.ExtractionMessage, creds Credentials, cur Cursor) (*pageResult, error) {
	if len(cur.Nested) > 0 {
		return e.nestedPage(ctx, creds, cur)
	}

	if cur.RepoIndex >= len(cur.Repos) {
		// Nothing left to fetch; emit an empty terminal page so the
		// completion flags still flow through transform.
		return &pageResult{
			payload:  []byte(`{"repository":{},"page":{"pageInfo":{"hasNextPage":false},"nodes":[]}}`),
			dataType: pipeline.StepGitHubPRBatch,
			cursor:   cur,
			runDone:  true,
		}, nil
	}

	repo := cur.Repos[cur.RepoIndex]
	page, err := e.client.ListPullRequests(ctx, creds, repo.Owner, repo.Name, cur.PageCursor)
	if err != nil {
		return nil, err
	}
	cur.PRsProcessed += len(page.Nodes)

	// Collect continuations for PRs whose nested connections overflow the
	// inline first page.
	var pendingPRIDs []string
	for _, pr := range page.Nodes {
		before := len(cur.Nested)
		cur.Nested = appendNestedWork(cur.Nested, repo, pr)
		if len(cur.Nested) > before {
			pendingPRIDs = append(pendingPRIDs, pr.ID)
		}
	}

	// PRs are ordered by update time descending, so once a page dips
	// below the watermark the rest of the repo is already synced.
	repoDone := !page.PageInfo.HasNextPage
	if !repoDone && msg.OldLastSyncDate != nil && len(page.Nodes) > 0 {
		oldest := page.Nodes[len(page.Nodes)-1].UpdatedAt
		if oldest.Before(*msg.OldLastSyncDate) {
			repoDone = true
		}
	}
	if repoDone {
		cur.RepoIndex++
		cur.PageCursor = ""
	} else {
		cur.PageCursor = page.PageInfo.EndCursor
	}

	meta, err := json.Marshal(pipeline.GitHubBatchMeta{PendingPRIDs: pendingPRIDs})
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(PRBatchPayload{Repository: repo, Page: *page})
	if err != nil {
		return nil, err
	}
	return &pageResult{
		payload:  payload,
		dataType: pipeline.StepGitHubPRBatch,
		meta:     meta,
		cursor:   cur,
		runDone:  cur.RepoIndex >= len(cur.Repos) && len(cur.Nested) == 0,
	}, nil
}

func (e *Extractor) nestedPage(ctx context.Context, creds Credentials, cur Cursor) (*pageResult, error) {
	work := cur.Nested[0]
	page, err := e.client.ListNestedPage(ctx, creds, work.Owner, work.Repo, work.Number, work.Kind, work.Cursor)
	if err != nil {
		return nil, err
	}

	pageInfo := nestedPageInfo(page)
	if pageInfo.HasNextPage {
		cur.Nested[0].Cursor = pageInfo.EndCursor
	} else {
		cur.Nested = cur.Nested[1:]
	}

	// The PR's deferred embedding fires when its final nested page lands.
	allNestedDone := !pageInfo.HasNextPage
	for _, w := range cur.Nested {
		if w.PRID == work.PRID {
			allNestedDone = false
			break
		}
	}

	meta, err := json.Marshal(pipeline.GitHubNestedMeta{
		PRID:          work.PRID,
		Kind:          work.Kind,
		AllNestedDone: allNestedDone,
	})
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}
	return &pageResult{
		payload:  payload,
		dataType: pipeline.StepGitHubPRNested,
		meta:     meta,
		cursor:   cur,
		runDone:  cur.RepoIndex >= len(cur.Repos) && len(cur.Nested) == 0,
	}, nil
}

// appendNestedWork queues continuations for each nested connection of a PR
// that has more than its inline first page.
func appendNestedWork(nested []NestedWork, repo RepoRef, pr PullRequest) []NestedWork {
	add := func(kind, cursor string) {
		nested = append(nested, NestedWork{
			PRID:   pr.ID,
			Owner:  repo.Owner,
			Repo:   repo.Name,
			Number: pr.Number,
			Kind:   kind,
			Cursor: cursor,
		})
	}
	if pr.Commits.PageInfo.HasNextPage {
		add(KindCommits, pr.Commits.PageInfo.EndCursor)
	}
	if pr.Reviews.PageInfo.HasNextPage {
		add(KindReviews, pr.Reviews.PageInfo.EndCursor)
	}
	if pr.Comments.PageInfo.HasNextPage {
		add(KindComments, pr.Comments.PageInfo.EndCursor)
	}
	if pr.ReviewThreads.PageInfo.HasNextPage {
		add(KindThreads, pr.ReviewThreads.PageInfo.EndCursor)
	}
	return nested
}

func nestedPageInfo(page *NestedPage) PageInfo {
	switch {
	case page.Commits != nil:
		return page.Commits.PageInfo
	case page.Reviews != nil:
		return page.Reviews.PageInfo
	case page.Comments != nil:
		return page.Comments.PageInfo
	case page.Threads != nil:
		return page.Threads.PageInfo
	default:
		return PageInfo{}
	}
}

// classify maps provider failures onto pipeline semantics. Rate limiting
// is fatal for the run: the job fails with the reset time recorded and the
// scheduled retry resumes from the checkpoint.
func classify(err error) error {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return pipeline.Fatal(err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		return pipeline.Fatal(err)
	}
	return pipeline.Transient(err)
}
