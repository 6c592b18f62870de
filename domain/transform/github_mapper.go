package transform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/relaydev/syncd/domain/canonical"
	"github.com/relaydev/syncd/domain/extraction/providers/github"
	"github.com/relaydev/syncd/domain/pipeline"
)

// workItemKeyPattern matches issue-tracker keys ("ENG-42") in PR titles and
// bodies, producing the cross-provider work item links.
var workItemKeyPattern = regexp.MustCompile(`[A-Z][A-Z0-9]+-\d+`)

func mapGitHubRepositories(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var page github.RepositoryPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return nil, fmt.Errorf("parse repositories page: %w", err)
	}

	rs := &recordSet{}
	for _, repo := range page.Nodes {
		row := &canonical.Repository{
			TenantID:      tm.TenantID,
			IntegrationID: tm.IntegrationID,
			ExternalID:    repo.ID,
			Name:          repo.Name,
			Owner:         repo.Owner.Login,
			URL:           strOrNil(repo.URL),
			Active:        true,
		}
		if repo.DefaultBranchRef != nil {
			row.DefaultBranch = strOrNil(repo.DefaultBranchRef.Name)
		}
		rs.repositories = append(rs.repositories, row)
		rs.addEmbed(canonical.TableRepositories, repo.ID)
	}
	return rs, nil
}

// mapGitHubPRBatch maps one PR page plus the inline first pages of each
// PR's nested connections. PRs listed in the batch meta still have nested
// pages outstanding; their embedding is deferred to the final nested page.
func mapGitHubPRBatch(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var batch github.PRBatchPayload
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("parse pr batch: %w", err)
	}

	pending := make(map[string]bool)
	if len(tm.Meta) > 0 {
		var meta pipeline.GitHubBatchMeta
		if err := json.Unmarshal(tm.Meta, &meta); err != nil {
			return nil, fmt.Errorf("parse pr batch meta: %w", err)
		}
		for _, id := range meta.PendingPRIDs {
			pending[id] = true
		}
	}

	rs := &recordSet{}
	for _, pr := range batch.Page.Nodes {
		row := &canonical.PR{
			TenantID:             tm.TenantID,
			IntegrationID:        tm.IntegrationID,
			ExternalID:           pr.ID,
			RepositoryExternalID: batch.Repository.ID,
			Number:               pr.Number,
			Title:                pr.Title,
			Body:                 strOrNil(pr.Body),
			State:                strOrNil(pr.State),
			SourceBranch:         strOrNil(pr.HeadRefName),
			TargetBranch:         strOrNil(pr.BaseRefName),
			MergedAt:             pr.MergedAt,
			ClosedAt:             pr.ClosedAt,
			ExternalCreatedAt:    timePtr(pr.CreatedAt),
			ExternalUpdatedAt:    timePtr(pr.UpdatedAt),
			Active:               true,
		}
		if pr.Author != nil {
			row.Author = strOrNil(pr.Author.Login)
		}
		rs.prs = append(rs.prs, row)
		if !pending[pr.ID] {
			rs.addEmbed(canonical.TablePRs, pr.ID)
		}

		appendCommits(rs, tm, pr.ID, pr.Commits.Nodes)
		appendReviews(rs, tm, pr.ID, pr.Reviews.Nodes)
		appendComments(rs, tm, pr.ID, pr.Comments.Nodes)
		appendThreadComments(rs, tm, pr.ID, pr.ReviewThreads.Nodes)
		appendWorkItemLinks(rs, tm, pr.ID, pr.Title, pr.Body)
	}
	return rs, nil
}

// mapGitHubPRNested maps one continuation page of a single PR's nested
// connection. When the meta marks the PR's nested work as complete, the
// deferred PR embedding is emitted here.
func mapGitHubPRNested(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var page github.NestedPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return nil, fmt.Errorf("parse nested page: %w", err)
	}
	var meta pipeline.GitHubNestedMeta
	if len(tm.Meta) > 0 {
		if err := json.Unmarshal(tm.Meta, &meta); err != nil {
			return nil, fmt.Errorf("parse nested meta: %w", err)
		}
	}

	rs := &recordSet{}
	switch {
	case page.Commits != nil:
		appendCommits(rs, tm, page.PRID, page.Commits.Nodes)
	case page.Reviews != nil:
		appendReviews(rs, tm, page.PRID, page.Reviews.Nodes)
	case page.Comments != nil:
		appendComments(rs, tm, page.PRID, page.Comments.Nodes)
	case page.Threads != nil:
		appendThreadComments(rs, tm, page.PRID, page.Threads.Nodes)
	}

	if meta.AllNestedDone && meta.PRID != "" {
		rs.addEmbed(canonical.TablePRs, meta.PRID)
	}
	return rs, nil
}

func appendCommits(rs *recordSet, tm *pipeline.TransformMessage, prID string, commits []github.Commit) {
	for _, c := range commits {
		rs.prCommits = append(rs.prCommits, &canonical.PRCommit{
			TenantID:      tm.TenantID,
			IntegrationID: tm.IntegrationID,
			ExternalID:    c.Commit.OID,
			PRExternalID:  prID,
			SHA:           c.Commit.OID,
			Message:       strOrNil(c.Commit.Message),
			Author:        strOrNil(c.Commit.Author.Name),
			CommittedAt:   timePtr(c.Commit.CommittedDate),
			Active:        true,
		})
		rs.addEmbed(canonical.TablePRCommits, c.Commit.OID)
	}
}

func appendReviews(rs *recordSet, tm *pipeline.TransformMessage, prID string, reviews []github.Review) {
	for _, r := range reviews {
		row := &canonical.PRReview{
			TenantID:      tm.TenantID,
			IntegrationID: tm.IntegrationID,
			ExternalID:    r.ID,
			PRExternalID:  prID,
			State:         strOrNil(r.State),
			Body:          strOrNil(r.Body),
			SubmittedAt:   r.SubmittedAt,
			Active:        true,
		}
		if r.Author != nil {
			row.Author = strOrNil(r.Author.Login)
		}
		rs.prReviews = append(rs.prReviews, row)
		rs.addEmbed(canonical.TablePRReviews, r.ID)
	}
}

func appendComments(rs *recordSet, tm *pipeline.TransformMessage, prID string, comments []github.Comment) {
	for _, c := range comments {
		row := &canonical.PRComment{
			TenantID:          tm.TenantID,
			IntegrationID:     tm.IntegrationID,
			ExternalID:        c.ID,
			PRExternalID:      prID,
			Body:              strOrNil(c.Body),
			ExternalCreatedAt: timePtr(c.CreatedAt),
			Active:            true,
		}
		if c.Author != nil {
			row.Author = strOrNil(c.Author.Login)
		}
		rs.prComments = append(rs.prComments, row)
		rs.addEmbed(canonical.TablePRComments, c.ID)
	}
}

// appendThreadComments flattens inline review threads into the same comment
// table as top-level PR comments. Comment node IDs are globally unique, so
// the rows never collide.
func appendThreadComments(rs *recordSet, tm *pipeline.TransformMessage, prID string, threads []github.ReviewThread) {
	for _, t := range threads {
		appendComments(rs, tm, prID, t.Comments.Nodes)
	}
}

// appendWorkItemLinks scans a PR's title and body for issue keys and emits
// one link row per distinct key. The work item side is keyed by issue key,
// matching what humans write in PR descriptions.
func appendWorkItemLinks(rs *recordSet, tm *pipeline.TransformMessage, prID, title, body string) {
	seen := make(map[string]bool)
	for _, key := range workItemKeyPattern.FindAllString(title+"\n"+body, -1) {
		if seen[key] {
			continue
		}
		seen[key] = true
		rs.witPRLinks = append(rs.witPRLinks, &canonical.WITPRLink{
			TenantID:           tm.TenantID,
			IntegrationID:      tm.IntegrationID,
			ExternalID:         key + ":" + prID,
			WorkItemExternalID: key,
			PRExternalID:       prID,
			Active:             true,
		})
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
