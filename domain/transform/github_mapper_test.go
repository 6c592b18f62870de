package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydev/syncd/domain/canonical"
	"github.com/relaydev/syncd/domain/pipeline"
)

func TestMapGitHubRepositories(t *testing.T) {
	tm := testMessage(pipeline.StepGitHubRepositories)
	payload := []byte(`{
		"pageInfo": {"hasNextPage": false},
		"nodes": [{
			"id": "R_1", "name": "api", "url": "https://example.com/acme/api",
			"owner": {"login": "acme"},
			"defaultBranchRef": {"name": "main"}
		}]
	}`)

	rs, err := mapGitHubRepositories(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.repositories, 1)
	assert.Equal(t, "R_1", rs.repositories[0].ExternalID)
	assert.Equal(t, "acme", rs.repositories[0].Owner)
	assert.Equal(t, "main", *rs.repositories[0].DefaultBranch)
	require.Len(t, rs.embeds, 1)
	assert.Equal(t, canonical.TableRepositories, rs.embeds[0].table)
}

func prBatchPayload(t *testing.T, prs ...map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"repository": map[string]any{"id": "R_1", "owner": "acme", "name": "api"},
		"page": map[string]any{
			"pageInfo": map[string]any{"hasNextPage": false},
			"nodes":    prs,
		},
	})
	require.NoError(t, err)
	return payload
}

func minimalPR(id string, number int) map[string]any {
	return map[string]any{
		"id": id, "number": number, "title": "Add retries", "body": "Fixes ENG-42",
		"state": "MERGED", "baseRefName": "main", "headRefName": "retries",
		"createdAt": "2026-04-01T10:00:00Z", "updatedAt": "2026-04-02T10:00:00Z",
		"author":   map[string]any{"login": "sam"},
		"commits":  map[string]any{"pageInfo": map[string]any{"hasNextPage": false}, "nodes": []any{}},
		"reviews":  map[string]any{"pageInfo": map[string]any{"hasNextPage": false}, "nodes": []any{}},
		"comments": map[string]any{"pageInfo": map[string]any{"hasNextPage": false}, "nodes": []any{}},
	}
}

func TestMapGitHubPRBatch(t *testing.T) {
	tm := testMessage(pipeline.StepGitHubPRBatch)
	pr := minimalPR("PR_1", 7)
	pr["commits"] = map[string]any{
		"pageInfo": map[string]any{"hasNextPage": false},
		"nodes": []any{map[string]any{"commit": map[string]any{
			"oid": "abc123", "message": "wip", "committedDate": "2026-04-01T09:00:00Z",
			"author": map[string]any{"name": "Sam"},
		}}},
	}

	rs, err := mapGitHubPRBatch(tm, prBatchPayload(t, pr))
	require.NoError(t, err)

	require.Len(t, rs.prs, 1)
	assert.Equal(t, "PR_1", rs.prs[0].ExternalID)
	assert.Equal(t, "R_1", rs.prs[0].RepositoryExternalID)
	assert.Equal(t, "retries", *rs.prs[0].SourceBranch)
	assert.Equal(t, "sam", *rs.prs[0].Author)

	require.Len(t, rs.prCommits, 1)
	assert.Equal(t, "abc123", rs.prCommits[0].SHA)
	assert.Equal(t, "PR_1", rs.prCommits[0].PRExternalID)

	// The PR body references ENG-42, so a link row is emitted.
	require.Len(t, rs.witPRLinks, 1)
	assert.Equal(t, "ENG-42", rs.witPRLinks[0].WorkItemExternalID)
	assert.Equal(t, "PR_1", rs.witPRLinks[0].PRExternalID)

	var tables []string
	for _, ref := range rs.embeds {
		tables = append(tables, ref.table)
	}
	assert.Contains(t, tables, canonical.TablePRs)
	assert.Contains(t, tables, canonical.TablePRCommits)
}

func TestMapGitHubPRBatch_PendingPRDefersEmbedding(t *testing.T) {
	tm := testMessage(pipeline.StepGitHubPRBatch)
	meta, err := json.Marshal(pipeline.GitHubBatchMeta{PendingPRIDs: []string{"PR_1"}})
	require.NoError(t, err)
	tm.Meta = meta

	rs, err := mapGitHubPRBatch(tm, prBatchPayload(t, minimalPR("PR_1", 7), minimalPR("PR_2", 8)))
	require.NoError(t, err)
	require.Len(t, rs.prs, 2, "both PR rows are written")

	var prEmbeds []string
	for _, ref := range rs.embeds {
		if ref.table == canonical.TablePRs {
			prEmbeds = append(prEmbeds, ref.externalID)
		}
	}
	assert.Equal(t, []string{"PR_2"}, prEmbeds, "pending PR embedding is deferred")
}

func TestMapGitHubPRNested(t *testing.T) {
	tm := testMessage(pipeline.StepGitHubPRNested)
	meta, err := json.Marshal(pipeline.GitHubNestedMeta{PRID: "PR_1", Kind: "commits", AllNestedDone: true})
	require.NoError(t, err)
	tm.Meta = meta

	payload := []byte(`{
		"pr_id": "PR_1", "number": 7, "kind": "commits",
		"commits": {
			"pageInfo": {"hasNextPage": false},
			"nodes": [{"commit": {"oid": "def456", "message": "final", "committedDate": "2026-04-01T11:00:00Z", "author": {"name": "Sam"}}}]
		}
	}`)

	rs, err := mapGitHubPRNested(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.prCommits, 1)
	assert.Equal(t, "def456", rs.prCommits[0].ExternalID)

	// The final nested page triggers the PR's deferred embedding.
	last := rs.embeds[len(rs.embeds)-1]
	assert.Equal(t, canonical.TablePRs, last.table)
	assert.Equal(t, "PR_1", last.externalID)
}

func TestMapGitHubPRNested_NotDone(t *testing.T) {
	tm := testMessage(pipeline.StepGitHubPRNested)
	meta, err := json.Marshal(pipeline.GitHubNestedMeta{PRID: "PR_1", Kind: "reviews"})
	require.NoError(t, err)
	tm.Meta = meta

	payload := []byte(`{
		"pr_id": "PR_1", "number": 7, "kind": "reviews",
		"reviews": {
			"pageInfo": {"hasNextPage": true, "endCursor": "r2"},
			"nodes": [{"id": "REV_1", "state": "APPROVED", "body": "lgtm", "author": {"login": "kim"}}]
		}
	}`)

	rs, err := mapGitHubPRNested(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.prReviews, 1)
	for _, ref := range rs.embeds {
		assert.NotEqual(t, canonical.TablePRs, ref.table, "PR embedding waits for all nested pages")
	}
}

func TestMapGitHubPRBatch_ThreadComments(t *testing.T) {
	tm := testMessage(pipeline.StepGitHubPRBatch)
	pr := minimalPR("PR_1", 7)
	pr["reviewThreads"] = map[string]any{
		"pageInfo": map[string]any{"hasNextPage": false},
		"nodes": []any{map[string]any{
			"id": "RT_1",
			"comments": map[string]any{"nodes": []any{
				map[string]any{"id": "IC_1", "body": "nit: rename", "createdAt": "2026-04-02T09:00:00Z", "author": map[string]any{"login": "kim"}},
			}},
		}},
	}

	rs, err := mapGitHubPRBatch(tm, prBatchPayload(t, pr))
	require.NoError(t, err)

	// Inline thread comments land in the same table as top-level comments.
	require.Len(t, rs.prComments, 1)
	assert.Equal(t, "IC_1", rs.prComments[0].ExternalID)
	assert.Equal(t, "PR_1", rs.prComments[0].PRExternalID)
	assert.Equal(t, "kim", *rs.prComments[0].Author)
}

func TestMapGitHubPRNested_Threads(t *testing.T) {
	tm := testMessage(pipeline.StepGitHubPRNested)
	payload := []byte(`{
		"pr_id": "PR_1", "number": 7, "kind": "reviewThreads",
		"reviewThreads": {
			"pageInfo": {"hasNextPage": false},
			"nodes": [{
				"id": "RT_2",
				"comments": {"nodes": [
					{"id": "IC_2", "body": "looks good now", "createdAt": "2026-04-03T09:00:00Z", "author": {"login": "kim"}}
				]}
			}]
		}
	}`)

	rs, err := mapGitHubPRNested(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.prComments, 1)
	assert.Equal(t, "IC_2", rs.prComments[0].ExternalID)
}

func TestAppendWorkItemLinks_Dedup(t *testing.T) {
	tm := testMessage(pipeline.StepGitHubPRBatch)
	rs := &recordSet{}
	appendWorkItemLinks(rs, tm, "PR_9", "ENG-42: retry budget", "Implements ENG-42 and OPS-7.\nRefs ENG-42 again.")

	require.Len(t, rs.witPRLinks, 2)
	assert.Equal(t, "ENG-42", rs.witPRLinks[0].WorkItemExternalID)
	assert.Equal(t, "OPS-7", rs.witPRLinks[1].WorkItemExternalID)
	assert.Equal(t, "ENG-42:PR_9", rs.witPRLinks[0].ExternalID)
}
