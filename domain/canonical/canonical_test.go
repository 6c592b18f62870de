package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestWorkItemContent(t *testing.T) {
	updated := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	wi := &WorkItem{
		Title:             "Fix login redirect",
		Description:       strPtr("Users land on a 404 after SSO."),
		ProjectExternalID: "10001",
		Assignee:          strPtr("dana"),
		Labels:            []string{"auth", "bug"},
		ExternalUpdatedAt: &updated,
	}

	content := wi.Content()
	assert.Equal(t, "work item\n"+
		"title: Fix login redirect\n"+
		"description: Users land on a 404 after SSO.\n"+
		"project: 10001\n"+
		"assignee: dana\n"+
		"labels: auth, bug\n"+
		"updated: 2026-05-01T10:00:00Z", content)
}

func TestWorkItemContent_SparseFieldsSkipped(t *testing.T) {
	wi := &WorkItem{Title: "Spike"}
	assert.Equal(t, "work item\ntitle: Spike", wi.Content())
}

func TestPRContent(t *testing.T) {
	pr := &PR{
		Title:                "Add retry budget",
		Body:                 strPtr("Caps retries per request."),
		RepositoryExternalID: "R_1",
		State:                strPtr("MERGED"),
		Author:               strPtr("sam"),
	}

	content := pr.Content()
	assert.Contains(t, content, "pull request\ntitle: Add retry budget")
	assert.Contains(t, content, "state: MERGED")
	assert.NotContains(t, content, "merged:", "unset timestamps are omitted")
}

func TestStatusMappingContent(t *testing.T) {
	sm := &StatusMapping{WorkflowExternalID: "wf-1", StatusName: "In Review", FlowStep: "in_progress"}
	assert.Equal(t, "status mapping\nworkflow: wf-1\nstatus: In Review\nflow step: in_progress", sm.Content())
}

func TestContentBuilderTrimsWhitespace(t *testing.T) {
	b := newContent("x").add("a", "  padded  ").add("b", "   ")
	assert.Equal(t, "x\na: padded", b.String())
}
