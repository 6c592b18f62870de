package jira

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydev/syncd/domain/pipeline"
	"github.com/relaydev/syncd/internal/config"
)

func TestStepAfter(t *testing.T) {
	assert.Equal(t, pipeline.StepJiraIssueTypes, stepAfter(pipeline.StepJiraProjects))
	assert.Equal(t, pipeline.StepJiraChangelogs, stepAfter(pipeline.StepJiraIssues))
	assert.Equal(t, pipeline.StepJiraDevStatus, stepAfter(pipeline.StepJiraChangelogs))
	assert.Equal(t, "", stepAfter(pipeline.StepJiraDevStatus), "last step has no successor")
	assert.Equal(t, "", stepAfter("bogus"))
}

func TestBuildJQL(t *testing.T) {
	assert.Equal(t, `project = "ENG" ORDER BY updated ASC`, buildJQL("ENG", nil))

	// Strictly greater than the watermark: records updated exactly at the
	// previous run's start were already synced by it.
	since := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t,
		`project = "ENG" AND updated > "2026-03-14 09:30" ORDER BY updated ASC`,
		buildJQL("ENG", &since))
}

func TestClassify(t *testing.T) {
	assert.True(t, pipeline.IsFatal(classify(&APIError{StatusCode: http.StatusUnauthorized})))
	assert.True(t, pipeline.IsFatal(classify(&unknownStepError{step: "x"})))

	assert.True(t, pipeline.IsTransient(classify(&APIError{StatusCode: http.StatusBadGateway})))
	assert.True(t, pipeline.IsTransient(classify(&APIError{StatusCode: http.StatusTooManyRequests})))
	assert.True(t, pipeline.IsTransient(classify(errors.New("connection reset"))))
}

func TestIssuesPage_CursorAdvance(t *testing.T) {
	// Two projects, ENG with 3 issues and OPS with 1, page size 2. The
	// cursor walks (project_index, start_at): pages within a project
	// advance start_at, a finished project advances the index, and the
	// final project's last page finishes the step.
	server := newIssueServer(t, map[string]int{"ENG": 3, "OPS": 1})
	defer server.Close()

	cfg := &config.Config{}
	cfg.Jira.RequestTimeout = 5 * time.Second
	e := &Extractor{client: NewClient(cfg, slog.Default()), pageSize: 2}

	creds := Credentials{BaseURL: server.URL, Username: "u", Token: "t"}
	msg := &pipeline.ExtractionMessage{Step: pipeline.StepJiraIssues}
	cur := Cursor{ProjectKeys: []string{"ENG", "OPS"}}

	res, err := e.issuesPage(context.Background(), msg, creds, cur, false)
	require.NoError(t, err)
	assert.False(t, res.stepDone)
	assert.Equal(t, 2, res.cursor.StartAt)
	assert.Equal(t, 0, res.cursor.ProjectIndex)

	res, err = e.issuesPage(context.Background(), msg, creds, res.cursor, false)
	require.NoError(t, err)
	assert.False(t, res.stepDone, "ENG done, OPS still pending")
	assert.Equal(t, 0, res.cursor.StartAt)
	assert.Equal(t, 1, res.cursor.ProjectIndex)

	res, err = e.issuesPage(context.Background(), msg, creds, res.cursor, false)
	require.NoError(t, err)
	assert.True(t, res.stepDone)
}

func TestIssuesPage_NoProjects(t *testing.T) {
	e := &Extractor{pageSize: 50}
	msg := &pipeline.ExtractionMessage{Step: pipeline.StepJiraIssues}

	res, err := e.issuesPage(context.Background(), msg, Credentials{}, Cursor{}, false)
	require.NoError(t, err)
	assert.True(t, res.stepDone)
	assert.JSONEq(t, `{"issues":[],"total":0}`, string(res.payload))
}

func TestDevStatusPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/rest/api/2/search"):
			json.NewEncoder(w).Encode(SearchResponse{
				StartAt: 0, Total: 1,
				Issues: []Issue{{ID: "10001", Key: "ENG-1"}},
			})
		case strings.HasPrefix(r.URL.Path, "/rest/dev-status/"):
			assert.Equal(t, "10001", r.URL.Query().Get("issueId"))
			json.NewEncoder(w).Encode(DevStatusResponse{
				Detail: []DevStatusDetail{{
					PullRequests: []DevStatusPR{{ID: "#42", Status: "MERGED"}},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := &config.Config{}
	cfg.Jira.RequestTimeout = 5 * time.Second
	e := &Extractor{client: NewClient(cfg, slog.Default()), pageSize: 50}

	creds := Credentials{BaseURL: server.URL, Username: "u", Token: "t"}
	msg := &pipeline.ExtractionMessage{Step: pipeline.StepJiraDevStatus}
	cur := Cursor{ProjectKeys: []string{"ENG"}}

	res, err := e.devStatusPage(context.Background(), msg, creds, cur)
	require.NoError(t, err)
	assert.True(t, res.stepDone)

	var page DevStatusPage
	require.NoError(t, json.Unmarshal(res.payload, &page))
	require.Len(t, page.Issues, 1)
	assert.Equal(t, "10001", page.Issues[0].ID)
	require.Len(t, page.Issues[0].PullRequests, 1)
	assert.Equal(t, "#42", page.Issues[0].PullRequests[0].ID)
}

func TestDevStatusPage_NoProjects(t *testing.T) {
	e := &Extractor{pageSize: 50}
	msg := &pipeline.ExtractionMessage{Step: pipeline.StepJiraDevStatus}

	res, err := e.devStatusPage(context.Background(), msg, Credentials{}, Cursor{})
	require.NoError(t, err)
	assert.True(t, res.stepDone)
	assert.JSONEq(t, `{"issues":[]}`, string(res.payload))
}

// newIssueServer serves a paginated issue search over fixed per-project
// totals.
func newIssueServer(t *testing.T, totals map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jql := r.URL.Query().Get("jql")
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))

		var total int
		for key, n := range totals {
			if strings.Contains(jql, key) {
				total = n
				break
			}
		}

		count := total - startAt
		if count > maxResults {
			count = maxResults
		}
		issues := make([]Issue, 0, count)
		for i := 0; i < count; i++ {
			issues = append(issues, Issue{ID: strconv.Itoa(startAt + i)})
		}
		json.NewEncoder(w).Encode(SearchResponse{
			StartAt: startAt, MaxResults: maxResults, Total: total, Issues: issues,
		})
	}))
}
