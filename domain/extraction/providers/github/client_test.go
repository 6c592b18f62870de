package github

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydev/syncd/internal/config"
)

func newTestClient() *Client {
	cfg := &config.Config{}
	cfg.GitHub.BatchSize = 50
	cfg.GitHub.RequestTimeout = 5 * time.Second
	cfg.GitHub.MaxRetries = 0
	return NewClient(cfg, slog.Default())
}

func TestClient_ListRepositories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))

		var req struct {
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 50, req.Variables["pageSize"])

		w.Write([]byte(`{
			"data": {
				"rateLimit": {"remaining": 4999, "resetAt": "2026-08-24T13:00:00Z"},
				"viewer": {
					"repositories": {
						"pageInfo": {"hasNextPage": true, "endCursor": "Y3Vyc29y"},
						"nodes": [
							{"id": "R_1", "name": "api", "url": "https://example.com/acme/api",
							 "owner": {"login": "acme"}, "defaultBranchRef": {"name": "main"}}
						]
					}
				}
			}
		}`))
	}))
	defer server.Close()

	creds := Credentials{BaseURL: server.URL, Token: "gh-token"}
	page, err := newTestClient().ListRepositories(context.Background(), creds, "")
	require.NoError(t, err)
	assert.True(t, page.PageInfo.HasNextPage)
	require.Len(t, page.Nodes, 1)
	assert.Equal(t, "api", page.Nodes[0].Name)
	assert.Equal(t, "acme", page.Nodes[0].Owner.Login)
	assert.Equal(t, "main", page.Nodes[0].DefaultBranchRef.Name)
}

func TestClient_RateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"data": {
				"rateLimit": {"remaining": 0, "resetAt": "2026-08-24T13:00:00Z"},
				"viewer": {"repositories": {"pageInfo": {"hasNextPage": false}, "nodes": []}}
			}
		}`))
	}))
	defer server.Close()

	creds := Credentials{BaseURL: server.URL, Token: "t"}
	_, err := newTestClient().ListRepositories(context.Background(), creds, "")

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC), rateErr.ResetAt)
}

func TestClient_GraphQLRateLimitedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors": [{"type": "RATE_LIMITED", "message": "API rate limit exceeded"}]}`))
	}))
	defer server.Close()

	creds := Credentials{BaseURL: server.URL, Token: "t"}
	_, err := newTestClient().ListRepositories(context.Background(), creds, "")

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
}

func TestClient_UnknownNestedKind(t *testing.T) {
	creds := Credentials{BaseURL: "http://unused", Token: "t"}
	_, err := newTestClient().ListNestedPage(context.Background(), creds, "acme", "api", 7, "labels", "")
	assert.ErrorContains(t, err, "unknown nested kind")
}
