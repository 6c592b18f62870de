package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/pkg/logger"
	"github.com/relaydev/syncd/pkg/metrics"
)

// RateLimitError is returned when the API quota is exhausted. The job is
// failed until ResetAt; the scheduled retry resumes from the checkpoint.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return "rate_limited_until=" + e.ResetAt.UTC().Format(time.RFC3339)
}

// APIError is an HTTP-level failure.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github API HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// graphqlError is one entry of a GraphQL error response.
type graphqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// Credentials carries the per-request auth material.
type Credentials struct {
	BaseURL string
	Token   string
}

// Client is a stateless GraphQL client. Every query requests the rateLimit
// block so quota exhaustion is detected before the API starts rejecting.
type Client struct {
	httpClient *http.Client
	batchSize  int
	maxRetries int
	log        *slog.Logger
}

// NewClient creates a GitHub GraphQL client.
func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.GitHub.RequestTimeout,
		},
		batchSize:  cfg.GitHub.BatchSize,
		maxRetries: cfg.GitHub.MaxRetries,
		log:        log.With(logger.Scope("github-client")),
	}
}

// query executes one GraphQL request and unmarshals the data block into
// out. Retryable failures back off exponentially (3s, 6s, 12s).
func (c *Client) query(ctx context.Context, creds Credentials, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := 3 * time.Second << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.doQuery(ctx, creds, payload, out)
		if err == nil {
			metrics.ProviderRequests.WithLabelValues("github", "ok").Inc()
			return nil
		}
		lastErr = err

		switch e := err.(type) {
		case *RateLimitError:
			metrics.ProviderRequests.WithLabelValues("github", "rate_limited").Inc()
			return e
		case *APIError:
			if !e.Retryable() {
				metrics.ProviderRequests.WithLabelValues("github", "client_error").Inc()
				return e
			}
		}
		metrics.ProviderRequests.WithLabelValues("github", "retryable_error").Inc()
	}
	return fmt.Errorf("github query after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) doQuery(ctx context.Context, creds Credentials, payload []byte, out any) error {
	endpoint := strings.TrimSuffix(creds.BaseURL, "/") + "/graphql"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body))}
	}

	var gql graphqlResponse
	if err := json.Unmarshal(body, &gql); err != nil {
		return fmt.Errorf("parse graphql response: %w", err)
	}
	for _, gqlErr := range gql.Errors {
		if gqlErr.Type == "RATE_LIMITED" {
			return &RateLimitError{ResetAt: time.Now().Add(time.Hour)}
		}
	}
	if len(gql.Errors) > 0 {
		return &APIError{StatusCode: http.StatusUnprocessableEntity, Body: gql.Errors[0].Message}
	}

	if err := json.Unmarshal(gql.Data, out); err != nil {
		return fmt.Errorf("unmarshal graphql data: %w", err)
	}
	return nil
}

const repositoriesQuery = `
query($pageSize: Int!, $cursor: String) {
  rateLimit { remaining resetAt }
  viewer {
    repositories(first: $pageSize, after: $cursor, orderBy: {field: NAME, direction: ASC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id name url
        owner { login }
        defaultBranchRef { name }
      }
    }
  }
}`

// ListRepositories retrieves one page of the viewer's repositories.
func (c *Client) ListRepositories(ctx context.Context, creds Credentials, cursor string) (*RepositoryPage, error) {
	variables := map[string]any{"pageSize": c.batchSize}
	if cursor != "" {
		variables["cursor"] = cursor
	}

	var data struct {
		RateLimit RateLimit `json:"rateLimit"`
		Viewer    struct {
			Repositories RepositoryPage `json:"repositories"`
		} `json:"viewer"`
	}
	if err := c.query(ctx, creds, repositoriesQuery, variables, &data); err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	if data.RateLimit.Remaining == 0 {
		return nil, &RateLimitError{ResetAt: data.RateLimit.ResetAt}
	}
	return &data.Viewer.Repositories, nil
}

const pullRequestsQuery = `
query($owner: String!, $name: String!, $pageSize: Int!, $cursor: String) {
  rateLimit { remaining resetAt }
  repository(owner: $owner, name: $name) {
    pullRequests(first: $pageSize, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id number title body state baseRefName headRefName
        createdAt updatedAt mergedAt closedAt
        author { login }
        commits(first: $pageSize) {
          pageInfo { hasNextPage endCursor }
          nodes { commit { oid message committedDate author { name } } }
        }
        reviews(first: $pageSize) {
          pageInfo { hasNextPage endCursor }
          nodes { id state body submittedAt author { login } }
        }
        comments(first: $pageSize) {
          pageInfo { hasNextPage endCursor }
          nodes { id body createdAt author { login } }
        }
        reviewThreads(first: $pageSize) {
          pageInfo { hasNextPage endCursor }
          nodes {
            id
            comments(first: $pageSize) { nodes { id body createdAt author { login } } }
          }
        }
      }
    }
  }
}`

// ListPullRequests retrieves one PR page for a repository, newest updates
// first, each PR carrying the first page of its nested connections.
func (c *Client) ListPullRequests(ctx context.Context, creds Credentials, owner, name, cursor string) (*PullRequestPage, error) {
	variables := map[string]any{
		"owner":    owner,
		"name":     name,
		"pageSize": c.batchSize,
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}

	var data struct {
		RateLimit  RateLimit `json:"rateLimit"`
		Repository struct {
			PullRequests PullRequestPage `json:"pullRequests"`
		} `json:"repository"`
	}
	if err := c.query(ctx, creds, pullRequestsQuery, variables, &data); err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	if data.RateLimit.Remaining == 0 {
		return nil, &RateLimitError{ResetAt: data.RateLimit.ResetAt}
	}
	return &data.Repository.PullRequests, nil
}

const nestedPageQueryFmt = `
query($owner: String!, $name: String!, $number: Int!, $pageSize: Int!, $cursor: String) {
  rateLimit { remaining resetAt }
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      id
      %s(first: $pageSize, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes { %s }
      }
    }
  }
}`

var nestedNodeFields = map[string]string{
	KindCommits:  "commit { oid message committedDate author { name } }",
	KindReviews:  "id state body submittedAt author { login }",
	KindComments: "id body createdAt author { login }",
	KindThreads:  "id comments(first: $pageSize) { nodes { id body createdAt author { login } } }",
}

// Nested connection kinds, named after the GraphQL connection fields.
const (
	KindCommits  = "commits"
	KindReviews  = "reviews"
	KindComments = "comments"
	KindThreads  = "reviewThreads"
)

// ListNestedPage retrieves one continuation page of a PR's nested
// connection.
func (c *Client) ListNestedPage(ctx context.Context, creds Credentials, owner, name string, number int, kind, cursor string) (*NestedPage, error) {
	fields, ok := nestedNodeFields[kind]
	if !ok {
		return nil, fmt.Errorf("unknown nested kind %q", kind)
	}
	query := fmt.Sprintf(nestedPageQueryFmt, kind, fields)

	variables := map[string]any{
		"owner":    owner,
		"name":     name,
		"number":   number,
		"pageSize": c.batchSize,
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}

	var data struct {
		RateLimit  RateLimit `json:"rateLimit"`
		Repository struct {
			PullRequest struct {
				ID       string             `json:"id"`
				Commits  *CommitConnection  `json:"commits"`
				Reviews  *ReviewConnection  `json:"reviews"`
				Comments *CommentConnection `json:"comments"`
				Threads  *ThreadConnection  `json:"reviewThreads"`
			} `json:"pullRequest"`
		} `json:"repository"`
	}
	if err := c.query(ctx, creds, query, variables, &data); err != nil {
		return nil, fmt.Errorf("list nested %s page: %w", kind, err)
	}
	if data.RateLimit.Remaining == 0 {
		return nil, &RateLimitError{ResetAt: data.RateLimit.ResetAt}
	}

	pr := data.Repository.PullRequest
	return &NestedPage{
		PRID:     pr.ID,
		Number:   number,
		Kind:     kind,
		Commits:  pr.Commits,
		Reviews:  pr.Reviews,
		Comments: pr.Comments,
		Threads:  pr.Threads,
	}, nil
}

func truncate(s string) string {
	if len(s) > 500 {
		return s[:500]
	}
	return s
}
