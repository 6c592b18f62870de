package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/pkg/logger"
	"github.com/relaydev/syncd/pkg/metrics"
)

// APIError is an HTTP-level failure. The extractor classifies it: 4xx
// (except 429) is permanent, everything else is retryable.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is a stateless Jira REST client. Each method takes the
// integration's base URL and credentials, so one client serves every
// tenant.
type Client struct {
	httpClient *http.Client
	maxRetries int
	log        *slog.Logger
}

// NewClient creates a Jira API client.
func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Jira.RequestTimeout,
		},
		maxRetries: cfg.Jira.MaxRetries,
		log:        log.With(logger.Scope("jira-client")),
	}
}

// Credentials carries the per-request auth material.
type Credentials struct {
	BaseURL  string
	Username string
	Token    string
}

// request makes an authenticated GET, retrying retryable failures with
// exponential backoff (3s, 6s, 12s).
func (c *Client) request(ctx context.Context, creds Credentials, urlStr string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := 3 * time.Second << (attempt - 1)
			c.log.Debug("retrying jira request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := c.doRequest(ctx, creds, urlStr)
		if err == nil {
			metrics.ProviderRequests.WithLabelValues("jira", "ok").Inc()
			return body, nil
		}
		lastErr = err

		if apiErr, ok := err.(*APIError); ok && !apiErr.Retryable() {
			metrics.ProviderRequests.WithLabelValues("jira", "client_error").Inc()
			return nil, err
		}
		metrics.ProviderRequests.WithLabelValues("jira", "retryable_error").Inc()
	}
	return nil, fmt.Errorf("jira request after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) doRequest(ctx context.Context, creds Credentials, urlStr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.SetBasicAuth(creds.Username, creds.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body))}
	}

	return body, nil
}

// SearchProjects retrieves one page of projects.
func (c *Client) SearchProjects(ctx context.Context, creds Credentials, startAt, maxResults int) (*ProjectSearchResponse, []byte, error) {
	u := fmt.Sprintf("%s/rest/api/2/project/search?startAt=%d&maxResults=%d", creds.BaseURL, startAt, maxResults)

	body, err := c.request(ctx, creds, u)
	if err != nil {
		return nil, nil, fmt.Errorf("search projects: %w", err)
	}

	var response ProjectSearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, nil, fmt.Errorf("parse project search response: %w", err)
	}
	return &response, body, nil
}

// GetIssueTypes retrieves all issue type definitions.
func (c *Client) GetIssueTypes(ctx context.Context, creds Credentials) ([]IssueType, []byte, error) {
	body, err := c.request(ctx, creds, creds.BaseURL+"/rest/api/2/issuetype")
	if err != nil {
		return nil, nil, fmt.Errorf("get issue types: %w", err)
	}

	var types []IssueType
	if err := json.Unmarshal(body, &types); err != nil {
		return nil, nil, fmt.Errorf("parse issue types response: %w", err)
	}
	return types, body, nil
}

// GetStatuses retrieves all status definitions.
func (c *Client) GetStatuses(ctx context.Context, creds Credentials) ([]Status, []byte, error) {
	body, err := c.request(ctx, creds, creds.BaseURL+"/rest/api/2/status")
	if err != nil {
		return nil, nil, fmt.Errorf("get statuses: %w", err)
	}

	var statuses []Status
	if err := json.Unmarshal(body, &statuses); err != nil {
		return nil, nil, fmt.Errorf("parse statuses response: %w", err)
	}
	return statuses, body, nil
}

// GetFields retrieves all field definitions. The caller filters for custom
// fields.
func (c *Client) GetFields(ctx context.Context, creds Credentials) ([]Field, []byte, error) {
	body, err := c.request(ctx, creds, creds.BaseURL+"/rest/api/2/field")
	if err != nil {
		return nil, nil, fmt.Errorf("get fields: %w", err)
	}

	var fields []Field
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, nil, fmt.Errorf("parse fields response: %w", err)
	}
	return fields, body, nil
}

// SearchWorkflows retrieves one page of workflows with their statuses.
func (c *Client) SearchWorkflows(ctx context.Context, creds Credentials, startAt, maxResults int) (*WorkflowSearchResponse, []byte, error) {
	u := fmt.Sprintf("%s/rest/api/2/workflow/search?expand=statuses&startAt=%d&maxResults=%d", creds.BaseURL, startAt, maxResults)

	body, err := c.request(ctx, creds, u)
	if err != nil {
		return nil, nil, fmt.Errorf("search workflows: %w", err)
	}

	var response WorkflowSearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, nil, fmt.Errorf("parse workflow search response: %w", err)
	}
	return &response, body, nil
}

// SearchIssues runs a JQL query page. When expandChangelog is set each
// issue carries its changelog.
func (c *Client) SearchIssues(ctx context.Context, creds Credentials, jql string, startAt, maxResults int, expandChangelog bool) (*SearchResponse, []byte, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))
	if expandChangelog {
		q.Set("expand", "changelog")
	}
	u := creds.BaseURL + "/rest/api/2/search?" + q.Encode()

	body, err := c.request(ctx, creds, u)
	if err != nil {
		return nil, nil, fmt.Errorf("search issues: %w", err)
	}

	var response SearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, nil, fmt.Errorf("parse issue search response: %w", err)
	}
	return &response, body, nil
}

// GetDevStatus retrieves the pull requests the development panel links to
// an issue. PR identifiers come back prefixed (e.g. "#42"); callers strip
// the prefix before matching against the code host.
func (c *Client) GetDevStatus(ctx context.Context, creds Credentials, issueID string) ([]DevStatusPR, error) {
	q := url.Values{}
	q.Set("issueId", issueID)
	q.Set("applicationType", "GitHub")
	q.Set("dataType", "pullrequest")
	u := creds.BaseURL + "/rest/dev-status/1.0/issue/detail?" + q.Encode()

	body, err := c.request(ctx, creds, u)
	if err != nil {
		return nil, fmt.Errorf("get dev status for issue %s: %w", issueID, err)
	}

	var response DevStatusResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parse dev status response: %w", err)
	}

	var prs []DevStatusPR
	for _, d := range response.Detail {
		prs = append(prs, d.PullRequests...)
	}
	return prs, nil
}

func truncate(s string) string {
	if len(s) > 500 {
		return s[:500]
	}
	return s
}
