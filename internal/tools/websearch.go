package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxWebSearchResults = 10

// WebResult is a single search hit.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchClient abstracts the backing search provider so the tool itself
// stays provider-agnostic and testable without network access.
type WebSearchClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]WebResult, error)
}

// HTTPWebSearchClient calls a configurable search endpoint that accepts
// ?q=<query>&limit=<n> and returns a JSON array of WebResult.
type HTTPWebSearchClient struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPWebSearchClient builds a client against endpoint with the given
// request timeout.
func NewHTTPWebSearchClient(endpoint string, timeout time.Duration) *HTTPWebSearchClient {
	return &HTTPWebSearchClient{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPWebSearchClient) Search(ctx context.Context, query string, maxResults int) ([]WebResult, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", fmt.Sprintf("%d", maxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("search endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("search endpoint returned %d", resp.StatusCode))
	}

	var results []WebResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode search response: %w", err))
	}
	return results, nil
}

// webSearchMaxElapsed bounds total retry time so a flaky provider never
// stalls the orchestrator pipeline.
const webSearchMaxElapsed = 5 * time.Second

// WebSearchTool queries an external search provider. Transient failures
// (network errors, 5xx) are retried with exponential backoff; a failure
// that survives retries surfaces as a non-fatal tool miss (spec.md §4.7).
type WebSearchTool struct {
	client     WebSearchClient
	newBackOff func() backoff.BackOff
}

// NewWebSearchTool wraps client with a bounded retry policy.
func NewWebSearchTool(client WebSearchClient) *WebSearchTool {
	return &WebSearchTool{
		client: client,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = webSearchMaxElapsed
			return bo
		},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Schema() Schema {
	return Schema{Params: []Param{
		{Name: "query", Type: ParamString, Required: true},
		{Name: "max_results", Type: ParamInt, Required: false, Default: maxWebSearchResults},
	}}
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) Result {
	query, ok := stringParam(params, "query", "")
	if !ok || query == "" {
		return Result{Success: false, Error: "query is required"}
	}
	maxResults, ok := intParam(params, "max_results", maxWebSearchResults)
	if !ok || maxResults <= 0 {
		maxResults = maxWebSearchResults
	}
	if maxResults > maxWebSearchResults {
		maxResults = maxWebSearchResults
	}

	bo := backoff.WithContext(t.newBackOff(), ctx)

	var results []WebResult
	err := backoff.Retry(func() error {
		var err error
		results, err = t.client.Search(ctx, query, maxResults)
		return err
	}, bo)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("web search unavailable: %v", err)}
	}
	return Result{Success: true, Data: results}
}
