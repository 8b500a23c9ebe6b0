package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/utils"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher finds results for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// =============================================================================
// Client
// =============================================================================

// Client is an HTTP search collaborator.
// It POSTs {"query", "max_results"} and reads results[].{title,url|link,snippet|content}.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = timeout
	}
}

// NewClient creates a search client.
func NewClient(endpoint, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: config.DefaultSearchTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search implements Searcher.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	payload, _ := sjson.SetBytes([]byte(`{}`), "query", query)
	payload, _ = sjson.SetBytes(payload, "max_results", maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxRequestBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("invalid search API key")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, utils.Truncate(string(body), config.MaxErrorBodyLogLen))
	}

	return parseResults(body, maxResults), nil
}

func parseResults(body []byte, maxResults int) []Result {
	var out []Result
	gjson.GetBytes(body, "results").ForEach(func(_, item gjson.Result) bool {
		r := Result{
			Title:   item.Get("title").String(),
			URL:     item.Get("url").String(),
			Snippet: item.Get("snippet").String(),
		}
		if r.URL == "" {
			r.URL = item.Get("link").String()
		}
		if r.Snippet == "" {
			r.Snippet = item.Get("content").String()
		}
		if r.URL == "" {
			return true
		}
		out = append(out, r)
		return maxResults <= 0 || len(out) < maxResults
	})
	return out
}
