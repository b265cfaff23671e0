// Package firecrawl is a client for the Firecrawl search and scrape API.
// One client serves as both the search provider and the page scraper.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/kycscan/internal/fetch"
	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/search"
)

const defaultBaseURL = "https://api.firecrawl.dev"

// ErrMissingAPIKey is returned when no API key is configured
var ErrMissingAPIKey = errors.New("firecrawl API key is required")

var (
	_ search.Provider = (*Client)(nil)
	_ fetch.Scraper   = (*Client)(nil)
)

// Client talks to the Firecrawl v1 API
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config configures a Client
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Proxy   func(*http.Request) (*url.URL, error) // nil means no proxy
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Success bool              `json:"success"`
	Data    []model.SearchHit `json:"data"`
	Error   string            `json:"error,omitempty"`
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string         `json:"markdown"`
		HTML     string         `json:"html"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// New creates a client
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: cfg.Proxy},
		},
	}, nil
}

// Search implements search.Provider
func (c *Client) Search(ctx context.Context, query string, limit int) (*search.Response, error) {
	status, body, err := c.post(ctx, "/v1/search", searchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("firecrawl search: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("firecrawl search: unmarshal response (%d): %w", status, err)
	}
	if status != http.StatusOK || !resp.Success {
		return nil, fmt.Errorf("firecrawl search (%d): %s", status, errorText(resp.Error, body))
	}

	return &search.Response{
		Hits: search.Top(resp.Data, limit),
		Raw:  body,
	}, nil
}

// Scrape implements fetch.Scraper. Failure payloads come back as *fetch.ScrapeError.
func (c *Client) Scrape(ctx context.Context, url string) (*fetch.Page, error) {
	status, body, err := c.post(ctx, "/v1/scrape", scrapeRequest{URL: url, Formats: []string{"markdown", "html"}})
	if err != nil {
		return nil, fmt.Errorf("firecrawl scrape: %w", err)
	}

	var resp scrapeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &fetch.ScrapeError{URL: url, Message: fmt.Sprintf("unreadable response (%d)", status), Raw: rawOrError(body, err)}
	}
	if status != http.StatusOK || !resp.Success {
		return nil, &fetch.ScrapeError{URL: url, Message: errorText(resp.Error, body), Raw: body}
	}

	return &fetch.Page{
		Markdown: resp.Data.Markdown,
		HTML:     resp.Data.HTML,
		Metadata: resp.Data.Metadata,
		Raw:      body,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func errorText(msg string, body []byte) string {
	if msg != "" {
		return msg
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// rawOrError keeps body when it is valid JSON, otherwise wraps the decode error
func rawOrError(body []byte, err error) json.RawMessage {
	if json.Valid(body) {
		return body
	}
	data, _ := json.Marshal(map[string]string{"error": err.Error(), "body": errorText("", body)})
	return data
}
