// Package fetch retrieves page content for analysis. Fetch never fails:
// every error is folded into a failed Result so the pipeline can fall back
// to snippet analysis.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/kycscan/internal/cache"
	"github.com/ppiankov/kycscan/internal/metrics"
)

// MinUsableLength is the content length above which a fetch is worth a full analysis
const MinUsableLength = 100

// Page is what a scraper returns for one URL
type Page struct {
	Markdown string
	HTML     string
	Metadata map[string]any
	Raw      json.RawMessage // Provider payload, kept for audit
}

// Scraper fetches a single page
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Page, error)
}

// ScrapeError is returned by scrapers that received a well-formed failure
// payload from the remote side.
type ScrapeError struct {
	URL     string
	Message string
	Raw     json.RawMessage
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape %s: %s", e.URL, e.Message)
}

// Status is the outcome of a fetch
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is the normalized outcome of fetching one URL
type Result struct {
	URL       string          `json:"url"`
	Status    Status          `json:"status"`
	Content   string          `json:"content"`
	HTML      string          `json:"html,omitempty"`
	Metadata  map[string]any  `json:"metadata"`
	RawData   json.RawMessage `json:"rawData,omitempty"`
	Error     string          `json:"error,omitempty"`
	FromCache bool            `json:"-"`
}

// Usable reports whether the content is long enough for full analysis
func (r Result) Usable() bool {
	return r.Status == StatusSuccess && utf8.RuneCountInString(r.Content) > MinUsableLength
}

func failed(url string, err error) Result {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	var se *ScrapeError
	if errors.As(err, &se) && len(se.Raw) > 0 {
		raw = se.Raw
	}
	return Result{
		URL:      url,
		Status:   StatusFailed,
		Metadata: map[string]any{},
		RawData:  raw,
		Error:    err.Error(),
	}
}

// Fetcher wraps a scraper with caching, metrics and failure normalization
type Fetcher struct {
	scraper  Scraper
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithCache stores successful fetches in c for ttl
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.cache = c
		f.cacheTTL = ttl
	}
}

// New creates a fetcher over scraper
func New(scraper Scraper, logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		scraper: scraper,
		logger:  logger.With("component", "fetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves url. It never returns an error and never panics.
func (f *Fetcher) Fetch(ctx context.Context, url string) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("scraper panicked", "url", url, "panic", r)
			res = failed(url, fmt.Errorf("scraper panic: %v", r))
		}
		metrics.RecordFetch(url, string(res.Status), time.Since(start))
	}()

	if f.cache != nil {
		var cached Result
		if cache.GetJSON(f.cache, cache.PageKey(url), &cached) && cached.Status == StatusSuccess {
			cached.FromCache = true
			f.logger.Debug("fetch cache hit", "url", url)
			return cached
		}
	}

	page, err := f.scraper.Scrape(ctx, url)
	if err != nil {
		f.logger.Warn("fetch failed", "url", url, "error", err)
		return failed(url, err)
	}
	if page == nil {
		return failed(url, errors.New("scraper returned no page"))
	}

	meta := page.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	res = Result{
		URL:      url,
		Status:   StatusSuccess,
		Content:  page.Markdown,
		HTML:     page.HTML,
		Metadata: meta,
		RawData:  page.Raw,
	}

	if f.cache != nil {
		if err := cache.SetJSON(f.cache, cache.PageKey(url), res, f.cacheTTL); err != nil {
			f.logger.Warn("cache write failed", "url", url, "error", err)
		}
	}
	return res
}
