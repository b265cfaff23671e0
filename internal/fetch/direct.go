package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/kycscan/internal/extract"
	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/util"
	"github.com/ppiankov/kycscan/internal/worker"
)

// ErrDisallowed is returned when robots.txt forbids the URL
var ErrDisallowed = errors.New("disallowed by robots.txt")

// DirectScraper fetches pages itself instead of going through a hosted API
type DirectScraper struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *RobotsChecker
	limiter    *worker.Limiter
	extractor  *extract.Extractor
}

// NewDirectScraper builds a scraper from the scrape section of the config
func NewDirectScraper(cfg model.ScrapeConfig) (*DirectScraper, error) {
	proxy := util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)
	transport, err := Transport(Fingerprint(cfg.Fingerprint), proxy)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("stopped after 3 redirects")
			}
			return nil
		},
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 2_000_000
	}

	s := &DirectScraper{
		httpClient: client,
		userAgent:  cfg.UserAgent,
		maxBytes:   maxBytes,
		extractor:  extract.NewExtractor(),
	}
	if cfg.RespectRobots {
		s.robots = NewRobotsChecker(cfg.UserAgent, client, timeout)
	}
	if cfg.RequestsPerSecond > 0 || len(cfg.HostRates) > 0 {
		rps := cfg.RequestsPerSecond
		if rps <= 0 {
			rps = math.Inf(1)
		}
		s.limiter = worker.NewLimiter(rps, cfg.Burst)
		for host, hostRPS := range cfg.HostRates {
			s.limiter.SetHostRate(host, hostRPS, cfg.Burst)
		}
	}
	return s, nil
}

type directPayload struct {
	StatusCode  int               `json:"statusCode"`
	ContentType string            `json:"contentType,omitempty"`
	FinalURL    string            `json:"finalUrl,omitempty"`
	Bytes       int               `json:"bytes"`
	Headers     map[string]string `json:"headers,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (p directPayload) raw() json.RawMessage {
	data, _ := json.Marshal(p)
	return data
}

// Scrape fetches rawURL and converts it to markdown. No retries.
func (s *DirectScraper) Scrape(ctx context.Context, rawURL string) (*Page, error) {
	var delay time.Duration
	if s.robots != nil {
		allowed, crawlDelay, err := s.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, &ScrapeError{URL: rawURL, Message: ErrDisallowed.Error(), Raw: directPayload{Error: ErrDisallowed.Error()}.raw()}
		}
		delay = crawlDelay
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, rawURL, delay); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "sv-SE,sv;q=0.9,en;q=0.8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload := directPayload{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
		Headers:     make(map[string]string),
	}
	for _, key := range []string{"Content-Length", "Last-Modified", "ETag", "Server"} {
		if val := resp.Header.Get(key); val != "" {
			payload.Headers[key] = val
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload.Error = fmt.Sprintf("unexpected status: %s", resp.Status)
		return nil, &ScrapeError{URL: rawURL, Message: payload.Error, Raw: payload.raw()}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	payload.Bytes = len(body)

	mediaType, _, _ := mime.ParseMediaType(payload.ContentType)
	switch {
	case mediaType == "text/plain":
		return &Page{
			Markdown: strings.TrimSpace(string(body)),
			Metadata: map[string]any{"sourceURL": payload.FinalURL, "statusCode": resp.StatusCode},
			Raw:      payload.raw(),
		}, nil
	case mediaType == "" || strings.Contains(mediaType, "html") || mediaType == "application/xml":
	default:
		payload.Error = "unsupported content type " + mediaType
		return nil, &ScrapeError{URL: rawURL, Message: payload.Error, Raw: payload.raw()}
	}

	page, err := s.extractor.Extract(string(body), payload.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	page.Metadata["statusCode"] = resp.StatusCode
	return &Page{
		Markdown: page.Markdown,
		HTML:     string(body),
		Metadata: page.Metadata,
		Raw:      payload.raw(),
	}, nil
}
