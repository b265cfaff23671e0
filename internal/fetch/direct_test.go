package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	utls "github.com/refraction-networking/utls"

	"github.com/ppiankov/kycscan/internal/model"
)

func newTestScraper(t *testing.T, robots bool) *DirectScraper {
	t.Helper()
	cfg := model.DefaultConfig().Scrape
	cfg.Fingerprint = "go"
	cfg.RespectRobots = robots
	cfg.RequestsPerSecond = 0
	s, err := NewDirectScraper(cfg)
	if err != nil {
		t.Fatalf("NewDirectScraper: %v", err)
	}
	return s
}

func TestDirectScraper_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Court ruling</title></head>
<body><nav>menu</nav><article><h1>Ruling</h1><p>The court fined Jane Doe.</p></article></body></html>`)
	}))
	defer srv.Close()

	page, err := newTestScraper(t, false).Scrape(context.Background(), srv.URL+"/ruling")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if !strings.Contains(page.Markdown, "The court fined Jane Doe.") {
		t.Errorf("markdown = %q", page.Markdown)
	}
	if strings.Contains(page.Markdown, "menu") {
		t.Error("navigation should be stripped")
	}
	if page.Metadata["title"] != "Court ruling" {
		t.Errorf("title = %v", page.Metadata["title"])
	}
	if page.Metadata["statusCode"] != http.StatusOK {
		t.Errorf("statusCode = %v", page.Metadata["statusCode"])
	}
	if !strings.Contains(page.HTML, "<article>") {
		t.Error("raw html should be kept")
	}
	if !strings.Contains(string(page.Raw), `"statusCode":200`) {
		t.Errorf("raw = %s", page.Raw)
	}
}

func TestDirectScraper_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "  plain body  ")
	}))
	defer srv.Close()

	page, err := newTestScraper(t, false).Scrape(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if page.Markdown != "plain body" {
		t.Errorf("markdown = %q", page.Markdown)
	}
}

func TestDirectScraper_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			fmt.Fprint(w, "%PDF-1.4")
		}
	}))
	defer srv.Close()

	s := newTestScraper(t, false)
	for _, path := range []string{"/missing", "/pdf"} {
		t.Run(path, func(t *testing.T) {
			_, err := s.Scrape(context.Background(), srv.URL+path)
			var se *ScrapeError
			if !errors.As(err, &se) {
				t.Fatalf("expected ScrapeError, got %v", err)
			}
			if len(se.Raw) == 0 {
				t.Error("expected raw payload")
			}
		})
	}
}

func TestDirectScraper_RespectsRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><p>public</p></body></html>")
	}))
	defer srv.Close()

	s := newTestScraper(t, true)
	if _, err := s.Scrape(context.Background(), srv.URL+"/public"); err != nil {
		t.Fatalf("public page: %v", err)
	}

	_, err := s.Scrape(context.Background(), srv.URL+"/private/file")
	var se *ScrapeError
	if !errors.As(err, &se) || se.Message != ErrDisallowed.Error() {
		t.Fatalf("expected robots refusal, got %v", err)
	}
}

func TestRobotsChecker_MissingFileAllows(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rc := NewRobotsChecker("kycscan/0.1", nil, 0)
	allowed, delay, err := rc.CanFetch(context.Background(), srv.URL+"/anything")
	if err != nil || !allowed || delay != 0 {
		t.Errorf("CanFetch = %v, %v, %v", allowed, delay, err)
	}
}

func TestAgentToken(t *testing.T) {
	if got := agentToken("kycscan/0.1 (+https://example.com)"); got != "kycscan" {
		t.Errorf("agentToken = %q", got)
	}
}

func TestTransport(t *testing.T) {
	for _, fp := range []Fingerprint{FingerprintGo, FingerprintChrome, FingerprintFirefox, FingerprintSafari, FingerprintRandom, ""} {
		rt, err := Transport(fp, nil)
		if err != nil {
			t.Fatalf("Transport(%q): %v", fp, err)
		}
		tr, ok := rt.(*http.Transport)
		if !ok {
			t.Fatalf("expected *http.Transport, got %T", rt)
		}
		custom := tr.DialTLSContext != nil
		if wantCustom := fp != FingerprintGo && fp != ""; custom != wantCustom {
			t.Errorf("%q: custom TLS dialer = %v, want %v", fp, custom, wantCustom)
		}
	}

	if _, err := Transport("netscape", nil); err == nil {
		t.Error("expected error for unknown fingerprint")
	}
}

func TestHTTP1Spec_LimitsALPN(t *testing.T) {
	spec, err := http1Spec(utls.HelloChrome_Auto)
	if err != nil {
		t.Fatalf("http1Spec: %v", err)
	}
	found := false
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			found = true
			if len(alpn.AlpnProtocols) != 1 || alpn.AlpnProtocols[0] != "http/1.1" {
				t.Errorf("ALPN = %v, want [http/1.1]", alpn.AlpnProtocols)
			}
		}
	}
	if !found {
		t.Error("chrome preset has no ALPN extension")
	}
}

func TestDirectScraper_HostRates(t *testing.T) {
	cfg := model.DefaultConfig().Scrape
	cfg.Fingerprint = "go"
	cfg.RequestsPerSecond = 0
	cfg.Burst = 1
	cfg.HostRates = map[string]float64{"www.slow.example": 0.01}

	s, err := NewDirectScraper(cfg)
	if err != nil {
		t.Fatalf("NewDirectScraper: %v", err)
	}
	if s.limiter == nil {
		t.Fatal("expected a limiter when host rates are configured")
	}
	if !s.limiter.Allow("https://slow.example/a") {
		t.Error("first request to a limited host should pass")
	}
	if s.limiter.Allow("https://slow.example/b") {
		t.Error("second request to a limited host should wait")
	}
	for i := range 3 {
		if !s.limiter.Allow("https://fast.example/") {
			t.Errorf("request %d to an unlisted host should pass", i)
		}
	}
}

func TestDirectScraper_NoLimiterByDefault(t *testing.T) {
	if s := newTestScraper(t, false); s.limiter != nil {
		t.Error("expected no limiter without rates")
	}
}
