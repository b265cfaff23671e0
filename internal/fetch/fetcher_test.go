package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/kycscan/internal/cache"
)

type fakeScraper struct {
	page  *Page
	err   error
	panic bool
	calls int
}

func (f *fakeScraper) Scrape(ctx context.Context, url string) (*Page, error) {
	f.calls++
	if f.panic {
		panic("boom")
	}
	return f.page, f.err
}

func TestFetch_Success(t *testing.T) {
	s := &fakeScraper{page: &Page{Markdown: strings.Repeat("a", 150), Raw: json.RawMessage(`{"success":true}`)}}
	res := New(s, nil).Fetch(context.Background(), "https://example.com/a")

	if res.Status != StatusSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if !res.Usable() {
		t.Error("expected usable content")
	}
	if res.Metadata == nil {
		t.Error("metadata must never be nil")
	}
	if string(res.RawData) != `{"success":true}` {
		t.Errorf("raw = %s", res.RawData)
	}
}

func TestFetch_ErrorIsNormalized(t *testing.T) {
	s := &fakeScraper{err: errors.New("connection refused")}
	res := New(s, nil).Fetch(context.Background(), "https://example.com/a")

	if res.Status != StatusFailed || res.Content != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Metadata) != 0 {
		t.Errorf("expected empty metadata, got %v", res.Metadata)
	}
	var raw map[string]string
	if err := json.Unmarshal(res.RawData, &raw); err != nil || raw["error"] != "connection refused" {
		t.Errorf("raw = %s", res.RawData)
	}
	if res.Usable() {
		t.Error("failed fetch must not be usable")
	}
}

func TestFetch_ProviderPayloadKept(t *testing.T) {
	payload := json.RawMessage(`{"success":false,"error":"blocked"}`)
	s := &fakeScraper{err: &ScrapeError{URL: "u", Message: "blocked", Raw: payload}}
	res := New(s, nil).Fetch(context.Background(), "https://example.com/a")

	if string(res.RawData) != string(payload) {
		t.Errorf("raw = %s, want provider payload", res.RawData)
	}
}

func TestFetch_PanicRecovered(t *testing.T) {
	res := New(&fakeScraper{panic: true}, nil).Fetch(context.Background(), "https://example.com/a")
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestFetch_NilPage(t *testing.T) {
	res := New(&fakeScraper{}, nil).Fetch(context.Background(), "https://example.com/a")
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestFetch_CachesSuccess(t *testing.T) {
	s := &fakeScraper{page: &Page{Markdown: "cached body", Metadata: map[string]any{"title": "T"}}}
	c := cache.NewMemoryCache(time.Minute, time.Minute)
	f := New(s, nil, WithCache(c, time.Minute))

	first := f.Fetch(context.Background(), "https://example.com/a")
	second := f.Fetch(context.Background(), "https://example.com/a#frag")

	if s.calls != 1 {
		t.Errorf("scraper called %d times, want 1", s.calls)
	}
	if first.FromCache || !second.FromCache {
		t.Errorf("FromCache = %v/%v", first.FromCache, second.FromCache)
	}
	if second.Content != "cached body" || second.Metadata["title"] != "T" {
		t.Errorf("unexpected cached result: %+v", second)
	}
}

func TestFetch_FailuresNotCached(t *testing.T) {
	s := &fakeScraper{err: errors.New("nope")}
	c := cache.NewMemoryCache(time.Minute, time.Minute)
	f := New(s, nil, WithCache(c, time.Minute))

	f.Fetch(context.Background(), "https://example.com/a")
	f.Fetch(context.Background(), "https://example.com/a")
	if s.calls != 2 {
		t.Errorf("scraper called %d times, want 2", s.calls)
	}
}

func TestUsable_CountsRunes(t *testing.T) {
	// 100 two-byte runes is still only 100 characters
	r := Result{Status: StatusSuccess, Content: strings.Repeat("å", 100)}
	if r.Usable() {
		t.Error("exactly 100 characters must not be usable")
	}
	r.Content += "å"
	if !r.Usable() {
		t.Error("101 characters must be usable")
	}
}
