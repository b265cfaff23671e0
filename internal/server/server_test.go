package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/progress"
	"github.com/ppiankov/kycscan/internal/search"
	"github.com/ppiankov/kycscan/internal/store/memory"
)

type fakeStreamer struct {
	events []progress.Event
	calls  []model.SearchRequest
}

func (f *fakeStreamer) Stream(ctx context.Context, req model.SearchRequest) <-chan progress.Event {
	f.calls = append(f.calls, req)
	ch := make(chan progress.Event, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch
}

type fakeSearch struct {
	hits  []model.SearchHit
	err   error
	query string
	limit int
}

func (f *fakeSearch) Search(ctx context.Context, query string, limit int) (*search.Response, error) {
	f.query, f.limit = query, limit
	if f.err != nil {
		return nil, f.err
	}
	return &search.Response{Hits: f.hits}, nil
}

type testEnv struct {
	streamer *fakeStreamer
	search   *fakeSearch
	store    *memory.Store
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		streamer: &fakeStreamer{},
		search:   &fakeSearch{},
		store:    memory.New(),
	}
	srv := New(Options{
		Streamer: env.streamer,
		Search:   env.search,
		Store:    env.store,
		Metrics:  true,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	env.handler = srv.Routes()
	return env
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func TestSearch_StreamsEvents(t *testing.T) {
	env := newTestEnv(t)
	env.streamer.events = []progress.Event{
		{Status: model.StreamSearching, Progress: 5},
		{Status: model.StreamAnalyzing, Progress: 10},
		{Status: model.StreamComplete, Progress: 100, SearchID: "run-1", AutoSaved: true},
	}

	rec := env.do(http.MethodPost, "/api/search", `{"individualName":"  Anna Svensson ","keywordTags":["fraud"]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if len(env.streamer.calls) != 1 || env.streamer.calls[0].IndividualName != "Anna Svensson" {
		t.Fatalf("streamer calls = %+v, want one normalized request", env.streamer.calls)
	}

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3: %q", len(frames), rec.Body.String())
	}
	var last progress.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[2], "data: ")), &last); err != nil {
		t.Fatalf("decode last frame: %v", err)
	}
	if !last.Terminal() || last.SearchID != "run-1" || !last.AutoSaved {
		t.Errorf("last frame = %+v", last)
	}
}

func TestSearch_RejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{not json`, `{"individualName":"   "}`, `{"companyName":"Acme AB"}`} {
		rec := env.do(http.MethodPost, "/api/search", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Errorf("body %q: response %q has no error field", body, rec.Body.String())
		}
	}
	if len(env.streamer.calls) != 0 {
		t.Errorf("streamer called %d times for invalid requests", len(env.streamer.calls))
	}
}

func TestFallback(t *testing.T) {
	env := newTestEnv(t)
	env.search.hits = []model.SearchHit{
		{URL: "https://a.example/1", Title: "One"},
		{URL: "https://a.example/1", Title: "Duplicate"},
		{URL: "https://b.example/2"},
		{URL: "https://c.example/3"},
		{URL: "https://d.example/4"},
	}

	rec := env.do(http.MethodPost, "/api/search-fallback", `{"individualName":"Anna Svensson","companyName":"Acme AB"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp fallbackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Query != "Anna Svensson Acme AB" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Results) != 3 {
		t.Errorf("got %d results, want 3", len(resp.Results))
	}
	if env.search.limit != 3 {
		t.Errorf("search limit = %d, want 3", env.search.limit)
	}
}

func TestFallback_ProviderError(t *testing.T) {
	env := newTestEnv(t)
	env.search.err = errors.New("firecrawl: 502 bad gateway")

	rec := env.do(http.MethodPost, "/api/search-fallback", `{"individualName":"Anna Svensson"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp fallbackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || !strings.Contains(resp.Error, "502") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.store.CreateOrUpdateRun(ctx, "", model.Identity{IndividualName: "Anna Svensson"}, []string{"fraud"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	err = env.store.SaveRelationships(ctx, id, []model.Relationship{
		{Name: "Erik Svensson", Type: model.RelationshipFamily, Confidence: 80},
	})
	if err != nil {
		t.Fatalf("save relationships: %v", err)
	}

	rec := env.do(http.MethodGet, "/api/searches", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var runs []model.SearchRun
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id {
		t.Fatalf("runs = %+v", runs)
	}

	rec = env.do(http.MethodGet, "/api/searches?status=complete", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode filtered list: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("status filter returned %d runs", len(runs))
	}

	rec = env.do(http.MethodGet, "/api/searches/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var detail model.RunDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Run.IndividualName != "Anna Svensson" || detail.Run.Status != model.RunInProgress {
		t.Errorf("detail.Run = %+v", detail.Run)
	}

	rec = env.do(http.MethodGet, "/api/searches/"+id+"/diagram", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "graph TD\n") {
		t.Errorf("diagram = %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Erik Svensson") {
		t.Errorf("diagram missing relationship: %q", rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/api/searches/"+id+"/report", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Anna Svensson") {
		t.Errorf("report = %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodDelete, "/api/searches/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	rec = env.do(http.MethodGet, "/api/searches/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
}

func TestHistory_NotFoundAndBadQuery(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/searches/missing", "/api/searches/missing/diagram", "/api/searches/missing/report"} {
		if rec := env.do(http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
	if rec := env.do(http.MethodDelete, "/api/searches/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE missing = %d, want 404", rec.Code)
	}
	for _, q := range []string{"limit=abc", "offset=-1", "status=done"} {
		if rec := env.do(http.MethodGet, "/api/searches?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("GET ?%s = %d, want 400", q, rec.Code)
		}
	}
}

func TestKeywords(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/keywords", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Dictionary map[string]string `json:"dictionary"`
		Categories []struct {
			ID   string   `json:"id"`
			Tags []string `json:"tags"`
		} `json:"categories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Dictionary["corruption"] != "korruption" {
		t.Errorf("dictionary[corruption] = %q", resp.Dictionary["corruption"])
	}
	if len(resp.Categories) == 0 {
		t.Error("no categories")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	rec := env.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", rec.Code)
	}
}
