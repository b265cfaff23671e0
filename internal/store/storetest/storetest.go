// Package storetest holds the behavior every store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/store"
)

// Factory returns a fresh, empty store for one subtest
type Factory func(t *testing.T) store.Store

// Run exercises a backend against the shared contract
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAssignsIDAndPlaceholders", func(t *testing.T) { testCreate(t, newStore(t)) })
	t.Run("CreateWithClientID", func(t *testing.T) { testClientID(t, newStore(t)) })
	t.Run("PartialSaveIsIdempotent", func(t *testing.T) { testPartialSave(t, newStore(t)) })
	t.Run("ProgressIsMonotonic", func(t *testing.T) { testProgress(t, newStore(t)) })
	t.Run("FinalizeSealsRun", func(t *testing.T) { testFinalize(t, newStore(t)) })
	t.Run("ErrorRunCanResume", func(t *testing.T) { testResume(t, newStore(t)) })
	t.Run("ListAndDelete", func(t *testing.T) { testListDelete(t, newStore(t)) })
	t.Run("Relationships", func(t *testing.T) { testRelationships(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
}

var identity = model.Identity{IndividualName: "Jane Doe", CompanyName: "Acme AB", AdditionalInfo: "Stockholm"}

func item(url string, risk int) model.SearchResultItem {
	return model.SearchResultItem{
		URL:            url,
		Title:          "Title " + url,
		Description:    "Description",
		RiskScore:      risk,
		AdverseContent: []string{"fraud allegation"},
		Summary:        "summary",
		Status:         model.ResultComplete,
		EntityMatch:    &model.EntityMatch{IsExactMatch: true, Confidence: 95, Reason: "same person"},
		Relationships:  []model.Relationship{},
		SourceTier:     model.TierSecondary,
	}
}

func sources(crawlURLs ...string) model.Sources {
	s := model.Sources{
		Search: model.SearchSource{
			Query:   "Jane Doe AND (bedrägeri*)",
			Status:  "success",
			Results: []model.SearchHit{{URL: "https://a.se"}},
			RawData: []byte(`{"success":true}`),
		},
	}
	for _, u := range crawlURLs {
		s.Crawl = append(s.Crawl, model.SourceRecord{
			SourceType: model.SourceCrawl,
			URL:        u,
			Status:     "success",
			RawData:    []byte(`{"statusCode":200}`),
			Metadata:   map[string]any{"contentLength": float64(120)},
			CreatedAt:  time.Now().UTC(),
		})
	}
	return s
}

func mustCreate(t *testing.T, s store.Store) string {
	t.Helper()
	id, err := s.CreateOrUpdateRun(context.Background(), "", identity, []string{"fraud"})
	if err != nil {
		t.Fatalf("CreateOrUpdateRun: %v", err)
	}
	return id
}

func mustGet(t *testing.T, s store.Store, id string) *model.RunDetail {
	t.Helper()
	d, err := s.GetRun(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return d
}

func testCreate(t *testing.T, s store.Store) {
	id := mustCreate(t, s)
	if id == "" {
		t.Fatal("expected generated id")
	}

	d := mustGet(t, s, id)
	r := d.Run
	if r.Status != model.RunInProgress || r.Progress != 0 {
		t.Errorf("status/progress = %s/%d", r.Status, r.Progress)
	}
	if r.RiskLevel != model.PendingRiskLevel || r.Recommendation != model.PendingRecommendation {
		t.Errorf("placeholders = %s/%q", r.RiskLevel, r.Recommendation)
	}
	if r.IndividualName != "Jane Doe" || r.CompanyName != "Acme AB" || r.AdditionalInfo != "Stockholm" {
		t.Errorf("identity = %+v", r)
	}
	if len(r.KeywordTags) != 1 || r.KeywordTags[0] != "fraud" {
		t.Errorf("keywords = %v", r.KeywordTags)
	}
	if len(d.Results) != 0 || len(d.Sources) != 0 {
		t.Errorf("new run should be empty: %+v", d)
	}
}

func testClientID(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.CreateOrUpdateRun(ctx, "client-chosen-id", identity, nil)
	if err != nil {
		t.Fatalf("CreateOrUpdateRun: %v", err)
	}
	if id != "client-chosen-id" {
		t.Errorf("id = %q", id)
	}

	again, err := s.CreateOrUpdateRun(ctx, id, model.Identity{IndividualName: "Jane Q. Doe"}, []string{"crime"})
	if err != nil || again != id {
		t.Fatalf("update returned %q, %v", again, err)
	}
	d := mustGet(t, s, id)
	if d.Run.IndividualName != "Jane Q. Doe" || d.Run.RiskLevel != model.PendingRiskLevel {
		t.Errorf("update = %+v", d.Run)
	}
}

func testPartialSave(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := mustCreate(t, s)

	batch := []model.SearchResultItem{item("https://a.se", 40), item("https://b.se", 10), item("https://a.se", 40)}
	n, err := s.SavePartialResults(ctx, id, batch, sources("https://a.se", "https://b.se"), 60)
	if err != nil {
		t.Fatalf("SavePartialResults: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted %d, want 2", n)
	}

	n, err = s.SavePartialResults(ctx, id, batch[:2], sources("https://a.se", "https://b.se"), 60)
	if err != nil {
		t.Fatalf("second SavePartialResults: %v", err)
	}
	if n != 0 {
		t.Errorf("second save inserted %d, want 0", n)
	}

	more := append(batch[:2:2], item("https://c.se", 0))
	n, err = s.SavePartialResults(ctx, id, more, sources("https://a.se", "https://b.se", "https://c.se"), 90)
	if err != nil || n != 1 {
		t.Fatalf("third save = %d, %v", n, err)
	}

	d := mustGet(t, s, id)
	if len(d.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(d.Results))
	}
	for i, want := range []string{"https://a.se", "https://b.se", "https://c.se"} {
		if d.Results[i].URL != want {
			t.Errorf("results[%d] = %s, want %s", i, d.Results[i].URL, want)
		}
	}
	got := d.Results[0]
	if got.RiskScore != 40 || got.EntityMatch == nil || got.EntityMatch.Confidence != 95 || got.SourceTier != model.TierSecondary {
		t.Errorf("result round trip = %+v", got)
	}
	if len(got.AdverseContent) != 1 || got.AdverseContent[0] != "fraud allegation" {
		t.Errorf("adverse content = %v", got.AdverseContent)
	}

	var searches, crawls int
	for _, src := range d.Sources {
		switch src.SourceType {
		case model.SourceSearch:
			searches++
			if src.URL != "Jane Doe AND (bedrägeri*)" {
				t.Errorf("search source url = %q", src.URL)
			}
		case model.SourceCrawl:
			crawls++
		}
	}
	if searches != 1 || crawls != 3 {
		t.Errorf("sources: %d search, %d crawl; want 1 and 3", searches, crawls)
	}
	if d.Sources[0].SourceType != model.SourceSearch {
		t.Error("search source should come first")
	}
}

func testProgress(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := mustCreate(t, s)

	for _, p := range []int{60, 30} {
		if _, err := s.SavePartialResults(ctx, id, nil, model.Sources{}, p); err != nil {
			t.Fatalf("SavePartialResults: %v", err)
		}
	}
	if p := mustGet(t, s, id).Run.Progress; p != 60 {
		t.Errorf("progress = %d, want 60", p)
	}
}

func testFinalize(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := mustCreate(t, s)

	summary := model.Summary{
		RiskLevel:        model.RiskMedium,
		AdverseFindings:  3,
		Recommendation:   "Review",
		EntityMatchStats: &model.EntityMatchStats{TotalResults: 5, ValidEntityMatches: 2},
	}
	if err := s.FinalizeRun(ctx, id, summary); err != nil {
		t.Fatalf("FinalizeRun: %v", err)
	}

	r := mustGet(t, s, id).Run
	if r.Status != model.RunComplete || r.Progress != 100 || r.CompletedAt == nil {
		t.Errorf("run = %+v", r)
	}
	if r.RiskLevel != model.RiskMedium || r.AdverseFindings != 3 || r.Recommendation != "Review" {
		t.Errorf("summary fields = %+v", r)
	}
	if r.EntityMatchStats.TotalResults != 5 || r.EntityMatchStats.ValidEntityMatches != 2 {
		t.Errorf("stats = %+v", r.EntityMatchStats)
	}

	if err := s.MarkRunError(ctx, id, "late failure"); !errors.Is(err, store.ErrRunSealed) {
		t.Errorf("MarkRunError after finalize = %v, want ErrRunSealed", err)
	}
	if err := s.FinalizeRun(ctx, id, summary); !errors.Is(err, store.ErrRunSealed) {
		t.Errorf("second FinalizeRun = %v, want ErrRunSealed", err)
	}
	if _, err := s.CreateOrUpdateRun(ctx, id, identity, nil); !errors.Is(err, store.ErrRunSealed) {
		t.Errorf("CreateOrUpdateRun on complete run = %v, want ErrRunSealed", err)
	}
	if _, err := s.SavePartialResults(ctx, id, []model.SearchResultItem{item("https://z.se", 0)}, model.Sources{}, 100); !errors.Is(err, store.ErrRunSealed) {
		t.Errorf("SavePartialResults on complete run = %v, want ErrRunSealed", err)
	}
	if r := mustGet(t, s, id).Run; r.Status != model.RunComplete || r.Recommendation != "Review" {
		t.Errorf("sealed run changed: %+v", r)
	}
}

func testResume(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := mustCreate(t, s)

	if _, err := s.SavePartialResults(ctx, id, []model.SearchResultItem{item("https://a.se", 10)}, sources("https://a.se"), 30); err != nil {
		t.Fatalf("SavePartialResults: %v", err)
	}
	if err := s.MarkRunError(ctx, id, "LLM unavailable"); err != nil {
		t.Fatalf("MarkRunError: %v", err)
	}
	r := mustGet(t, s, id).Run
	if r.Status != model.RunError || r.Recommendation != "LLM unavailable" {
		t.Errorf("error run = %+v", r)
	}

	if _, err := s.CreateOrUpdateRun(ctx, id, identity, nil); err != nil {
		t.Fatalf("resume: %v", err)
	}
	n, err := s.SavePartialResults(ctx, id, []model.SearchResultItem{item("https://a.se", 10), item("https://b.se", 0)}, sources("https://a.se", "https://b.se"), 60)
	if err != nil || n != 1 {
		t.Fatalf("save after resume = %d, %v", n, err)
	}
	d := mustGet(t, s, id)
	if d.Run.Status != model.RunInProgress || len(d.Results) != 2 || len(d.Sources) != 3 {
		t.Errorf("resumed run = %+v with %d results, %d sources", d.Run, len(d.Results), len(d.Sources))
	}
	// A URL fetched again after resume keeps its first crawl record
	crawled := 0
	for _, src := range d.Sources {
		if src.SourceType == model.SourceCrawl && src.URL == "https://a.se" {
			crawled++
		}
	}
	if crawled != 1 {
		t.Errorf("crawl records for a re-fetched URL = %d, want 1", crawled)
	}
}

func testListDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.CreateOrUpdateRun(ctx, fmt.Sprintf("run-%d", i), identity, nil)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, id)
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.FinalizeRun(ctx, ids[0], model.Summary{RiskLevel: model.RiskLow, Recommendation: "ok"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	all, err := s.ListRuns(ctx, store.ListOptions{})
	if err != nil || len(all) != 3 {
		t.Fatalf("ListRuns = %d, %v", len(all), err)
	}
	if all[0].ID != "run-2" {
		t.Errorf("newest first: got %s", all[0].ID)
	}

	page, err := s.ListRuns(ctx, store.ListOptions{Limit: 1, Offset: 1})
	if err != nil || len(page) != 1 || page[0].ID != "run-1" {
		t.Errorf("page = %+v, %v", page, err)
	}

	done, err := s.ListRuns(ctx, store.ListOptions{Status: model.RunComplete})
	if err != nil || len(done) != 1 || done[0].ID != "run-0" {
		t.Errorf("complete runs = %+v, %v", done, err)
	}

	if _, err := s.SavePartialResults(ctx, ids[1], []model.SearchResultItem{item("https://a.se", 0)}, sources("https://a.se"), 40); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteRun(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(ctx, ids[1]); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRun after delete = %v", err)
	}
	if err := s.DeleteRun(ctx, ids[1]); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteRun = %v", err)
	}
	rest, _ := s.ListRuns(ctx, store.ListOptions{})
	if len(rest) != 2 {
		t.Errorf("remaining runs = %d", len(rest))
	}
}

func testRelationships(t *testing.T, s store.Store) {
	rs, ok := s.(store.RelationshipStore)
	if !ok {
		t.Skip("backend does not store relationships")
	}
	ctx := context.Background()
	id := mustCreate(t, s)

	rels := []model.Relationship{
		{Name: "John Roe", Type: model.RelationshipBusiness, Description: "co-founder", Confidence: 80, SourceURL: "https://a.se", SourceTitle: "A"},
		{Name: "Anna Doe", Type: model.RelationshipFamily, Description: "sister", Confidence: 90},
	}
	if err := rs.SaveRelationships(ctx, id, rels); err != nil {
		t.Fatalf("SaveRelationships: %v", err)
	}
	if err := rs.SaveRelationships(ctx, id, rels); err != nil {
		t.Fatalf("second SaveRelationships: %v", err)
	}

	got := mustGet(t, s, id).Relationships
	if len(got) != 2 {
		t.Fatalf("relationships = %d, want 2", len(got))
	}
	if got[0].Name != "John Roe" || got[0].Type != model.RelationshipBusiness || got[0].SourceURL != "https://a.se" {
		t.Errorf("relationship round trip = %+v", got[0])
	}
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRun = %v", err)
	}
	if _, err := s.SavePartialResults(ctx, "missing", nil, model.Sources{}, 10); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SavePartialResults = %v", err)
	}
	if err := s.FinalizeRun(ctx, "missing", model.Summary{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FinalizeRun = %v", err)
	}
	if err := s.MarkRunError(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkRunError = %v", err)
	}
}
