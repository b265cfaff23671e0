package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/ppiankov/kycscan/internal/analyze"
	"github.com/ppiankov/kycscan/internal/fetch"
	"github.com/ppiankov/kycscan/internal/metrics"
	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/notify"
	"github.com/ppiankov/kycscan/internal/progress"
	"github.com/ppiankov/kycscan/internal/query"
	"github.com/ppiankov/kycscan/internal/score"
	"github.com/ppiankov/kycscan/internal/search"
	"github.com/ppiankov/kycscan/internal/store"
)

// Progress checkpoints
const (
	progressSearching = 5
	progressSearched  = 10
	progressLoopStart = 30
	progressLoopSpan  = 60
	progressDone      = 100
)

// run is the state of one screening run
type run struct {
	p       *Pipeline
	req     model.SearchRequest
	sink    progress.Sink
	log     *progress.Log
	logger  *slog.Logger
	started time.Time

	id       string
	query    query.Query
	subject  analyze.Subject
	sources  model.Sources
	hits     []model.SearchHit
	pending  []model.SearchResultItem // Placeholders in search rank order
	analyzed []model.SearchResultItem
	rels     []model.Relationship
	tally    score.Tally
	progress int
	saved    int // Prefix of analyzed already accepted by the store
	finished bool
}

// Run screens req, emitting progress events to sink, and returns the
// folded snapshot of everything emitted.
//
// An invalid request returns an error before any event. Every other run
// ends with exactly one terminal event; the returned error is non-nil when
// the run took the error branch. The run does not stop when ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context, req model.SearchRequest, sink progress.Sink) (snap progress.Snapshot, err error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return progress.Snapshot{}, err
	}
	if sink == nil {
		sink = progress.Discard
	}
	ctx = context.WithoutCancel(ctx)

	q := p.builder.Build(req)
	r := &run{
		p:       p,
		req:     req,
		sink:    sink,
		log:     progress.NewLog(),
		logger:  p.logger.With("individual", req.IndividualName),
		started: time.Now(),
		query:   q,
		subject: analyze.SubjectFromRequest(req, q.Terms),
		sources: model.Sources{
			Search: model.SearchSource{Query: q.Text, Results: []model.SearchHit{}},
			Crawl:  []model.SourceRecord{},
		},
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("run panicked", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("run panicked: %v", rec)
			r.fail(ctx, err)
			snap = r.log.Replay()
		}
	}()

	if err = r.execute(ctx); err != nil {
		r.fail(ctx, err)
	}
	return r.log.Replay(), err
}

func (r *run) execute(ctx context.Context) error {
	id, err := r.p.store.CreateOrUpdateRun(ctx, r.req.SearchID, r.req.Identity(), r.req.KeywordTags)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	r.id = id
	r.logger = r.logger.With("search_id", id)
	r.logger.Info("run started", "query", r.query.Text)

	r.emit(progress.Event{
		Status:   model.StreamSearching,
		Progress: progressSearching,
		Results:  []model.SearchResultItem{},
		Sources:  r.sourcesSnapshot(),
	})

	r.searchHits(ctx)
	r.save(ctx)

	if len(r.hits) == 0 {
		return r.finalize(ctx, score.NoResults(r.query.Terms))
	}

	r.emit(progress.Event{
		Status:   model.StreamSearching,
		Progress: progressSearched,
		Results:  r.resultsFrom(0),
		Sources:  r.sourcesSnapshot(),
	})

	for i := range r.hits {
		r.analyzeHit(ctx, i)
		if len(r.analyzed)%r.p.saveEvery == 0 {
			r.save(ctx)
		}
	}
	r.save(ctx)

	return r.finalize(ctx, score.Aggregate(r.req.IndividualName, r.tally, r.query.Terms))
}

// searchHits runs the query. Provider failures become an empty hit list
// with the error kept in the search source.
func (r *run) searchHits(ctx context.Context) {
	resp, err := r.p.search.Search(ctx, r.query.Text, r.p.limit)
	if err != nil {
		r.logger.Warn("search failed", "error", err)
		raw, _ := json.Marshal(map[string]string{"error": err.Error()})
		r.sources.Search.Status = "failed"
		r.sources.Search.RawData = raw
		return
	}
	if resp == nil {
		resp = &search.Response{}
	}

	r.hits = search.Top(resp.Hits, r.p.limit)
	r.sources.Search.Status = "success"
	r.sources.Search.Results = slices.Clone(r.hits)
	r.sources.Search.RawData = resp.Raw

	r.pending = make([]model.SearchResultItem, len(r.hits))
	for i, hit := range r.hits {
		item := model.Placeholder(hit)
		item.SourceTier = r.p.classifier.Classify(hit.URL)
		item.RawSearchData, _ = json.Marshal(hit)
		r.pending[i] = item
	}
	r.logger.Info("search complete", "hits", len(r.hits))
}

// analyzeHit fetches and analyzes the i-th hit
func (r *run) analyzeHit(ctx context.Context, i int) {
	hit := r.hits[i]
	pct := progressLoopStart + i*progressLoopSpan/len(r.hits)

	r.emit(progress.Event{
		Status:   model.StreamAnalyzing,
		Progress: pct,
		Results:  r.resultsFrom(i),
		Sources:  r.sourcesSnapshot(),
	})

	item := r.pending[i]
	res := r.p.fetcher.Fetch(ctx, hit.URL)
	r.sources.Crawl = append(r.sources.Crawl, model.SourceRecord{
		SourceType: model.SourceCrawl,
		URL:        hit.URL,
		Status:     string(res.Status),
		RawData:    res.RawData,
		Metadata:   crawlMetadata(res, item.SourceTier),
		CreatedAt:  r.p.now(),
	})

	var j analyze.Judgment
	scrapeFailed := !res.Usable()
	if scrapeFailed {
		j = r.p.analyzer.AnalyzeSnippet(ctx, r.subject, analyze.Snippet{
			Title:       hit.Title,
			Description: hit.Description,
			URL:         hit.URL,
		})
	} else {
		j = r.p.analyzer.AnalyzeContent(ctx, r.subject, res.Content)
	}

	item = completeItem(item, j.Sanitize(), res)
	r.tally.Add(item, scrapeFailed)
	if item.EntityMatch.Valid() {
		r.rels = append(r.rels, item.Relationships...)
	}
	r.analyzed = append(r.analyzed, item)

	r.logger.Debug("result analyzed",
		"url", hit.URL,
		"scraped", !scrapeFailed,
		"risk", item.RiskScore,
		"confidence", item.EntityMatch.Confidence,
	)

	r.emit(progress.Event{
		Status:   model.StreamAnalyzing,
		Progress: pct,
		Results:  r.resultsFrom(i + 1),
		Sources:  r.sourcesSnapshot(),
	})
}

// save persists results not yet accepted by the store. Failures are
// logged and retried by the next save.
func (r *run) save(ctx context.Context) {
	if r.id == "" {
		return
	}
	unsaved := r.analyzed[r.saved:]
	n, err := r.p.store.SavePartialResults(ctx, r.id, unsaved, r.sources, r.progress)
	if err != nil {
		r.logger.Warn("partial save failed", "pending", len(unsaved), "error", err)
		return
	}
	r.saved = len(r.analyzed)
	if n > 0 {
		r.logger.Debug("partial results saved", "inserted", n, "progress", r.progress)
	}
}

func (r *run) finalize(ctx context.Context, summary model.Summary) error {
	if err := r.p.store.FinalizeRun(ctx, r.id, summary); err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if rs, ok := r.p.store.(store.RelationshipStore); ok {
		if err := rs.SaveRelationships(ctx, r.id, r.rels); err != nil {
			r.logger.Warn("saving relationships failed", "count", len(r.rels), "error", err)
		}
	}

	rels := slices.Clone(r.rels)
	if rels == nil {
		rels = []model.Relationship{}
	}
	r.emit(progress.Event{
		Status:        model.StreamComplete,
		Progress:      progressDone,
		Results:       r.resultsFrom(len(r.hits)),
		Sources:       r.sourcesSnapshot(),
		Summary:       &summary,
		Relationships: rels,
		SearchID:      r.id,
		AutoSaved:     true,
	})
	r.finished = true

	duration := time.Since(r.started)
	metrics.RecordRun(string(model.RunComplete), string(summary.RiskLevel), duration)
	r.logger.Info("run complete",
		"risk", summary.RiskLevel,
		"results", len(r.analyzed),
		"valid_matches", r.tally.ValidEntityMatches,
		"scraping_failures", r.tally.ScrapingFailures,
		"duration", duration,
	)
	r.notify(ctx, model.RunComplete, summary)
	return nil
}

// fail is the error branch: save what exists, mark the run failed and
// end the stream with an error event.
func (r *run) fail(ctx context.Context, cause error) {
	if r.finished {
		r.logger.Error("error after run completed", "error", cause)
		return
	}
	r.logger.Error("run failed", "error", cause)

	recommendation := fmt.Sprintf("Search failed: %v", cause)
	if r.id != "" {
		r.save(ctx)
		if err := r.p.store.MarkRunError(ctx, r.id, recommendation); err != nil {
			r.logger.Warn("marking run as failed", "error", err)
		}
	}

	r.emit(progress.Event{
		Status:   model.StreamComplete,
		Progress: progressDone,
		Results:  r.resultsFrom(len(r.hits)),
		Sources:  r.sourcesSnapshot(),
		SearchID: r.id,
		Error:    fmt.Sprintf("An error occurred during the search process: %v. Partial results may be available in search history.", cause),
	})
	r.finished = true

	metrics.RecordRun(string(model.RunError), "", time.Since(r.started))
	if r.id != "" {
		r.notify(ctx, model.RunError, model.Summary{
			RiskLevel:      model.PendingRiskLevel,
			Recommendation: recommendation,
			EntityMatchStats: &model.EntityMatchStats{
				TotalResults:       r.tally.TotalResults,
				ValidEntityMatches: r.tally.ValidEntityMatches,
			},
			Keywords: r.query.Terms,
		})
	}
}

func (r *run) notify(ctx context.Context, status model.RunStatus, summary model.Summary) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	ev := notify.NewRunCompleted(r.id, r.req.Identity(), status, summary, r.p.now())
	if err := r.p.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn("run notification failed", "error", err)
	}
}

// emit records e and forwards it. Progress never moves backwards.
func (r *run) emit(e progress.Event) {
	r.progress = max(r.progress, e.Progress)
	e.Progress = r.progress
	r.log.Emit(e)
	r.sink.Emit(e)
}

// resultsFrom lists analyzed results followed by the placeholders from
// rank i on
func (r *run) resultsFrom(i int) []model.SearchResultItem {
	out := make([]model.SearchResultItem, 0, len(r.analyzed)+len(r.pending)-min(i, len(r.pending)))
	out = append(out, r.analyzed...)
	if i < len(r.pending) {
		out = append(out, r.pending[i:]...)
	}
	return out
}

func (r *run) sourcesSnapshot() *model.Sources {
	s := model.Sources{
		Search: r.sources.Search,
		Crawl:  slices.Clone(r.sources.Crawl),
	}
	s.Search.Results = slices.Clone(s.Search.Results)
	return &s
}

// completeItem applies a sanitized judgment to a placeholder
func completeItem(item model.SearchResultItem, j analyze.Judgment, res fetch.Result) model.SearchResultItem {
	em := j.EntityMatch
	item.EntityMatch = &em
	item.RiskScore = j.RiskScore
	item.AdverseContent = j.AdverseContent
	item.Summary = j.Summary

	item.Relationships = make([]model.Relationship, len(j.Relationships))
	for k, rel := range j.Relationships {
		rel.SourceURL = item.URL
		rel.SourceTitle = item.Title
		item.Relationships[k] = rel
	}

	if res.Status == fetch.StatusSuccess {
		item.RawCrawlData, _ = json.Marshal(map[string]any{
			"content":  res.Content,
			"html":     res.HTML,
			"metadata": res.Metadata,
		})
	} else {
		item.RawCrawlData = res.RawData
	}
	item.Status = model.ResultComplete
	return item
}

func crawlMetadata(res fetch.Result, tier model.AuthorityTier) map[string]any {
	meta := maps.Clone(res.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["sourceTier"] = string(tier)
	if res.FromCache {
		meta["cached"] = true
	}
	if res.Error != "" {
		meta["error"] = res.Error
	}
	return meta
}
