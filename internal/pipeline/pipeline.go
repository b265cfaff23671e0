// Package pipeline drives one screening run: search, per-hit fetch and
// analysis, incremental persistence, aggregation and finalization.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ppiankov/kycscan/internal/analyze"
	"github.com/ppiankov/kycscan/internal/fetch"
	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/notify"
	"github.com/ppiankov/kycscan/internal/progress"
	"github.com/ppiankov/kycscan/internal/query"
	"github.com/ppiankov/kycscan/internal/search"
	"github.com/ppiankov/kycscan/internal/store"
	"github.com/ppiankov/kycscan/internal/validate"
)

const (
	// DefaultSearchLimit is the number of hits analyzed per run
	DefaultSearchLimit = 5
	// DefaultSaveEvery is the partial save interval in analyzed results
	DefaultSaveEvery = 2

	notifyTimeout = 10 * time.Second
)

// Deps are the collaborators of a Pipeline. Classifier, Publisher and
// Logger are optional.
type Deps struct {
	Builder    *query.Builder
	Search     search.Provider
	Fetcher    *fetch.Fetcher
	Analyzer   *analyze.Analyzer
	Store      store.Store
	Classifier *validate.SourceClassifier
	Publisher  notify.Publisher
	Logger     *slog.Logger
}

// Pipeline orchestrates screening runs. It is safe for concurrent use;
// each Run owns its own state.
type Pipeline struct {
	builder    *query.Builder
	search     search.Provider
	fetcher    *fetch.Fetcher
	analyzer   *analyze.Analyzer
	store      store.Store
	classifier *validate.SourceClassifier
	publisher  notify.Publisher
	logger     *slog.Logger
	limit      int
	saveEvery  int
	now        func() time.Time
}

// New creates a pipeline. Zero config values fall back to the defaults.
func New(d Deps, cfg model.PipelineConfig) *Pipeline {
	if d.Builder == nil {
		d.Builder = query.NewBuilder(nil)
	}
	if d.Classifier == nil {
		d.Classifier = validate.NewSourceClassifier(nil)
	}
	if d.Publisher == nil {
		d.Publisher = notify.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	limit := cfg.SearchLimit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	saveEvery := cfg.SaveEvery
	if saveEvery <= 0 {
		saveEvery = DefaultSaveEvery
	}

	return &Pipeline{
		builder:    d.Builder,
		search:     d.Search,
		fetcher:    d.Fetcher,
		analyzer:   d.Analyzer,
		store:      d.Store,
		classifier: d.Classifier,
		publisher:  d.Publisher,
		logger:     d.Logger.With("component", "pipeline"),
		limit:      limit,
		saveEvery:  saveEvery,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Stream runs req in its own goroutine and delivers every event on the
// returned channel, which is closed when the run ends. The caller must
// drain the channel.
func (p *Pipeline) Stream(ctx context.Context, req model.SearchRequest) <-chan progress.Event {
	ch := make(chan progress.Event, 8)
	go func() {
		defer close(ch)
		_, _ = p.Run(ctx, req, progress.SinkFunc(func(e progress.Event) { ch <- e }))
	}()
	return ch
}

// Screen runs req to completion and returns its terminal event.
// It satisfies worker.Screener.
func (p *Pipeline) Screen(ctx context.Context, req model.SearchRequest) (progress.Event, error) {
	var final progress.Event
	_, err := p.Run(ctx, req, progress.SinkFunc(func(e progress.Event) {
		if e.Terminal() {
			final = e
		}
	}))
	return final, err
}
