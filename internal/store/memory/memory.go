// Package memory is an in-process store backend for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/store"
)

var (
	_ store.Store             = (*Store)(nil)
	_ store.RelationshipStore = (*Store)(nil)
)

type runRecord struct {
	run           model.SearchRun
	results       []model.SearchResultItem
	urls          map[string]bool
	crawled       map[string]bool
	search        *model.SourceRecord
	crawl         []model.SourceRecord
	relationships []model.Relationship
}

// Store keeps everything in maps guarded by one mutex
type Store struct {
	mu   sync.RWMutex
	runs map[string]*runRecord
	now  func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		runs: make(map[string]*runRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateOrUpdateRun(ctx context.Context, id string, identity model.Identity, keywords []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id == "" {
		id = store.NewRunID()
	}

	rec, ok := s.runs[id]
	if !ok {
		s.runs[id] = &runRecord{
			run: model.SearchRun{
				ID:             id,
				IndividualName: identity.IndividualName,
				CompanyName:    identity.CompanyName,
				AdditionalInfo: identity.AdditionalInfo,
				Status:         model.RunInProgress,
				CreatedAt:      now,
				LastUpdatedAt:  now,
				RiskLevel:      model.PendingRiskLevel,
				Recommendation: model.PendingRecommendation,
				KeywordTags:    slices.Clone(keywords),
			},
			urls:    make(map[string]bool),
			crawled: make(map[string]bool),
		}
		return id, nil
	}

	if rec.run.Status == model.RunComplete {
		return "", fmt.Errorf("update run %s: %w", id, store.ErrRunSealed)
	}
	rec.run.IndividualName = identity.IndividualName
	rec.run.CompanyName = identity.CompanyName
	rec.run.AdditionalInfo = identity.AdditionalInfo
	rec.run.KeywordTags = slices.Clone(keywords)
	rec.run.Status = model.RunInProgress
	rec.run.LastUpdatedAt = now
	return id, nil
}

func (s *Store) SavePartialResults(ctx context.Context, runID string, results []model.SearchResultItem, sources model.Sources, progress int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.open(runID)
	if err != nil {
		return 0, err
	}

	fresh := store.NewResults(results, rec.urls)
	rec.results = append(rec.results, fresh...)

	if rec.search == nil && store.HasSearch(sources) {
		r := sources.Search.Record(s.now())
		rec.search = &r
	}
	rec.crawl = append(rec.crawl, store.NewCrawl(sources.Crawl, rec.crawled)...)

	rec.run.Progress = max(rec.run.Progress, progress)
	rec.run.LastUpdatedAt = s.now()
	return len(fresh), nil
}

func (s *Store) FinalizeRun(ctx context.Context, runID string, summary model.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.open(runID)
	if err != nil {
		return err
	}

	now := s.now()
	rec.run.Status = model.RunComplete
	rec.run.Progress = 100
	rec.run.RiskLevel = summary.RiskLevel
	rec.run.AdverseFindings = summary.AdverseFindings
	rec.run.Recommendation = summary.Recommendation
	if summary.EntityMatchStats != nil {
		rec.run.EntityMatchStats = *summary.EntityMatchStats
	}
	rec.run.LastUpdatedAt = now
	rec.run.CompletedAt = &now
	return nil
}

func (s *Store) MarkRunError(ctx context.Context, runID string, recommendation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.open(runID)
	if err != nil {
		return err
	}
	rec.run.Status = model.RunError
	rec.run.Recommendation = recommendation
	rec.run.LastUpdatedAt = s.now()
	return nil
}

func (s *Store) SaveRelationships(ctx context.Context, runID string, rels []model.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("save relationships for %s: %w", runID, store.ErrNotFound)
	}
	rec.relationships = slices.Clone(rels)
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*model.RunDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, store.ErrNotFound)
	}

	sources := make([]model.SourceRecord, 0, len(rec.crawl)+1)
	if rec.search != nil {
		sources = append(sources, *rec.search)
	}
	sources = append(sources, rec.crawl...)

	run := rec.run
	run.KeywordTags = slices.Clone(rec.run.KeywordTags)
	return &model.RunDetail{
		Run:           run,
		Results:       append([]model.SearchResultItem{}, rec.results...),
		Sources:       sources,
		Relationships: append([]model.Relationship{}, rec.relationships...),
	}, nil
}

func (s *Store) ListRuns(ctx context.Context, opts store.ListOptions) ([]model.SearchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.SearchRun, 0, len(s.runs))
	for _, rec := range s.runs {
		if opts.Status != "" && rec.run.Status != opts.Status {
			continue
		}
		runs = append(runs, rec.run)
	}
	slices.SortFunc(runs, func(a, b model.SearchRun) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	if opts.Offset >= len(runs) {
		return []model.SearchRun{}, nil
	}
	runs = runs[max(opts.Offset, 0):]
	if limit := store.NormalizeLimit(opts.Limit); len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("delete run %s: %w", id, store.ErrNotFound)
	}
	delete(s.runs, id)
	return nil
}

func (s *Store) Close() error {
	return nil
}

// open returns a run that still accepts pipeline writes
func (s *Store) open(runID string) (*runRecord, error) {
	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	if rec.run.Status != model.RunInProgress {
		return nil, fmt.Errorf("run %s is %s: %w", runID, rec.run.Status, store.ErrRunSealed)
	}
	return rec, nil
}
