// Package store defines the persistence adapter for screening runs.
// Backends live in the memory, sqlite and postgres subpackages.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ppiankov/kycscan/internal/model"
)

var (
	// ErrNotFound is returned when a run does not exist
	ErrNotFound = errors.New("run not found")
	// ErrRunSealed is returned when a write targets a run that can no longer change
	ErrRunSealed = errors.New("run is sealed")
)

// ListOptions filters and pages the run list
type ListOptions struct {
	Limit  int
	Offset int
	Status model.RunStatus // Empty means any
}

// DefaultListLimit applies when ListOptions.Limit is zero
const DefaultListLimit = 50

// Store persists runs, their results and their audit trail.
//
// Writes to one run come from a single pipeline at a time. Results are
// append-only and unique by URL within a run, so every write is safe to retry.
type Store interface {
	// CreateOrUpdateRun upserts the run header and returns its ID. An empty
	// id allocates a new one. Placeholder risk fields are written only on
	// creation. A run in error state is reopened; a complete run is sealed.
	CreateOrUpdateRun(ctx context.Context, id string, identity model.Identity, keywords []string) (string, error)

	// SavePartialResults inserts results and crawl sources whose URL is not
	// yet stored, raises the stored progress and records the search source
	// once. It returns the number of inserted results.
	SavePartialResults(ctx context.Context, runID string, results []model.SearchResultItem, sources model.Sources, progress int) (int, error)

	// FinalizeRun writes the summary and marks the run complete
	FinalizeRun(ctx context.Context, runID string, summary model.Summary) error

	// MarkRunError marks an in-progress run as failed
	MarkRunError(ctx context.Context, runID string, recommendation string) error

	GetRun(ctx context.Context, id string) (*model.RunDetail, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]model.SearchRun, error)

	// DeleteRun removes the run and everything recorded for it
	DeleteRun(ctx context.Context, id string) error

	Close() error
}

// RelationshipStore is implemented by backends that can persist the
// relationships found during a run. A save replaces the run's previous set.
type RelationshipStore interface {
	SaveRelationships(ctx context.Context, runID string, rels []model.Relationship) error
}

// Pinger is implemented by backends with a remote connection to check
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRunID allocates a run identifier
func NewRunID() string {
	return uuid.NewString()
}

// NewResults filters results down to those whose URL is not in stored,
// dropping repeats within the batch. stored is updated with the kept URLs.
func NewResults(results []model.SearchResultItem, stored map[string]bool) []model.SearchResultItem {
	out := make([]model.SearchResultItem, 0, len(results))
	for _, r := range results {
		if r.URL == "" || stored[r.URL] {
			continue
		}
		stored[r.URL] = true
		out = append(out, r)
	}
	return out
}

// NewCrawl filters crawl records down to URLs not in stored, the same way
// NewResults does for results. stored is updated with the kept URLs.
// The key is the URL alone, so a resumed run re-fetching a URL keeps the
// record of the first attempt.
func NewCrawl(crawl []model.SourceRecord, stored map[string]bool) []model.SourceRecord {
	out := make([]model.SourceRecord, 0, len(crawl))
	for _, c := range crawl {
		if stored[c.URL] {
			continue
		}
		stored[c.URL] = true
		out = append(out, c)
	}
	return out
}

// HasSearch reports whether sources carry a search step worth recording
func HasSearch(sources model.Sources) bool {
	return sources.Search.Query != ""
}

// NormalizeLimit applies the default and a ceiling to a list limit
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > 500:
		return 500
	}
	return limit
}
