package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/store"
	"github.com/ppiankov/kycscan/internal/store/storetest"
)

var dbSeq atomic.Int64

// newMemoryStore opens a private in-memory database per call
func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:kycscan-test-%d?mode=memory&cache=shared", dbSeq.Add(1))
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newMemoryStore(t)
	})
}

func TestSQLiteStore_FilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kycscan.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id, err := s.CreateOrUpdateRun(ctx, "", model.Identity{IndividualName: "Jane Doe"}, []string{"fraud"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	d, err := reopened.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
	if d.Run.IndividualName != "Jane Doe" || d.Run.KeywordTags[0] != "fraud" {
		t.Errorf("run = %+v", d.Run)
	}
	if err := reopened.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestSQLiteStore_RawDataRoundTrip(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	id, _ := s.CreateOrUpdateRun(ctx, "", model.Identity{IndividualName: "Jane Doe"}, nil)

	item := model.Placeholder(model.SearchHit{URL: "https://a.se", Title: "A"})
	item.Status = model.ResultComplete
	item.RawSearchData = []byte(`{"url":"https://a.se","title":"A"}`)
	item.RawCrawlData = []byte(`{"success":false,"error":"timeout"}`)

	if _, err := s.SavePartialResults(ctx, id, []model.SearchResultItem{item}, model.Sources{}, 50); err != nil {
		t.Fatalf("save: %v", err)
	}
	d, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got := d.Results[0]
	if string(got.RawCrawlData) != `{"success":false,"error":"timeout"}` {
		t.Errorf("raw crawl = %s", got.RawCrawlData)
	}
	if got.EntityMatch != nil {
		t.Errorf("placeholder entity match should stay nil, got %+v", got.EntityMatch)
	}
	if got.Description != "No description" {
		t.Errorf("description = %q", got.Description)
	}
}
