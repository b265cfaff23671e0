package postgres

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/ppiankov/kycscan/internal/store"
	"github.com/ppiankov/kycscan/internal/store/storetest"
)

func TestPostgresStore(t *testing.T) {
	// Only run this test if KYCSCAN_TEST_PG_DSN is set
	dsn := os.Getenv("KYCSCAN_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres store test: KYCSCAN_TEST_PG_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := New(ctx, dsn)
		if err != nil {
			t.Fatalf("Failed to create Postgres store: %v", err)
		}
		if _, err := s.pool.Exec(ctx, `TRUNCATE search_runs CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}
	data, err := migrationFS.ReadFile("migrations/" + entries[0].Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
		if !strings.Contains(string(data), marker) {
			t.Errorf("migration %s lacks %q", entries[0].Name(), marker)
		}
	}
}

