package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/kycscan/internal/firecrawl"
	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/notify"
	"github.com/ppiankov/kycscan/internal/store/memory"
	"github.com/ppiankov/kycscan/internal/store/sqlite"
)

func testConfig(t *testing.T) model.Config {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Search.APIKey = "fc-test"
	cfg.LLM.Provider = "ollama"
	cfg.Store.Driver = "memory"
	cfg.Cache.Dir = t.TempDir()
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_WiresServer(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	if _, ok := a.Store.(*memory.Store); !ok {
		t.Errorf("store = %T, want *memory.Store", a.Store)
	}
	if _, ok := a.Publisher.(notify.Nop); !ok {
		t.Errorf("publisher = %T, want notify.Nop without brokers", a.Publisher)
	}

	rec := httptest.NewRecorder()
	a.Server().Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.APIKey = ""
	if _, err := New(context.Background(), cfg, discardLogger()); !errors.Is(err, firecrawl.ErrMissingAPIKey) {
		t.Errorf("missing key: err = %v, want ErrMissingAPIKey", err)
	}

	cfg = testConfig(t)
	cfg.Store.Driver = "mongo"
	if _, err := New(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("unknown driver: expected error")
	}

	cfg = testConfig(t)
	cfg.LLM.Provider = "gemini"
	if _, err := New(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("unknown llm provider: expected error")
	}
}

func TestOpenStore_SQLiteCreatesDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "kycscan.db")

	st, err := OpenStore(context.Background(), model.StoreConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer func() { _ = st.Close() }()

	if _, ok := st.(*sqlite.Store); !ok {
		t.Errorf("store = %T, want *sqlite.Store", st)
	}
	if _, err := os.Stat(filepath.Dir(dsn)); err != nil {
		t.Errorf("store directory not created: %v", err)
	}
}

func TestLoadKeywords(t *testing.T) {
	builder, categories, err := LoadKeywords(model.KeywordsConfig{})
	if err != nil {
		t.Fatalf("default keywords: %v", err)
	}
	if builder.Dictionary()["corruption"] != "korruption" || len(categories) == 0 {
		t.Errorf("default keywords not loaded")
	}

	path := filepath.Join(t.TempDir(), "keywords.yaml")
	if err := os.WriteFile(path, []byte("tags:\n  fraud: fraud\n  sanctions: sanctions\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	builder, categories, err = LoadKeywords(model.KeywordsConfig{DictionaryFile: path})
	if err != nil {
		t.Fatalf("file keywords: %v", err)
	}
	if len(builder.Dictionary()) != 2 || len(categories) != 1 {
		t.Errorf("dictionary = %v, categories = %v", builder.Dictionary(), categories)
	}

	if _, _, err := LoadKeywords(model.KeywordsConfig{DictionaryFile: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("missing dictionary: expected error")
	}
}
