// Package app wires configuration into a ready screening service: store,
// providers, pipeline, notifications and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/kycscan/internal/analyze"
	"github.com/ppiankov/kycscan/internal/cache"
	"github.com/ppiankov/kycscan/internal/fetch"
	"github.com/ppiankov/kycscan/internal/firecrawl"
	"github.com/ppiankov/kycscan/internal/llm"
	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/notify"
	"github.com/ppiankov/kycscan/internal/pipeline"
	"github.com/ppiankov/kycscan/internal/query"
	"github.com/ppiankov/kycscan/internal/search"
	"github.com/ppiankov/kycscan/internal/server"
	"github.com/ppiankov/kycscan/internal/store"
	"github.com/ppiankov/kycscan/internal/store/memory"
	"github.com/ppiankov/kycscan/internal/store/postgres"
	"github.com/ppiankov/kycscan/internal/store/sqlite"
	"github.com/ppiankov/kycscan/internal/util"
	"github.com/ppiankov/kycscan/internal/validate"
)

const memoryCacheTTL = time.Hour

// App is a fully wired screening service
type App struct {
	Config     model.Config
	Logger     *slog.Logger
	Store      store.Store
	Builder    *query.Builder
	Categories []query.Category
	Search     search.Provider
	Pipeline   *pipeline.Pipeline
	Publisher  notify.Publisher
}

// New builds every component from cfg. Close releases what it opened.
func New(ctx context.Context, cfg model.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	builder, categories, err := LoadKeywords(cfg.Keywords)
	if err != nil {
		return nil, err
	}

	searcher, err := firecrawl.New(firecrawl.Config{
		APIKey:  cfg.Search.APIKey,
		BaseURL: cfg.Search.BaseURL,
		Timeout: time.Duration(cfg.Search.Timeout) * time.Second,
		Proxy:   proxyFunc(cfg.Scrape),
	})
	if err != nil {
		return nil, fmt.Errorf("search provider: %w", err)
	}

	scraper, err := newScraper(cfg)
	if err != nil {
		return nil, fmt.Errorf("scrape provider: %w", err)
	}
	var fetchOpts []fetch.Option
	if cfg.Cache.Enabled {
		ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
		pages := cache.NewLayeredCache(min(memoryCacheTTL, ttl), filepath.Join(cfg.Cache.Dir, "pages"), ttl)
		fetchOpts = append(fetchOpts, fetch.WithCache(pages, ttl))
	}
	fetcher := fetch.New(scraper, logger, fetchOpts...)

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM, cfg.Scrape))
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	publisher, err := newPublisher(cfg.Notify, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p := pipeline.New(pipeline.Deps{
		Builder:    builder,
		Search:     searcher,
		Fetcher:    fetcher,
		Analyzer:   analyze.New(provider, logger),
		Store:      st,
		Classifier: validate.NewSourceClassifier(&cfg.Authority),
		Publisher:  publisher,
		Logger:     logger,
	}, cfg.Pipeline)

	logger.Debug("app ready",
		"search", cfg.Search.Provider,
		"scrape", cfg.Scrape.Provider,
		"llm", provider.Name(),
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Enabled,
	)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Builder:    builder,
		Categories: categories,
		Search:     searcher,
		Pipeline:   p,
		Publisher:  publisher,
	}, nil
}

// Server returns the HTTP API over this app
func (a *App) Server() *server.Server {
	return server.New(server.Options{
		Streamer:      a.Pipeline,
		Search:        a.Search,
		Store:         a.Store,
		Builder:       a.Builder,
		Categories:    a.Categories,
		FallbackLimit: a.Config.Search.FallbackLimit,
		Metrics:       a.Config.Metrics.Enabled,
		Logger:        a.Logger,
	})
}

// Close flushes the publisher and closes the store
func (a *App) Close() error {
	return errors.Join(a.Publisher.Close(), a.Store.Close())
}

// OpenStore opens the backend named by cfg.Driver
func OpenStore(ctx context.Context, cfg model.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		if cfg.DSN != ":memory:" && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		st, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case "postgres":
		st, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

func newScraper(cfg model.Config) (fetch.Scraper, error) {
	switch cfg.Scrape.Provider {
	case "direct":
		return fetch.NewDirectScraper(cfg.Scrape)
	default:
		return firecrawl.New(firecrawl.Config{
			APIKey:  cfg.Search.APIKey,
			BaseURL: cfg.Search.BaseURL,
			Timeout: time.Duration(cfg.Scrape.Timeout) * time.Second,
			Proxy:   proxyFunc(cfg.Scrape),
		})
	}
}

func proxyFunc(cfg model.ScrapeConfig) func(*http.Request) (*url.URL, error) {
	return util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)
}

func newPublisher(cfg model.NotifyConfig, logger *slog.Logger) (notify.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return notify.Nop{}, nil
	}
	p, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.Topic, logger)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	return p, nil
}

// LoadKeywords returns the built-in dictionary or the configured file
func LoadKeywords(cfg model.KeywordsConfig) (*query.Builder, []query.Category, error) {
	if cfg.DictionaryFile == "" {
		return query.NewBuilder(nil), query.DefaultCategories(), nil
	}
	dict, categories, err := query.LoadDictionary(cfg.DictionaryFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load keyword dictionary: %w", err)
	}
	return query.NewBuilder(dict), categories, nil
}
