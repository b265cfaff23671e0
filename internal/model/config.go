package model

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the complete kycscan configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Keywords  KeywordsConfig  `yaml:"keywords" mapstructure:"keywords"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Authority AuthorityConfig `yaml:"authority" mapstructure:"authority"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Addr            string `yaml:"addr" mapstructure:"addr"`
	ReadTimeout     int    `yaml:"read_timeout" mapstructure:"read_timeout"`         // Seconds
	ShutdownTimeout int    `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"` // Seconds
}

// SearchConfig selects the web search provider
type SearchConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // firecrawl
	APIKey        string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL       string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout       int    `yaml:"timeout" mapstructure:"timeout"` // Seconds
	FallbackLimit int    `yaml:"fallback_limit" mapstructure:"fallback_limit"`
}

// ScrapeConfig selects and tunes the content scraper
type ScrapeConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"` // firecrawl, direct
	Timeout           int     `yaml:"timeout" mapstructure:"timeout"`   // Seconds
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBytes          int64   `yaml:"max_bytes" mapstructure:"max_bytes"`
	Fingerprint       string  `yaml:"fingerprint" mapstructure:"fingerprint"` // chrome, firefox, safari, go, random
	RespectRobots     bool    `yaml:"respect_robots" mapstructure:"respect_robots"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	HTTPProxy         string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`

	// Requests per second for single hosts, overriding requests_per_second
	HostRates map[string]float64 `yaml:"host_rates,omitempty" mapstructure:"host_rates"`
}

// LLMConfig selects the language model used for analysis
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // Seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig tunes the orchestrator
type PipelineConfig struct {
	SearchLimit int `yaml:"search_limit" mapstructure:"search_limit"` // Top-N hits analyzed per run
	SaveEvery   int `yaml:"save_every" mapstructure:"save_every"`     // Partial save interval in results
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, memory
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// CacheConfig controls caching of scraped pages
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// KeywordsConfig points at an alternate keyword dictionary
type KeywordsConfig struct {
	DictionaryFile string `yaml:"dictionary_file,omitempty" mapstructure:"dictionary_file"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format     string `yaml:"format" mapstructure:"format"` // text, json
	File       string `yaml:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// NotifyConfig enables run-completed events
type NotifyConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty" mapstructure:"kafka_brokers"`
	Topic        string   `yaml:"topic" mapstructure:"topic"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// AuthorityConfig overrides source tier classification.
// Configured domains are added to the built-in lists; DomainMap wins over both.
type AuthorityConfig struct {
	PrimaryDomains   []string          `yaml:"primary_domains,omitempty" mapstructure:"primary_domains"`
	SecondaryDomains []string          `yaml:"secondary_domains,omitempty" mapstructure:"secondary_domains"`
	DomainMap        map[string]string `yaml:"domain_map,omitempty" mapstructure:"domain_map"` // host -> primary|secondary|tertiary
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".kycscan")

	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15,
			ShutdownTimeout: 30,
		},
		Search: SearchConfig{
			Provider:      "firecrawl",
			Timeout:       30,
			FallbackLimit: 3,
		},
		Scrape: ScrapeConfig{
			Provider:          "firecrawl",
			Timeout:           45,
			UserAgent:         "kycscan/0.1 (+https://github.com/ppiankov/kycscan)",
			MaxBytes:          2_000_000,
			Fingerprint:       "go",
			RespectRobots:     true,
			RequestsPerSecond: 1,
			Burst:             2,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o",
			Timeout:   60,
			MaxTokens: 1500,
		},
		Pipeline: PipelineConfig{
			SearchLimit: 5,
			SaveEvery:   2,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dataDir, "kycscan.db"),
		},
		Cache: CacheConfig{
			Enabled:  true,
			Dir:      filepath.Join(dataDir, "cache"),
			TTLHours: 24,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Notify: NotifyConfig{
			Topic: "kycscan.runs",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks provider and driver names
func (c Config) Validate() error {
	switch c.Search.Provider {
	case "firecrawl":
	default:
		return fmt.Errorf("unknown search provider: %s (supported: firecrawl)", c.Search.Provider)
	}

	switch c.Scrape.Provider {
	case "firecrawl", "direct":
	default:
		return fmt.Errorf("unknown scrape provider: %s (supported: firecrawl, direct)", c.Scrape.Provider)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver: %s (supported: sqlite, postgres, memory)", c.Store.Driver)
	}

	if c.Pipeline.SearchLimit <= 0 {
		return fmt.Errorf("pipeline.search_limit must be positive, got %d", c.Pipeline.SearchLimit)
	}
	if c.Pipeline.SaveEvery <= 0 {
		return fmt.Errorf("pipeline.save_every must be positive, got %d", c.Pipeline.SaveEvery)
	}
	return nil
}
