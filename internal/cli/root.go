package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/kycscan/internal/app"
	"github.com/ppiankov/kycscan/internal/logging"
	"github.com/ppiankov/kycscan/internal/model"
)

var version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kycscan",
	Short: "kycscan - adverse media screening for KYC",
	Long: `kycscan screens a person, optionally tied to a company, against web
news and public records for adverse media.

Each run searches the web, fetches the top results, asks a language model
whether each page is about the target and what adverse content it holds,
and aggregates the findings into a risk level and recommendation. Runs are
saved as they progress and can be reviewed later.

kycscan supports a compliance analyst; it does not make the decision.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kycscan v%s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.kycscan/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if err := registerDefaults(); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering config defaults: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".kycscan"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	bindEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// bindEnv maps KYCSCAN_* variables onto config keys, e.g.
// KYCSCAN_LLM_MODEL overrides llm.model
func bindEnv() {
	viper.SetEnvPrefix("KYCSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// Keys without a default are invisible to Unmarshal unless bound
	for _, key := range []string{"search.api_key", "search.base_url", "llm.api_key", "llm.base_url", "log.file", "notify.kafka_brokers", "keywords.dictionary_file"} {
		_ = viper.BindEnv(key)
	}
}

// registerDefaults exposes every default to viper so env overrides reach
// nested keys on Unmarshal
func registerDefaults() error {
	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return err
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return err
	}
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
	return nil
}

// loadConfig merges defaults, config file and environment
func loadConfig() (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyProviderEnv(&cfg)
	return cfg, nil
}

// applyProviderEnv fills credentials from the providers' own variables
// when the config leaves them empty
func applyProviderEnv(cfg *model.Config) {
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("FIRECRAWL_API_KEY")
	}
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Provider) {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == "ollama" {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
}

func newLogger(cfg model.Config) (*slog.Logger, io.Closer, error) {
	if verbose {
		cfg.Log.Level = "debug"
	}
	return logging.New(cfg.Log)
}

// withApp loads config, builds the app and runs fn with it
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close: %w", closeErr)
		}
	}()
	return fn(ctx, a)
}
