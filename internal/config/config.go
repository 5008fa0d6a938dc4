// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (LUMEN_ prefix, runtime override)
//  2. Config file (~/.lumen/config.yaml, or path from LUMEN_CONFIG)
//  3. Default values
//
// Sensitive values (API keys, tokens, database passwords) are never logged.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation, checked with errors.Is.
var (
	// ErrMissingDatabaseURL indicates no Postgres connection URL was provided.
	ErrMissingDatabaseURL = errors.New("missing database URL")

	// ErrInvalidDatabaseURL indicates the connection URL has the wrong scheme.
	ErrInvalidDatabaseURL = errors.New("invalid database URL")

	// ErrMissingAPIKey indicates the model provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidWindow indicates a non-positive duration setting.
	ErrInvalidWindow = errors.New("invalid duration setting")

	// ErrInvalidMaxTurns indicates the agentic turn limit is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")
)

// Defaults.
const (
	// DefaultModel is the provider model used for generations.
	DefaultModel = "gemini-2.5-flash"

	// DefaultEmbedderModel is the embedding model for knowledge and memory
	// search. Output is truncated to EmbeddingDimensions.
	DefaultEmbedderModel = "gemini-embedding-001"

	// EmbeddingDimensions must match the vector(768) columns in the schema.
	EmbeddingDimensions = 768

	// DefaultListen is the default HTTP listen address.
	DefaultListen = "127.0.0.1:3900"

	// DefaultReplayWindow bounds how long after a generation finishes a
	// reconnecting client still gets the last assistant message replayed.
	// A policy heuristic, not a protocol constant; tune per deployment.
	DefaultReplayWindow = 15 * time.Second

	// DefaultGenerationBudget is the wall-clock ceiling for one generation.
	DefaultGenerationBudget = 2 * time.Minute

	// DefaultMaxTurns bounds the model→tool→model loop per generation.
	DefaultMaxTurns = 5

	// MaxAllowedTurns is the hard upper bound for the turn limit.
	MaxAllowedTurns = 25

	// DefaultRateBurst is the per-IP rate limiter burst size.
	DefaultRateBurst = 60
)

// Config holds the full application configuration.
type Config struct {
	// Listen is the HTTP listen address (host:port).
	Listen string

	// DatabaseURL is the postgres:// connection URL.
	DatabaseURL string

	// APIToken authenticates clients; requests carry it as a bearer token.
	// Empty disables authentication (local development).
	APIToken string

	// Owner is the identity attributed to authenticated requests.
	Owner string

	// GeminiAPIKey authenticates against the Gemini API.
	GeminiAPIKey string

	// Model is the generation model name.
	Model string

	// EmbedderModel is the embedding model name.
	EmbedderModel string

	// SearchEndpoint is the web search API base URL (SearxNG-compatible
	// JSON interface). Empty disables the web_search tool.
	SearchEndpoint string

	// ScholarEndpoint is the academic search API base URL. Empty disables
	// the scholar_search tool.
	ScholarEndpoint string

	// ReplayWindow is the staleness window for post-finish resume replay.
	ReplayWindow time.Duration

	// GenerationBudget is the per-generation wall-clock ceiling.
	GenerationBudget time.Duration

	// MaxTurns bounds the agentic loop.
	MaxTurns int

	// ModelRPS throttles outbound model calls, in requests per second.
	// Zero disables the throttle.
	ModelRPS float64

	// TrustProxy trusts X-Real-IP and X-Forwarded-For for client IPs.
	// Enable only behind a reverse proxy that sets them.
	TrustProxy bool

	// RateBurst is the per-IP rate limiter burst size.
	RateBurst int

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogJSON switches log output to JSON.
	LogJSON bool
}

// Load reads configuration from defaults, the config file, and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", DefaultListen)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("owner", "local")
	v.SetDefault("replay_window", DefaultReplayWindow)
	v.SetDefault("generation_budget", DefaultGenerationBudget)
	v.SetDefault("max_turns", DefaultMaxTurns)
	v.SetDefault("model_rps", 0.0)
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", DefaultRateBurst)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetEnvPrefix("LUMEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("LUMEN_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".lumen"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && os.Getenv("LUMEN_CONFIG") != "" {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Missing config file is fine; env and defaults cover everything.
	}

	cfg := &Config{
		Listen:           v.GetString("listen"),
		DatabaseURL:      v.GetString("database_url"),
		APIToken:         v.GetString("api_token"),
		Owner:            v.GetString("owner"),
		GeminiAPIKey:     v.GetString("gemini_api_key"),
		Model:            v.GetString("model"),
		EmbedderModel:    v.GetString("embedder_model"),
		SearchEndpoint:   v.GetString("search_endpoint"),
		ScholarEndpoint:  v.GetString("scholar_endpoint"),
		ReplayWindow:     v.GetDuration("replay_window"),
		GenerationBudget: v.GetDuration("generation_budget"),
		MaxTurns:         v.GetInt("max_turns"),
		ModelRPS:         v.GetFloat64("model_rps"),
		TrustProxy:       v.GetBool("trust_proxy"),
		RateBurst:        v.GetInt("rate_burst"),
		LogLevel:         v.GetString("log_level"),
		LogJSON:          v.GetBool("log_json"),
	}

	return cfg, nil
}

// ValidateServe checks the settings the serve command requires.
func (c *Config) ValidateServe() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	scheme, _, ok := strings.Cut(c.DatabaseURL, "://")
	if !ok || (scheme != "postgres" && scheme != "postgresql") {
		return fmt.Errorf("%w: scheme must be postgres://", ErrInvalidDatabaseURL)
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: set LUMEN_GEMINI_API_KEY", ErrMissingAPIKey)
	}
	if c.ReplayWindow <= 0 {
		return fmt.Errorf("%w: replay_window must be positive", ErrInvalidWindow)
	}
	if c.GenerationBudget <= 0 {
		return fmt.Errorf("%w: generation_budget must be positive", ErrInvalidWindow)
	}
	if c.MaxTurns <= 0 || c.MaxTurns > MaxAllowedTurns {
		return fmt.Errorf("%w: must be 1..%d, got %d", ErrInvalidMaxTurns, MaxAllowedTurns, c.MaxTurns)
	}
	if c.ModelRPS < 0 {
		return fmt.Errorf("%w: model_rps must not be negative", ErrInvalidWindow)
	}
	return nil
}
