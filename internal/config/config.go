// Package config loads the typed application configuration from viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Plaid      PlaidConfig
	LLM        LLMConfig
	Vision     VisionConfig
	Database   DatabaseConfig
	Ledger     LedgerConfig
	Merchant   MerchantConfig
	Classifier ClassifierConfig
	Watch      WatchConfig
	Extraction ExtractionConfig
	Breaker    BreakerConfig
	Matching   MatchingConfig
	Dedup      DedupConfig
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// ExtractionConfig controls the provider fallback chain.
type ExtractionConfig struct {
	Providers          []string
	ProviderTimeout    time.Duration
	PipelineTimeout    time.Duration
	CacheMinConfidence float64
	Concurrency        int
}

// BreakerConfig controls per-provider circuit breaking.
type BreakerConfig struct {
	Window           time.Duration
	Cooldown         time.Duration
	FailureThreshold int
}

// LLMConfig holds credentials for the vision-capable LLM providers.
type LLMConfig struct {
	AnthropicKey   string
	AnthropicModel string
	OpenAIKey      string
	OpenAIModel    string
	RateLimit      int
}

// VisionConfig holds Google Cloud Vision credentials.
type VisionConfig struct {
	CredentialsPath string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
}

// Enabled reports whether any Vision authentication method is configured.
func (v VisionConfig) Enabled() bool {
	return v.CredentialsPath != "" || (v.ClientID != "" && v.ClientSecret != "" && v.RefreshToken != "")
}

// MatchingConfig holds the match decision thresholds.
type MatchingConfig struct {
	AutoMatchThreshold float64
	ReviewThreshold    float64
	CollisionMargin    float64
	MaxAlternates      int
}

// DedupConfig holds the duplicate detection thresholds.
type DedupConfig struct {
	AcceptanceThreshold   float64
	MaxHammingDistance    int
	TextSimilarityMinimum float64
}

// ClassifierConfig holds classifier thresholds and the optional rules file.
type ClassifierConfig struct {
	RulesPath       string
	ReviewFloor     float64
	AmbiguityMargin float64
}

// MerchantConfig holds normalizer settings and the optional chain table file.
type MerchantConfig struct {
	ChainsPath     string
	FuzzyThreshold float64
}

// LedgerConfig selects where transaction candidates come from.
type LedgerConfig struct {
	PostgresDSN string
	WindowDays  int
}

// PlaidConfig holds Plaid API credentials.
type PlaidConfig struct {
	ClientID    string
	Secret      string
	Environment string
	AccessToken string
}

// WatchConfig controls scheduled ingestion of a drop directory.
type WatchConfig struct {
	Schedule string
}

// SetDefaults registers every default with viper.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/receipts/receipts.db")

	v.SetDefault("extraction.providers", []string{"anthropic", "openai", "vision", "html", "text"})
	v.SetDefault("extraction.provider_timeout", 30*time.Second)
	v.SetDefault("extraction.pipeline_timeout", 2*time.Minute)
	v.SetDefault("extraction.cache_min_confidence", 0.3)
	v.SetDefault("extraction.concurrency", 4)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.window", time.Minute)
	v.SetDefault("breaker.cooldown", 5*time.Minute)

	v.SetDefault("llm.anthropic_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.openai_model", "gpt-4o")
	v.SetDefault("llm.rate_limit", 50)

	v.SetDefault("matching.auto_match_threshold", 0.75)
	v.SetDefault("matching.review_threshold", 0.50)
	v.SetDefault("matching.collision_margin", 0.05)
	v.SetDefault("matching.max_alternates", 3)

	v.SetDefault("dedup.acceptance_threshold", 0.85)
	v.SetDefault("dedup.max_hamming_distance", 8)
	v.SetDefault("dedup.text_similarity_minimum", 0.85)

	v.SetDefault("classifier.review_floor", 0.60)
	v.SetDefault("classifier.ambiguity_margin", 0.05)

	v.SetDefault("merchant.fuzzy_threshold", 0.8)

	v.SetDefault("ledger.window_days", 14)

	v.SetDefault("plaid.environment", "sandbox")

	v.SetDefault("watch.schedule", "@every 15m")
}

// Load builds a Config from the given viper instance. Credentials that are
// missing from viper fall back to the conventional vendor environment variables.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		Database: DatabaseConfig{Path: ExpandPath(v.GetString("database.path"))},
		Extraction: ExtractionConfig{
			Providers:          v.GetStringSlice("extraction.providers"),
			ProviderTimeout:    v.GetDuration("extraction.provider_timeout"),
			PipelineTimeout:    v.GetDuration("extraction.pipeline_timeout"),
			CacheMinConfidence: v.GetFloat64("extraction.cache_min_confidence"),
			Concurrency:        v.GetInt("extraction.concurrency"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: v.GetInt("breaker.failure_threshold"),
			Window:           v.GetDuration("breaker.window"),
			Cooldown:         v.GetDuration("breaker.cooldown"),
		},
		LLM: LLMConfig{
			AnthropicKey:   firstNonEmpty(v.GetString("llm.anthropic_key"), os.Getenv("ANTHROPIC_API_KEY")),
			AnthropicModel: v.GetString("llm.anthropic_model"),
			OpenAIKey:      firstNonEmpty(v.GetString("llm.openai_key"), os.Getenv("OPENAI_API_KEY")),
			OpenAIModel:    v.GetString("llm.openai_model"),
			RateLimit:      v.GetInt("llm.rate_limit"),
		},
		Vision: VisionConfig{
			CredentialsPath: ExpandPath(firstNonEmpty(v.GetString("vision.credentials_path"), os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))),
			ClientID:        v.GetString("vision.client_id"),
			ClientSecret:    v.GetString("vision.client_secret"),
			RefreshToken:    v.GetString("vision.refresh_token"),
		},
		Matching: MatchingConfig{
			AutoMatchThreshold: v.GetFloat64("matching.auto_match_threshold"),
			ReviewThreshold:    v.GetFloat64("matching.review_threshold"),
			CollisionMargin:    v.GetFloat64("matching.collision_margin"),
			MaxAlternates:      v.GetInt("matching.max_alternates"),
		},
		Dedup: DedupConfig{
			AcceptanceThreshold:   v.GetFloat64("dedup.acceptance_threshold"),
			MaxHammingDistance:    v.GetInt("dedup.max_hamming_distance"),
			TextSimilarityMinimum: v.GetFloat64("dedup.text_similarity_minimum"),
		},
		Classifier: ClassifierConfig{
			RulesPath:       ExpandPath(v.GetString("classifier.rules_path")),
			ReviewFloor:     v.GetFloat64("classifier.review_floor"),
			AmbiguityMargin: v.GetFloat64("classifier.ambiguity_margin"),
		},
		Merchant: MerchantConfig{
			ChainsPath:     ExpandPath(v.GetString("merchant.chains_path")),
			FuzzyThreshold: v.GetFloat64("merchant.fuzzy_threshold"),
		},
		Ledger: LedgerConfig{
			PostgresDSN: firstNonEmpty(v.GetString("ledger.postgres_dsn"), os.Getenv("RECEIPTS_LEDGER_DSN")),
			WindowDays:  v.GetInt("ledger.window_days"),
		},
		Plaid: PlaidConfig{
			ClientID:    firstNonEmpty(v.GetString("plaid.client_id"), os.Getenv("PLAID_CLIENT_ID")),
			Secret:      firstNonEmpty(v.GetString("plaid.secret"), os.Getenv("PLAID_SECRET")),
			Environment: v.GetString("plaid.environment"),
			AccessToken: firstNonEmpty(v.GetString("plaid.access_token"), os.Getenv("PLAID_ACCESS_TOKEN")),
		},
		Watch: WatchConfig{Schedule: v.GetString("watch.schedule")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if c.Extraction.ProviderTimeout <= 0 || c.Extraction.PipelineTimeout <= 0 {
		return fmt.Errorf("%w: extraction timeouts must be positive", common.ErrInvalidConfig)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("%w: breaker.failure_threshold must be at least 1", common.ErrInvalidConfig)
	}

	unit := map[string]float64{
		"extraction.cache_min_confidence": c.Extraction.CacheMinConfidence,
		"matching.auto_match_threshold":   c.Matching.AutoMatchThreshold,
		"matching.review_threshold":       c.Matching.ReviewThreshold,
		"matching.collision_margin":       c.Matching.CollisionMargin,
		"dedup.acceptance_threshold":      c.Dedup.AcceptanceThreshold,
		"dedup.text_similarity_minimum":   c.Dedup.TextSimilarityMinimum,
		"classifier.review_floor":         c.Classifier.ReviewFloor,
		"classifier.ambiguity_margin":     c.Classifier.AmbiguityMargin,
		"merchant.fuzzy_threshold":        c.Merchant.FuzzyThreshold,
	}
	for key, value := range unit {
		if value < 0 || value > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1, got %v", common.ErrInvalidConfig, key, value)
		}
	}

	if c.Matching.ReviewThreshold > c.Matching.AutoMatchThreshold {
		return fmt.Errorf("%w: matching.review_threshold exceeds auto_match_threshold", common.ErrInvalidConfig)
	}
	if c.Dedup.MaxHammingDistance < 0 || c.Dedup.MaxHammingDistance > 64 {
		return fmt.Errorf("%w: dedup.max_hamming_distance must be between 0 and 64", common.ErrInvalidConfig)
	}
	if c.Ledger.WindowDays < 1 {
		return fmt.Errorf("%w: ledger.window_days must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return os.ExpandEnv(path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
