// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/visibility-gap/internal/pipeline"
)

// Config represents the configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults, environment variables or CLI flags.
type Config struct {
	// Connections
	DatabaseURL     string `json:"database_url,omitempty"`      // PostgreSQL connection URL
	RedisURL        string `json:"redis_url,omitempty"`         // Redis URL for the classification cache
	ProviderBaseURL string `json:"provider_base_url,omitempty"` // Upstream visibility API
	ProviderAPIKey  string `json:"provider_api_key,omitempty"`  // Bearer token for the upstream API

	// Remote classification
	LLMProvider  string `json:"llm_provider,omitempty"`   // "gemini" or "openai"
	GeminiAPIKey string `json:"gemini_api_key,omitempty"` // Gemini API key
	OpenAIAPIKey string `json:"openai_api_key,omitempty"` // OpenAI API key
	Brand        string `json:"brand,omitempty"`          // Analyzed brand, used as prompt context
	Niche        string `json:"niche,omitempty"`          // Market niche, used as prompt context

	// Polling
	SearchPollInterval   Duration `json:"search_poll_interval,omitempty"`
	CitationPollInterval Duration `json:"citation_poll_interval,omitempty"`
	GapPollInterval      Duration `json:"gap_poll_interval,omitempty"`
	PhaseTimeout         Duration `json:"phase_timeout,omitempty"`
	MaxPollErrors        int      `json:"max_poll_errors,omitempty"`

	// Classification
	ClassifyBatchSize int      `json:"classify_batch_size,omitempty"`
	CacheTTL          Duration `json:"cache_ttl,omitempty"`

	// Link checking
	LinkCheckConcurrency int      `json:"link_check_concurrency,omitempty"`
	LinkCheckTimeout     Duration `json:"link_check_timeout,omitempty"`
	// LocalLinkCheck validates citation URLs locally instead of through the upstream API.
	LocalLinkCheck bool `json:"local_link_check,omitempty"`

	// Cost estimation overrides, keyed by provider name.
	ProviderRates map[string]pipeline.ProviderRate `json:"provider_rates,omitempty"`

	Verbose bool `json:"verbose,omitempty"` // Print detailed debug information
}

// Duration is a time.Duration that reads "3s"-style strings from JSON.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() Config {
	p := pipeline.DefaultConfig()
	return Config{
		LLMProvider:          "gemini",
		SearchPollInterval:   Duration(p.SearchPollInterval),
		CitationPollInterval: Duration(p.CitationPollInterval),
		GapPollInterval:      Duration(p.GapPollInterval),
		PhaseTimeout:         Duration(p.PhaseTimeout),
		MaxPollErrors:        p.MaxPollErrors,
		ClassifyBatchSize:    50,
		CacheTTL:             Duration(30 * 24 * time.Hour),
		LinkCheckConcurrency: 8,
		LinkCheckTimeout:     Duration(10 * time.Second),
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv returns a copy of c with values from environment variables applied on top.
// Unparseable numeric or duration variables are ignored.
func (c *Config) FromEnv() Config {
	result := *c

	setString(&result.DatabaseURL, "DATABASE_URL")
	setString(&result.RedisURL, "REDIS_URL")
	setString(&result.ProviderBaseURL, "PROVIDER_BASE_URL")
	setString(&result.ProviderAPIKey, "PROVIDER_API_KEY")
	setString(&result.LLMProvider, "LLM_PROVIDER")
	setString(&result.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&result.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&result.Brand, "BRAND")
	setString(&result.Niche, "NICHE")

	setDuration(&result.SearchPollInterval, "POLL_INTERVAL_SEARCH")
	setDuration(&result.CitationPollInterval, "POLL_INTERVAL_CITATION")
	setDuration(&result.GapPollInterval, "POLL_INTERVAL_GAP")
	setDuration(&result.PhaseTimeout, "PHASE_TIMEOUT")
	setDuration(&result.CacheTTL, "CLASSIFICATION_CACHE_TTL")

	setInt(&result.MaxPollErrors, "MAX_POLL_ERRORS")
	setInt(&result.ClassifyBatchSize, "CLASSIFY_BATCH_SIZE")
	setInt(&result.LinkCheckConcurrency, "LINK_CHECK_CONCURRENCY")

	if v, ok := os.LookupEnv("LOCAL_LINK_CHECK"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			result.LocalLinkCheck = b
		}
	}
	return result
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those depend on the command being run.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLMProvider) {
	case "", "gemini", "openai":
	default:
		return fmt.Errorf("config error: 'llm_provider' must be gemini or openai, got %q", c.LLMProvider)
	}

	durations := map[string]Duration{
		"search_poll_interval":   c.SearchPollInterval,
		"citation_poll_interval": c.CitationPollInterval,
		"gap_poll_interval":      c.GapPollInterval,
		"phase_timeout":          c.PhaseTimeout,
		"cache_ttl":              c.CacheTTL,
		"link_check_timeout":     c.LinkCheckTimeout,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("config error: '%s' must be non-negative", name)
		}
	}
	if c.PhaseTimeout > 0 && c.SearchPollInterval > 0 && c.PhaseTimeout < c.SearchPollInterval {
		return fmt.Errorf("config error: 'phase_timeout' must be longer than the poll interval")
	}

	if c.MaxPollErrors < 0 {
		return fmt.Errorf("config error: 'max_poll_errors' must be non-negative")
	}
	if c.ClassifyBatchSize < 0 {
		return fmt.Errorf("config error: 'classify_batch_size' must be non-negative")
	}
	if c.LinkCheckConcurrency < 0 {
		return fmt.Errorf("config error: 'link_check_concurrency' must be non-negative")
	}

	for name, rate := range c.ProviderRates {
		if rate.InputPerMTok < 0 || rate.OutputPerMTok < 0 || rate.InputTokensPerPrompt < 0 || rate.OutputTokensPerPrompt < 0 {
			return fmt.Errorf("config error: provider rate for %q must be non-negative", name)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	mergeString(&result.DatabaseURL, defaults.DatabaseURL)
	mergeString(&result.RedisURL, defaults.RedisURL)
	mergeString(&result.ProviderBaseURL, defaults.ProviderBaseURL)
	mergeString(&result.ProviderAPIKey, defaults.ProviderAPIKey)
	mergeString(&result.LLMProvider, defaults.LLMProvider)
	mergeString(&result.GeminiAPIKey, defaults.GeminiAPIKey)
	mergeString(&result.OpenAIAPIKey, defaults.OpenAIAPIKey)
	mergeString(&result.Brand, defaults.Brand)
	mergeString(&result.Niche, defaults.Niche)

	// Durations and ints: use default if zero
	mergeDuration(&result.SearchPollInterval, defaults.SearchPollInterval)
	mergeDuration(&result.CitationPollInterval, defaults.CitationPollInterval)
	mergeDuration(&result.GapPollInterval, defaults.GapPollInterval)
	mergeDuration(&result.PhaseTimeout, defaults.PhaseTimeout)
	mergeDuration(&result.CacheTTL, defaults.CacheTTL)
	mergeDuration(&result.LinkCheckTimeout, defaults.LinkCheckTimeout)
	if result.MaxPollErrors == 0 {
		result.MaxPollErrors = defaults.MaxPollErrors
	}
	if result.ClassifyBatchSize == 0 {
		result.ClassifyBatchSize = defaults.ClassifyBatchSize
	}
	if result.LinkCheckConcurrency == 0 {
		result.LinkCheckConcurrency = defaults.LinkCheckConcurrency
	}

	if len(defaults.ProviderRates) > 0 {
		merged := make(map[string]pipeline.ProviderRate, len(defaults.ProviderRates)+len(result.ProviderRates))
		for k, v := range defaults.ProviderRates {
			merged[k] = v
		}
		for k, v := range result.ProviderRates {
			merged[k] = v
		}
		result.ProviderRates = merged
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// Pipeline returns the orchestrator polling configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		SearchPollInterval:   c.SearchPollInterval.Std(),
		CitationPollInterval: c.CitationPollInterval.Std(),
		GapPollInterval:      c.GapPollInterval.Std(),
		PhaseTimeout:         c.PhaseTimeout.Std(),
		MaxPollErrors:        c.MaxPollErrors,
	}
}

// CostTable returns the default unit costs with the configured overrides applied.
func (c *Config) CostTable() pipeline.CostTable {
	return pipeline.DefaultCostTable().Merge(c.ProviderRates)
}

// LLMAPIKey returns the API key of the configured LLM provider.
func (c *Config) LLMAPIKey() string {
	if strings.EqualFold(c.LLMProvider, "openai") {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func mergeString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func mergeDuration(dst *Duration, def Duration) {
	if *dst == 0 {
		*dst = def
	}
}
