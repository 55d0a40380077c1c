package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/visibility-gap/internal/cache"
	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/config"
	"github.com/jonathan/visibility-gap/internal/db"
	"github.com/jonathan/visibility-gap/internal/linkcheck"
	"github.com/jonathan/visibility-gap/internal/llm"
	"github.com/jonathan/visibility-gap/internal/opportunities"
	"github.com/jonathan/visibility-gap/internal/provider"
)

// loadConfig layers defaults, the optional config file and the environment, in that order of
// increasing precedence.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		fileCfg, err := config.LoadConfig(configFile)
		if err != nil {
			return config.Config{}, err
		}
		cfg = fileCfg.MergeWithDefaults(cfg)
	}
	cfg = cfg.FromEnv()
	if verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger writes human-readable logs to stderr.
func newLogger(cfg config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

// deps holds the collaborators built from configuration. Every field may be nil when the
// corresponding connection is not configured.
type deps struct {
	cfg      config.Config
	logger   zerolog.Logger
	db       *db.DB
	provider *provider.Client
	llm      llm.Client
	closers  []func()
}

// Close releases every connection in reverse order of opening.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// connect opens the connections the configuration names. needDB and needProvider make a missing
// URL an error instead of leaving the collaborator nil.
func connect(ctx context.Context, cfg config.Config, needDB, needProvider bool) (*deps, error) {
	d := &deps{cfg: cfg, logger: newLogger(cfg)}

	if cfg.ProviderBaseURL != "" {
		client, err := provider.NewClient(cfg.ProviderBaseURL,
			provider.WithAPIKey(cfg.ProviderAPIKey),
			provider.WithLogger(d.logger),
		)
		if err != nil {
			return nil, err
		}
		d.provider = client
	} else if needProvider {
		return nil, fmt.Errorf("PROVIDER_BASE_URL is required (set it in the environment or the config file)")
	}

	if cfg.DatabaseURL != "" {
		store, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.db = store
		d.closers = append(d.closers, store.Close)
	} else if needDB {
		return nil, fmt.Errorf("DATABASE_URL is required (set it in the environment or the config file)")
	}

	if key := cfg.LLMAPIKey(); key != "" {
		client, err := llm.NewClient(ctx, llm.ConfigFor(strings.ToLower(cfg.LLMProvider)), key)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		d.llm = client
		d.closers = append(d.closers, func() { _ = client.Close() })
	}

	return d, nil
}

// resolver builds the batch classifier. The LLM classifier is preferred as the remote fallback,
// then the visibility API. Remote answers are cached in Redis when configured, otherwise in
// PostgreSQL.
func (d *deps) resolver(ctx context.Context) (*classify.Resolver, error) {
	classifier := classify.New(nil)
	opts := []classify.ResolverOption{
		classify.WithBatchSize(d.cfg.ClassifyBatchSize),
		classify.WithLogger(d.logger),
	}

	switch {
	case d.llm != nil:
		opts = append(opts, classify.WithRemote(classify.NewLLMClassifier(d.llm, d.cfg.Brand, d.cfg.Niche)))
	case d.provider != nil:
		opts = append(opts, classify.WithRemote(d.provider))
	}

	switch {
	case d.cfg.RedisURL != "":
		client, err := cache.Connect(ctx, d.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		opts = append(opts, classify.WithCache(
			cache.NewClassificationCache(client, classifier.Knowledge().Version(), d.cfg.CacheTTL.Std()),
		))
	case d.db != nil:
		opts = append(opts, classify.WithCache(d.db.Classifications(classifier.Knowledge().Version())))
	}

	return classify.NewResolver(classifier, opts...), nil
}

// urlValidator returns the citation URL filter: the local link checker when requested or when
// no visibility API is configured, the API otherwise.
func (d *deps) urlValidator() opportunities.URLValidator {
	if d.cfg.LocalLinkCheck || d.provider == nil {
		return linkcheck.New(&linkcheck.Options{
			Timeout:     d.cfg.LinkCheckTimeout.Std(),
			Concurrency: d.cfg.LinkCheckConcurrency,
		}, d.logger)
	}
	return d.provider
}

// splitList parses a comma-separated flag value, dropping blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
