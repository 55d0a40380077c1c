// Package cache stores remote domain classifications in Redis so repeated analyses do not pay for
// the same remote lookup twice.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/types"
)

// DefaultTTL is how long a remote classification is trusted.
const DefaultTTL = 30 * 24 * time.Hour

const keyPrefix = "visgap:classification"

// entry is the stored form of a classify.External.
type entry struct {
	DomainType       types.DomainType `json:"domain_type"`
	AcceptsSponsored *bool            `json:"accepts_sponsored,omitempty"`
	StoredAt         time.Time        `json:"stored_at"`
}

// ClassificationCache implements classify.Cache on Redis. Keys carry the knowledge table version,
// so publishing a new table starts from an empty cache instead of mixing verdicts.
type ClassificationCache struct {
	client  redis.UniversalClient
	version string
	ttl     time.Duration
	now     func() time.Time
}

// NewClassificationCache wraps a Redis client. A zero ttl uses DefaultTTL.
func NewClassificationCache(client redis.UniversalClient, knowledgeVersion string, ttl time.Duration) *ClassificationCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ClassificationCache{
		client:  client,
		version: knowledgeVersion,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Key returns the Redis key of a domain.
func (c *ClassificationCache) Key(domain string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, c.version, domain)
}

// GetMany returns the cached classifications of the given domains. Missing and unreadable entries
// are simply absent from the result.
func (c *ClassificationCache) GetMany(ctx context.Context, domains []string) (map[string]classify.External, error) {
	out := make(map[string]classify.External)
	if len(domains) == 0 {
		return out, nil
	}

	keys := make([]string, len(domains))
	for i, d := range domains {
		keys[i] = c.Key(d)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read classification cache: %w", err)
	}

	for i, domain := range domains {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		ext := classify.External{DomainType: e.DomainType, AcceptsSponsored: e.AcceptsSponsored}
		if !ext.DomainType.Valid() || ext.DomainType == types.DomainUnknown {
			continue
		}
		out[domain] = ext
	}
	return out, nil
}

// PutMany stores classifications with the cache TTL in one pipeline. Unknown verdicts are not
// cached so a later remote call may still resolve them.
func (c *ClassificationCache) PutMany(ctx context.Context, items map[string]classify.External) error {
	if len(items) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	queued := 0
	for domain, ext := range items {
		if ext.DomainType == types.DomainUnknown || !ext.DomainType.Valid() {
			continue
		}
		data, err := json.Marshal(entry{
			DomainType:       ext.DomainType,
			AcceptsSponsored: ext.AcceptsSponsored,
			StoredAt:         c.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to encode classification for %s: %w", domain, err)
		}
		pipe.Set(ctx, c.Key(domain), data, c.ttl)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write classification cache: %w", err)
	}
	return nil
}

// Invalidate removes cached classifications, e.g. after a manual correction.
func (c *ClassificationCache) Invalidate(ctx context.Context, domains ...string) error {
	if len(domains) == 0 {
		return nil
	}
	keys := make([]string, len(domains))
	for i, d := range domains {
		keys[i] = c.Key(types.NormalizeDomain(d))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate classification cache: %w", err)
	}
	return nil
}
