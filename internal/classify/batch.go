package classify

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/jonathan/visibility-gap/internal/types"
)

// DefaultBatchSize is the number of domains sent to the remote classifier per call.
const DefaultBatchSize = 50

// RemoteResult is one answer from a remote batch classifier.
type RemoteResult struct {
	Domain           string           `json:"domain"`
	DomainType       types.DomainType `json:"domain_type"`
	AcceptsSponsored *bool            `json:"accepts_sponsored"`
}

// BatchClassifier is the remote (usually LLM-backed) fallback for domains the static rules
// cannot decide.
type BatchClassifier interface {
	BatchClassifyDomains(ctx context.Context, domains []string) ([]RemoteResult, error)
}

// Cache stores remote answers so the same domain is not paid for twice.
type Cache interface {
	GetMany(ctx context.Context, domains []string) (map[string]External, error)
	PutMany(ctx context.Context, entries map[string]External) error
}

// Resolver classifies batches of domains, reaching for the cache and the remote classifier
// only for what the static rules leave unknown.
type Resolver struct {
	classifier *Classifier
	remote     BatchClassifier
	cache      Cache
	batchSize  int
	logger     zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRemote sets the remote batch classifier.
func WithRemote(remote BatchClassifier) ResolverOption {
	return func(r *Resolver) { r.remote = remote }
}

// WithCache sets the cache for remote answers.
func WithCache(cache Cache) ResolverOption {
	return func(r *Resolver) { r.cache = cache }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithLogger sets the logger used for remote and cache failures.
func WithLogger(logger zerolog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a Resolver. A nil classifier uses the default knowledge.
func NewResolver(classifier *Classifier, opts ...ResolverOption) *Resolver {
	if classifier == nil {
		classifier = New(nil)
	}
	r := &Resolver{
		classifier: classifier,
		batchSize:  DefaultBatchSize,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classifier returns the static classifier behind the resolver.
func (r *Resolver) Classifier() *Classifier {
	return r.classifier
}

// ResolveBatch classifies every domain and applies the competitor override. The result is keyed
// by normalized domain; invalid inputs are skipped. It never fails: cache and remote errors are
// logged and the affected domains stay unknown.
func (r *Resolver) ResolveBatch(ctx context.Context, domains []string, competitors types.DomainSet) map[string]types.ClassifiedDomain {
	out := make(map[string]types.ClassifiedDomain, len(domains))
	var pending []string

	for _, raw := range domains {
		d := types.NormalizeDomain(raw)
		if d == "" {
			continue
		}
		if _, seen := out[d]; seen {
			continue
		}
		c := ApplyCompetitors(r.classifier.Classify(d, nil), competitors)
		out[d] = c
		if c.DomainType == types.DomainUnknown {
			pending = append(pending, d)
		}
	}

	if len(pending) == 0 {
		return out
	}

	for d, ext := range r.Externals(ctx, pending) {
		e := ext
		out[d] = r.classifier.Classify(d, &e)
	}
	return out
}

// Externals returns outside classifications for the given normalized domains, from the cache
// first and the remote classifier second. Domains nobody could classify are absent.
func (r *Resolver) Externals(ctx context.Context, domains []string) map[string]External {
	found := make(map[string]External, len(domains))
	missing := domains

	if r.cache != nil {
		cached, err := r.cache.GetMany(ctx, domains)
		if err != nil {
			r.logger.Warn().Err(err).Int("domains", len(domains)).Msg("classification cache lookup failed")
		}
		if len(cached) > 0 {
			missing = missing[:0:0]
			for _, d := range domains {
				if ext, ok := cached[d]; ok && ext.DomainType != types.DomainUnknown {
					found[d] = ext
					continue
				}
				missing = append(missing, d)
			}
		}
	}

	if r.remote == nil || len(missing) == 0 {
		return found
	}

	fresh := make(map[string]External)
	for start := 0; start < len(missing); start += r.batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + r.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]

		results, err := r.remote.BatchClassifyDomains(ctx, chunk)
		if err != nil {
			r.logger.Warn().Err(err).Int("domains", len(chunk)).Msg("remote classification failed, leaving domains unknown")
			continue
		}

		wanted := make(map[string]bool, len(chunk))
		for _, d := range chunk {
			wanted[d] = true
		}
		for _, res := range results {
			d := types.NormalizeDomain(res.Domain)
			if !wanted[d] || !res.DomainType.Valid() || res.DomainType == types.DomainUnknown {
				continue
			}
			fresh[d] = External{DomainType: res.DomainType, AcceptsSponsored: res.AcceptsSponsored}
		}
	}

	if len(fresh) > 0 && r.cache != nil {
		if err := r.cache.PutMany(ctx, fresh); err != nil {
			r.logger.Warn().Err(err).Int("domains", len(fresh)).Msg("classification cache write failed")
		}
	}
	for d, ext := range fresh {
		found[d] = ext
	}
	return found
}

// SortedDomains returns the keys of a resolved batch in lexical order.
func SortedDomains(resolved map[string]types.ClassifiedDomain) []string {
	out := make([]string, 0, len(resolved))
	for d := range resolved {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
