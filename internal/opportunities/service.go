package opportunities

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/types"
)

// URLValidator is the link-liveness and hallucination filter. It returns the subset of urls
// that are safe to show.
type URLValidator interface {
	ValidateURLs(ctx context.Context, urls []string) ([]string, error)
}

// Service composes batch classification, citation URL validation and aggregation.
type Service struct {
	resolver   *classify.Resolver
	validator  URLValidator
	aggregator *Aggregator
	logger     zerolog.Logger
}

// NewService creates a Service. A nil resolver classifies statically only; a nil validator
// means no citation URL is ever validated, so best_url comes from search results only.
func NewService(resolver *classify.Resolver, validator URLValidator, logger zerolog.Logger) *Service {
	if resolver == nil {
		resolver = classify.NewResolver(nil)
	}
	return &Service{
		resolver:   resolver,
		validator:  validator,
		aggregator: NewAggregator(resolver.Classifier()),
		logger:     logger,
	}
}

// Opportunities fills in classifications and validated URLs when the caller did not supply
// them, then aggregates. Classification and validation failures degrade the output instead of
// failing; only context cancellation is returned as an error.
func (s *Service) Opportunities(ctx context.Context, in Input, opts Options) (Result, error) {
	if in.Classifications == nil {
		in.Classifications = s.resolver.ResolveBatch(ctx, domainsToClassify(in), in.Competitors)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if in.ValidatedURLs == nil {
		in.ValidatedURLs = s.validate(ctx, CandidateCitationURLs(in))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := s.aggregator.Aggregate(in, opts)
	s.logger.Debug().
		Int("opportunities", len(res.Opportunities)).
		Int("dropped", res.Dropped).
		Int("filtered", res.Filtered).
		Msg("aggregated opportunities")
	return res, nil
}

func (s *Service) validate(ctx context.Context, candidates []string) map[string]bool {
	if s.validator == nil || len(candidates) == 0 {
		return map[string]bool{}
	}
	valid, err := s.validator.ValidateURLs(ctx, candidates)
	if err != nil {
		s.logger.Warn().Err(err).Int("urls", len(candidates)).Msg("citation URL validation failed, hiding citation URLs")
		return map[string]bool{}
	}

	// Only URLs that were asked about count as validated.
	asked := URLSet(candidates)
	out := make(map[string]bool, len(valid))
	for u := range URLSet(valid) {
		if asked[u] {
			out[u] = true
		}
	}
	return out
}

// domainsToClassify lists the distinct, non-client domains of both row sets.
func domainsToClassify(in Input) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(d string) {
		if d == "" || seen[d] || classify.MatchesSet(d, in.Clients) {
			return
		}
		seen[d] = true
		out = append(out, d)
	}
	for _, row := range in.CitationRows {
		if !row.IsExcluded {
			add(rowDomain(row.Domain, firstOrEmpty(row.URLs)))
		}
	}
	for _, row := range in.SearchRows {
		add(rowDomain(row.Domain, row.URL))
	}
	return out
}

// ApplyExclusionFlags marks citation rows matched by an exclusion rule. The input slice is not
// modified.
func ApplyExclusionFlags(rows []types.CitationRow, rules []types.ExclusionRule) []types.CitationRow {
	out := make([]types.CitationRow, len(rows))
	copy(out, rows)
	for i := range out {
		if !out[i].IsExcluded && excluded(rowDomain(out[i].Domain, firstOrEmpty(out[i].URLs)), rules) {
			out[i].IsExcluded = true
		}
	}
	return out
}
