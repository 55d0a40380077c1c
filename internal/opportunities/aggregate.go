// Package opportunities merges search-result and citation rows into a single ranked,
// per-domain list of editorial placement opportunities.
package opportunities

import (
	"sort"
	"strings"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/types"
)

// Input is an immutable snapshot of everything one aggregation run needs.
type Input struct {
	SearchRows   []types.SearchResultRow
	CitationRows []types.CitationRow
	Competitors  types.DomainSet
	Clients      types.DomainSet
	Exclusions   []types.ExclusionRule

	// Classifications holds pre-resolved verdicts keyed by normalized domain, typically from
	// classify.Resolver so that remote answers are included. Domains missing here are
	// classified statically.
	Classifications map[string]types.ClassifiedDomain

	// ValidatedURLs are citation URLs that passed the link-validation collaborator.
	ValidatedURLs map[string]bool
}

// Options tunes the output.
type Options struct {
	// IncludeNonEditorial keeps every non-client domain (competitors flagged) instead of
	// editorial candidates only.
	IncludeNonEditorial bool
}

// Result is the output of one aggregation run.
type Result struct {
	Opportunities []types.Opportunity `json:"opportunities"`
	// Dropped counts malformed rows (no usable domain, position < 1, negative count).
	Dropped int `json:"dropped"`
	// Filtered counts domains removed as client, excluded, competitor or non-editorial.
	Filtered int `json:"filtered"`
}

// Aggregator ranks opportunities. It holds no mutable state.
type Aggregator struct {
	classifier *classify.Classifier
}

// NewAggregator creates an aggregator that classifies unresolved domains with c (nil uses the
// default knowledge).
func NewAggregator(c *classify.Classifier) *Aggregator {
	if c == nil {
		c = classify.New(nil)
	}
	return &Aggregator{classifier: c}
}

// Aggregate runs the default aggregator.
func Aggregate(in Input, opts Options) Result {
	return NewAggregator(nil).Aggregate(in, opts)
}

type citationAgg struct {
	title     string
	count     int
	urls      []string
	providers []string
}

type searchAgg struct {
	count     int
	bestPos   int
	bestTitle string
	bestURL   string
}

// Aggregate filters, classifies, deduplicates by domain and ranks. Inputs are not mutated and
// identical inputs always produce the same order.
func (a *Aggregator) Aggregate(in Input, opts Options) Result {
	var res Result

	// Domains in first-seen order: citation rows first, then search-only domains.
	var order []string
	seen := make(map[string]bool)
	note := func(d string) {
		if !seen[d] {
			seen[d] = true
			order = append(order, d)
		}
	}

	citations := make(map[string]*citationAgg)
	for _, row := range in.CitationRows {
		d := rowDomain(row.Domain, firstOrEmpty(row.URLs))
		if d == "" || row.Count < 0 {
			res.Dropped++
			continue
		}
		if row.IsExcluded {
			continue
		}
		agg, ok := citations[d]
		if !ok {
			agg = &citationAgg{title: row.Title}
			citations[d] = agg
			note(d)
		}
		agg.count += row.Count
		agg.urls = appendUnique(agg.urls, row.URLs...)
		agg.providers = appendUnique(agg.providers, row.Providers...)
		if agg.title == "" {
			agg.title = row.Title
		}
	}

	searches := make(map[string]*searchAgg)
	for _, row := range in.SearchRows {
		d := rowDomain(row.Domain, row.URL)
		if d == "" || row.Position < 1 {
			res.Dropped++
			continue
		}
		agg, ok := searches[d]
		if !ok {
			agg = &searchAgg{bestPos: row.Position, bestTitle: row.Title, bestURL: strings.TrimSpace(row.URL)}
			searches[d] = agg
			note(d)
		} else if row.Position < agg.bestPos {
			agg.bestPos = row.Position
			agg.bestTitle = row.Title
			agg.bestURL = strings.TrimSpace(row.URL)
		}
		agg.count++
	}

	out := make([]types.Opportunity, 0, len(order))
	for _, d := range order {
		if classify.MatchesSet(d, in.Clients) || excluded(d, in.Exclusions) {
			res.Filtered++
			continue
		}

		c := a.classification(d, in)
		isCompetitor := c.DomainType == types.DomainCompetitor
		if !opts.IncludeNonEditorial && (isCompetitor || !c.DomainType.IsEditorialCandidate()) {
			res.Filtered++
			continue
		}

		cit, inCitation := citations[d]
		srch, inSearch := searches[d]

		o := types.Opportunity{
			Domain:              d,
			DomainType:          c.DomainType,
			Category:            c.Category,
			AcceptsSponsored:    c.AcceptsSponsored,
			Provenance:          c.Provenance,
			InSearch:            inSearch,
			InCitation:          inCitation,
			InBoth:              inSearch && inCitation,
			IsCompetitor:        isCompetitor,
			NeedsClassification: c.NeedsClassification(),
		}
		if inCitation {
			o.CitationCount = cit.count
			o.Providers = cit.providers
			o.BestTitle = cit.title
		}
		if inSearch {
			o.SearchCount = srch.count
			o.BestSearchPosition = srch.bestPos
			if srch.bestTitle != "" {
				o.BestTitle = srch.bestTitle
			}
		}
		o.Score = o.CitationCount + o.SearchCount
		o.BestURL, o.BestURLSource = bestURL(srch, cit, in.ValidatedURLs)

		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InBoth != out[j].InBoth {
			return out[i].InBoth
		}
		return out[i].Score > out[j].Score
	})

	res.Opportunities = out
	return res
}

// classification returns the verdict for d with the competitor override applied.
func (a *Aggregator) classification(d string, in Input) types.ClassifiedDomain {
	if c, ok := in.Classifications[d]; ok {
		return classify.ApplyCompetitors(c, in.Competitors)
	}
	return a.classifier.Compose(d, in.Competitors, nil)
}

// bestURL prefers the best-ranked search URL and falls back to the first validated citation URL.
func bestURL(srch *searchAgg, cit *citationAgg, validated map[string]bool) (string, string) {
	if srch != nil && srch.bestURL != "" {
		return srch.bestURL, types.URLSourceSearch
	}
	if cit == nil {
		return "", ""
	}
	for _, u := range cit.urls {
		if IsArticleURL(u) && validated[u] {
			return u, types.URLSourceCitation
		}
	}
	return "", ""
}

func excluded(d string, rules []types.ExclusionRule) bool {
	for _, r := range rules {
		if r.Matches(d) {
			return true
		}
	}
	return false
}

func rowDomain(domain, fallbackURL string) string {
	if d := types.NormalizeDomain(domain); d != "" {
		return d
	}
	return types.NormalizeDomain(fallbackURL)
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
