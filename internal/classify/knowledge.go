// Package classify labels domains (editorial media, competitor, corporate, UGC, institutional,
// aggregator, unknown) with a priority-ordered heuristic: curated sets first, then subdomain
// folding, then string patterns, then an externally supplied classification.
package classify

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jonathan/visibility-gap/internal/types"
)

// KnowledgeVersion identifies the curated domain table shipped with this build.
// Bump it whenever defaultSeeds changes so cached classifications can be invalidated.
const KnowledgeVersion = "2026.10.1"

// Seed is one curated domain before it is indexed.
type Seed struct {
	Domain           string
	Category         string
	AcceptsSponsored *bool
}

// Entry is the curated knowledge about one domain.
type Entry struct {
	Type             types.DomainType
	Category         string
	AcceptsSponsored *bool
}

// CategoryInfo describes one domain type for consumers that render the same categories.
type CategoryInfo struct {
	Type  types.DomainType `json:"type"`
	Label string           `json:"label"`
	Count int              `json:"count"`
}

// Knowledge is an immutable, versioned table of curated domains.
type Knowledge struct {
	version string
	entries map[string]Entry
}

// KnowledgeConflictError reports a domain that appears in more than one curated set.
type KnowledgeConflictError struct {
	Domain string
	First  types.DomainType
	Second types.DomainType
}

func (e *KnowledgeConflictError) Error() string {
	return fmt.Sprintf("domain %s listed as both %s and %s", e.Domain, e.First, e.Second)
}

// NewKnowledge indexes curated sets. A domain may belong to exactly one set.
func NewKnowledge(version string, sets map[types.DomainType][]Seed) (*Knowledge, error) {
	k := &Knowledge{
		version: version,
		entries: make(map[string]Entry),
	}

	// Iterate types in a fixed order so conflict errors are deterministic.
	for _, dt := range types.AllDomainTypes() {
		for _, seed := range sets[dt] {
			d := types.NormalizeDomain(seed.Domain)
			if d == "" {
				return nil, fmt.Errorf("invalid curated domain %q in %s set", seed.Domain, dt)
			}
			if existing, ok := k.entries[d]; ok {
				return nil, &KnowledgeConflictError{Domain: d, First: existing.Type, Second: dt}
			}
			k.entries[d] = Entry{
				Type:             dt,
				Category:         seed.Category,
				AcceptsSponsored: seed.AcceptsSponsored,
			}
		}
	}

	return k, nil
}

var (
	defaultKnowledge     *Knowledge
	defaultKnowledgeOnce sync.Once
)

// DefaultKnowledge returns the curated table shipped with this build.
func DefaultKnowledge() *Knowledge {
	defaultKnowledgeOnce.Do(func() {
		k, err := NewKnowledge(KnowledgeVersion, defaultSeeds())
		if err != nil {
			panic(fmt.Sprintf("invalid built-in domain knowledge: %v", err))
		}
		defaultKnowledge = k
	})
	return defaultKnowledge
}

// Version returns the table version.
func (k *Knowledge) Version() string {
	return k.version
}

// Len returns the number of curated domains.
func (k *Knowledge) Len() int {
	return len(k.entries)
}

// Lookup returns the curated entry for an exact (normalized) domain.
func (k *Knowledge) Lookup(domain string) (Entry, bool) {
	e, ok := k.entries[domain]
	return e, ok
}

// Domains returns the curated domains of one type, sorted.
func (k *Knowledge) Domains(dt types.DomainType) []string {
	var out []string
	for d, e := range k.entries {
		if e.Type == dt {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// typeLabels are the display labels shared with UI consumers.
var typeLabels = map[types.DomainType]string{
	types.DomainEditorial:     "Editorial media",
	types.DomainCompetitor:    "Competitor",
	types.DomainCorporate:     "Corporate / SaaS",
	types.DomainUGC:           "UGC / forum",
	types.DomainInstitutional: "Institutional",
	types.DomainAggregator:    "Aggregator",
	types.DomainUnknown:       "Needs classification",
}

// Categories lists every domain type with its label and the number of curated domains.
func (k *Knowledge) Categories() []CategoryInfo {
	counts := make(map[types.DomainType]int)
	for _, e := range k.entries {
		counts[e.Type]++
	}

	out := make([]CategoryInfo, 0, len(typeLabels))
	for _, dt := range types.AllDomainTypes() {
		out = append(out, CategoryInfo{Type: dt, Label: typeLabels[dt], Count: counts[dt]})
	}
	return out
}
