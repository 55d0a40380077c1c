package classify

import (
	"github.com/jonathan/visibility-gap/internal/types"
)

// MatchesSet reports whether the domain or one of its parent domains is in the set.
// It is used for competitor lists and for the client's own domains.
func MatchesSet(domain string, set types.DomainSet) bool {
	if set.Len() == 0 {
		return false
	}
	d := types.NormalizeDomain(domain)
	if d == "" {
		return false
	}
	if set.Has(d) {
		return true
	}
	for _, parent := range parentChain(d) {
		if set.Has(parent) {
			return true
		}
	}
	return false
}

// IsCompetitor reports whether the domain, or a parent of it, is in the competitor set.
func IsCompetitor(domain string, competitors types.DomainSet) bool {
	return MatchesSet(domain, competitors)
}

// ApplyCompetitors is the caller-side override: a domain on the run's competitor list is a
// competitor whatever the static or remote rules said. Competitor lists change per analysis run,
// so this is kept out of Classify.
func ApplyCompetitors(c types.ClassifiedDomain, competitors types.DomainSet) types.ClassifiedDomain {
	if !IsCompetitor(c.Domain, competitors) {
		return c
	}
	if c.DomainType != types.DomainCompetitor || c.Category == "" {
		c.Category = "competidor"
	}
	c.DomainType = types.DomainCompetitor
	c.Provenance = types.ProvenanceManual
	c.Rule = "competitor_list"
	return c
}

// Compose runs Classify and then ApplyCompetitors.
func (c *Classifier) Compose(domain string, competitors types.DomainSet, external *External) types.ClassifiedDomain {
	return ApplyCompetitors(c.Classify(domain, external), competitors)
}
