package classify

import (
	"github.com/jonathan/visibility-gap/internal/types"
)

// External is a classification supplied from outside the static rules, typically the remote
// batch classifier or a cached copy of its answer.
type External struct {
	DomainType       types.DomainType `json:"domain_type"`
	AcceptsSponsored *bool            `json:"accepts_sponsored"`
}

// Classifier applies curated sets, subdomain folding and pattern heuristics. It is safe for
// concurrent use: the knowledge table is read-only.
type Classifier struct {
	knowledge *Knowledge
}

// New creates a classifier over the given knowledge table (nil uses DefaultKnowledge).
func New(knowledge *Knowledge) *Classifier {
	if knowledge == nil {
		knowledge = DefaultKnowledge()
	}
	return &Classifier{knowledge: knowledge}
}

// Knowledge returns the table the classifier reads from.
func (c *Classifier) Knowledge() *Knowledge {
	return c.knowledge
}

// Classify labels a single domain. The first matching step wins:
//  1. exact match in a curated set
//  2. the same lookup against each parent up to the registrable domain
//  3. pattern heuristics on the literal string
//  4. the external classification, if any
//
// Unresolved domains come back as DomainUnknown; Classify never fails. Competitor lists are
// not consulted here, see ApplyCompetitors.
func (c *Classifier) Classify(domain string, external *External) types.ClassifiedDomain {
	d := types.NormalizeDomain(domain)
	out := types.ClassifiedDomain{
		Domain:     d,
		DomainType: types.DomainUnknown,
		Provenance: types.ProvenanceNone,
	}
	if d == "" {
		return out
	}

	if e, ok := c.knowledge.Lookup(d); ok {
		return fromEntry(d, e, "exact")
	}

	for _, parent := range parentChain(d) {
		if e, ok := c.knowledge.Lookup(parent); ok {
			return fromEntry(d, e, "parent:"+parent)
		}
	}

	if r, ok := matchHeuristics(d); ok {
		out.DomainType = r.domain
		out.Category = r.category
		out.Provenance = types.ProvenanceStatic
		out.Rule = r.name
		return out
	}

	if external != nil && external.DomainType.Valid() && external.DomainType != types.DomainUnknown {
		out.DomainType = external.DomainType
		out.AcceptsSponsored = external.AcceptsSponsored
		out.Provenance = types.ProvenanceRemote
		out.Rule = "remote"
		return out
	}

	return out
}

// IsStaticallyResolved reports whether steps 1-3 decide the domain without outside help.
func (c *Classifier) IsStaticallyResolved(domain string) bool {
	return c.Classify(domain, nil).DomainType != types.DomainUnknown
}

func fromEntry(d string, e Entry, rule string) types.ClassifiedDomain {
	return types.ClassifiedDomain{
		Domain:           d,
		DomainType:       e.Type,
		Category:         e.Category,
		AcceptsSponsored: e.AcceptsSponsored,
		Provenance:       types.ProvenanceStatic,
		Rule:             rule,
	}
}
