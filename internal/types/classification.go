package types

import "strings"

// DomainType is the closed set of labels a domain can receive.
type DomainType string

// DomainType values
const (
	DomainEditorial     DomainType = "editorial"
	DomainCompetitor    DomainType = "competitor"
	DomainCorporate     DomainType = "corporate"
	DomainUGC           DomainType = "ugc"
	DomainInstitutional DomainType = "institutional"
	DomainAggregator    DomainType = "aggregator"
	DomainUnknown       DomainType = "unknown"
)

// AllDomainTypes lists every DomainType in display order.
func AllDomainTypes() []DomainType {
	return []DomainType{
		DomainEditorial,
		DomainCompetitor,
		DomainCorporate,
		DomainUGC,
		DomainInstitutional,
		DomainAggregator,
		DomainUnknown,
	}
}

// domainTypeAliases maps labels seen from remote classifiers and older exports onto DomainType.
var domainTypeAliases = map[string]DomainType{
	"editorial":     DomainEditorial,
	"media":         DomainEditorial,
	"medio":         DomainEditorial,
	"news":          DomainEditorial,
	"blog":          DomainEditorial,
	"competitor":    DomainCompetitor,
	"competidor":    DomainCompetitor,
	"banco":         DomainCompetitor,
	"bank":          DomainCompetitor,
	"financial":     DomainCompetitor,
	"corporate":     DomainCorporate,
	"corporativo":   DomainCorporate,
	"saas":          DomainCorporate,
	"company":       DomainCorporate,
	"ugc":           DomainUGC,
	"forum":         DomainUGC,
	"foro":          DomainUGC,
	"social":        DomainUGC,
	"institutional": DomainInstitutional,
	"institucional": DomainInstitutional,
	"government":    DomainInstitutional,
	"gov":           DomainInstitutional,
	"education":     DomainInstitutional,
	"aggregator":    DomainAggregator,
	"agregador":     DomainAggregator,
	"comparator":    DomainAggregator,
	"comparador":    DomainAggregator,
	"unknown":       DomainUnknown,
}

// ParseDomainType maps a free-form label onto a DomainType. Unrecognized labels map to DomainUnknown.
func ParseDomainType(s string) DomainType {
	key := strings.ToLower(strings.TrimSpace(s))
	if t, ok := domainTypeAliases[key]; ok {
		return t
	}
	return DomainUnknown
}

// Valid reports whether t is one of the declared values.
func (t DomainType) Valid() bool {
	switch t {
	case DomainEditorial, DomainCompetitor, DomainCorporate, DomainUGC,
		DomainInstitutional, DomainAggregator, DomainUnknown:
		return true
	}
	return false
}

// IsEditorialCandidate reports whether a domain of this type may be an editorial placement target.
// Unknown is kept because it may later be confirmed as editorial.
func (t DomainType) IsEditorialCandidate() bool {
	return t == DomainEditorial || t == DomainUnknown
}

// Provenance records which source decided a classification.
type Provenance string

// Provenance values
const (
	ProvenanceStatic Provenance = "static"
	ProvenanceRemote Provenance = "remote"
	ProvenanceManual Provenance = "manual"
	ProvenanceNone   Provenance = "none"
)

// ClassifiedDomain is the classifier's verdict for one domain.
type ClassifiedDomain struct {
	Domain           string     `json:"domain"`
	DomainType       DomainType `json:"domain_type"`
	Category         string     `json:"category,omitempty"`
	AcceptsSponsored *bool      `json:"accepts_sponsored"` // nil means unknown
	Provenance       Provenance `json:"provenance"`
	Rule             string     `json:"rule,omitempty"` // which rule matched, e.g. "exact", "parent:elpais.com"
}

// NeedsClassification reports whether a human (or the remote classifier) still has to decide.
func (c ClassifiedDomain) NeedsClassification() bool {
	return c.DomainType == DomainUnknown
}

// Bool returns a pointer to b. Used for optional tri-state flags such as AcceptsSponsored.
func Bool(b bool) *bool {
	return &b
}
