package types

// URL sources for Opportunity.BestURLSource
const (
	URLSourceSearch   = "search"
	URLSourceCitation = "citation"
)

// Opportunity is a domain worth pursuing for editorial placement. It is derived on demand from
// search and citation rows and is never stored as the source of truth.
type Opportunity struct {
	Domain              string     `json:"domain"`
	DomainType          DomainType `json:"domain_type"`
	Category            string     `json:"category,omitempty"`
	AcceptsSponsored    *bool      `json:"accepts_sponsored"`
	Provenance          Provenance `json:"provenance"`
	InSearch            bool       `json:"in_search"`
	InCitation          bool       `json:"in_citation"`
	InBoth              bool       `json:"in_both"`
	SearchCount         int        `json:"search_count"`
	CitationCount       int        `json:"citation_count"`
	BestSearchPosition  int        `json:"best_search_position,omitempty"` // 0 when absent from search
	BestTitle           string     `json:"best_title,omitempty"`
	BestURL             string     `json:"best_url,omitempty"`
	BestURLSource       string     `json:"best_url_source,omitempty"`
	Providers           []string   `json:"providers,omitempty"`
	IsCompetitor        bool       `json:"is_competitor"`
	NeedsClassification bool       `json:"needs_classification"`
	Score               int        `json:"score"`
}
