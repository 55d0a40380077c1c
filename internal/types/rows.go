package types

// SearchResultRow is one ranking URL observed in the search phase.
// Many rows may share a domain (one per ranking URL or keyword).
type SearchResultRow struct {
	Domain      string `json:"domain"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Position    int    `json:"position"`
	ContentType string `json:"content_type,omitempty"`
	Query       string `json:"query,omitempty"`
}

// CitationRow is the aggregated citation record for one domain in a completed citation run.
// DomainType is supplied by the citation channel and is advisory only.
type CitationRow struct {
	Domain      string   `json:"domain"`
	URLs        []string `json:"urls"`
	Title       string   `json:"title"`
	Count       int      `json:"count"`
	Providers   []string `json:"providers"`
	ContentType string   `json:"content_type,omitempty"`
	DomainType  string   `json:"domain_type,omitempty"`
	IsExcluded  bool     `json:"is_excluded"`
}

// BrandMetric summarizes how often a brand was mentioned by generative engines in a citation run.
type BrandMetric struct {
	Name         string  `json:"name"`
	Mentions     int     `json:"mentions"`
	ShareOfVoice float64 `json:"share_of_voice"`
	IsClient     bool    `json:"is_client,omitempty"`
}

// CitationMetrics is the result of a completed citation run.
type CitationMetrics struct {
	RunID           string        `json:"run_id"`
	Brands          []BrandMetric `json:"brands"`
	TopCitedDomains []CitationRow `json:"top_cited_domains"`
}

// ExclusionRule is a manually curated rule that removes domains from the opportunity list.
// With MatchSubdomains set, "example.com" also excludes "blog.example.com".
type ExclusionRule struct {
	Domain          string `json:"domain"`
	MatchSubdomains bool   `json:"match_subdomains"`
	Reason          string `json:"reason,omitempty"`
}

// Matches reports whether the rule excludes the given domain.
func (r ExclusionRule) Matches(domain string) bool {
	d := NormalizeDomain(domain)
	rule := NormalizeDomain(r.Domain)
	if d == "" || rule == "" {
		return false
	}
	if d == rule {
		return true
	}
	return r.MatchSubdomains && len(d) > len(rule) && d[len(d)-len(rule)-1:] == "."+rule
}
