package opportunities

import (
	"net/url"
	"strings"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/types"
)

// IsArticleURL reports whether u is an absolute http(s) URL pointing below the site root.
// Root URLs are never surfaced as an article link.
func IsArticleURL(u string) bool {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	path := strings.Trim(parsed.Path, "/")
	return path != ""
}

// CandidateCitationURLs lists the citation URLs that need link validation before they can be
// shown: article URLs on non-excluded, non-client citation rows whose domain has no search URL
// to fall back on. Order follows the input and duplicates are removed.
func CandidateCitationURLs(in Input) []string {
	hasSearchURL := make(map[string]bool)
	for _, row := range in.SearchRows {
		if row.Position < 1 || strings.TrimSpace(row.URL) == "" {
			continue
		}
		if d := rowDomain(row.Domain, row.URL); d != "" {
			hasSearchURL[d] = true
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, row := range in.CitationRows {
		if row.IsExcluded || row.Count < 0 {
			continue
		}
		d := rowDomain(row.Domain, firstOrEmpty(row.URLs))
		if d == "" || hasSearchURL[d] || excluded(d, in.Exclusions) || classify.MatchesSet(d, in.Clients) {
			continue
		}
		for _, u := range row.URLs {
			u = strings.TrimSpace(u)
			if !IsArticleURL(u) || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// URLSet builds the ValidatedURLs lookup from a list of URLs.
func URLSet(urls []string) map[string]bool {
	out := make(map[string]bool, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out[u] = true
		}
	}
	return out
}

// NeedsReview returns the opportunities still waiting for a manual classification decision.
func NeedsReview(opps []types.Opportunity) []types.Opportunity {
	var out []types.Opportunity
	for _, o := range opps {
		if o.NeedsClassification {
			out = append(out, o)
		}
	}
	return out
}
