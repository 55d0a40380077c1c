package classify

import (
	"strings"

	"github.com/jonathan/visibility-gap/internal/types"
)

// heuristicRule is a pattern check on the literal domain string.
type heuristicRule struct {
	name     string
	domain   types.DomainType
	category string
	match    func(d string, labels []string) bool
}

// suffixLabel matches when any label after the first equals one of the given values,
// which covers ".gov", ".gob.es", ".edu.mx" and similar suffixes.
func suffixLabel(values ...string) func(string, []string) bool {
	return func(_ string, labels []string) bool {
		for _, l := range labels[1:] {
			for _, v := range values {
				if l == v {
					return true
				}
			}
		}
		return false
	}
}

func containsAny(tokens ...string) func(string, []string) bool {
	return func(d string, _ []string) bool {
		for _, t := range tokens {
			if strings.Contains(d, t) {
				return true
			}
		}
		return false
	}
}

func firstLabelPrefix(prefixes ...string) func(string, []string) bool {
	return func(_ string, labels []string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(labels[0], p) {
				return true
			}
		}
		return false
	}
}

// heuristicRules run in order; the first match wins.
var heuristicRules = []heuristicRule{
	{name: "suffix:gob", domain: types.DomainInstitutional, category: "gobierno", match: suffixLabel("gob")},
	{name: "suffix:gov", domain: types.DomainInstitutional, category: "gobierno", match: suffixLabel("gov")},
	{name: "suffix:edu", domain: types.DomainInstitutional, category: "educacion", match: suffixLabel("edu")},
	{name: "token:wikipedia", domain: types.DomainUGC, category: "wiki", match: containsAny("wikipedia")},
	{name: "token:forum", domain: types.DomainUGC, category: "foro", match: containsAny("forum", "foro", "community", "comunidad")},
	{name: "token:bank", domain: types.DomainCompetitor, category: "banco", match: containsAny("banco", "bank", "banca", "caixa", "kutxa")},
	{name: "prefix:editorial", domain: types.DomainEditorial, category: "medio", match: firstLabelPrefix(
		"blog", "news", "noticias", "magazine", "revista", "diario", "periodico",
	)},
}

// matchHeuristics applies the pattern rules to a normalized domain.
func matchHeuristics(d string) (heuristicRule, bool) {
	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return heuristicRule{}, false
	}
	for _, r := range heuristicRules {
		if r.match(d, labels) {
			return r, true
		}
	}
	return heuristicRule{}, false
}
