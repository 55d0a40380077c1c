package classify

import (
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/jonathan/visibility-gap/internal/types"
)

// RegistrableParent returns the registrable domain (eTLD+1) of a domain, e.g.
// "cincodias.elpais.com" -> "elpais.com" and "news.bbc.co.uk" -> "bbc.co.uk".
// Falls back to the last two labels when the public suffix list cannot decide.
func RegistrableParent(domain string) string {
	d := types.NormalizeDomain(domain)
	if d == "" {
		return ""
	}
	if parent, err := publicsuffix.EffectiveTLDPlusOne(d); err == nil {
		return parent
	}
	labels := strings.Split(d, ".")
	if len(labels) <= 2 {
		return d
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// parentChain lists the ancestors of a normalized domain from nearest to farthest, excluding the
// domain itself and stopping before an ICANN public suffix: "a.b.elpais.com" -> ["b.elpais.com",
// "elpais.com"]. Privately registered suffixes such as "blogspot.com" stay in the chain so that
// curated entries for them still apply to their subdomains.
func parentChain(d string) []string {
	var chain []string
	current := d
	for {
		idx := strings.Index(current, ".")
		if idx < 0 {
			return chain
		}
		current = current[idx+1:]
		if !strings.Contains(current, ".") {
			return chain
		}
		if suffix, icann := publicsuffix.PublicSuffix(current); icann && suffix == current {
			return chain
		}
		chain = append(chain, current)
	}
}
