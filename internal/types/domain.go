// Package types provides type definitions for structured data shared by the domain classifier,
// the analysis orchestrator and the opportunity aggregator.
package types

import (
	"net"
	"net/url"
	"sort"
	"strings"
)

// NormalizeDomain turns a hostname or URL into the join key used everywhere in the system:
// lower-cased, without scheme, credentials, port, path, trailing dot or a leading "www.".
// Returns "" when the input does not look like a hostname.
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	} else if idx := strings.IndexAny(s, "/?#"); idx >= 0 {
		s = s[:idx]
	}

	if idx := strings.LastIndex(s, "@"); idx >= 0 {
		s = s[idx+1:]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")

	if s == "" || !strings.Contains(s, ".") || strings.ContainsAny(s, " \t\r\n") {
		return ""
	}
	if strings.HasPrefix(s, ".") || strings.Contains(s, "..") {
		return ""
	}
	return s
}

// DomainSet is a set of normalized domains. A nil DomainSet is empty and safe to query.
type DomainSet map[string]struct{}

// NewDomainSet builds a set from raw domains, normalizing each and skipping invalid ones.
func NewDomainSet(domains ...string) DomainSet {
	set := make(DomainSet, len(domains))
	for _, d := range domains {
		set.Add(d)
	}
	return set
}

// Add normalizes and inserts a domain. Invalid domains are ignored.
func (s DomainSet) Add(domain string) {
	if d := NormalizeDomain(domain); d != "" {
		s[d] = struct{}{}
	}
}

// Has reports whether the (normalized) domain is in the set.
func (s DomainSet) Has(domain string) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[NormalizeDomain(domain)]
	return ok
}

// Len returns the number of domains in the set.
func (s DomainSet) Len() int {
	return len(s)
}

// Union returns a new set holding the members of s and other.
func (s DomainSet) Union(other DomainSet) DomainSet {
	out := make(DomainSet, len(s)+len(other))
	for d := range s {
		out[d] = struct{}{}
	}
	for d := range other {
		out[d] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s DomainSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
