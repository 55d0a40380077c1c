package ratelimit

import (
	"strings"
)

// MatchEndpoint matches a request path and method to an endpoint configuration.
// Patterns are slash-separated; "*" matches exactly one segment and a trailing "/" matches any
// remainder. Exact patterns win over wildcard ones, and earlier configs win among equals.
// Returns nil if no config matches.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	// Health checks and event streams are never limited.
	if method == "GET" && (path == "/health" || strings.HasSuffix(path, "/stream")) {
		return &EndpointConfig{Path: path, Method: method}
	}

	var best *EndpointConfig
	bestScore := -1
	for i := range configs {
		config := &configs[i]
		if config.Method != method {
			continue
		}
		score, ok := matchPattern(config.Path, path)
		if ok && score > bestScore {
			best, bestScore = config, score
		}
	}
	return best
}

// matchPattern reports whether path matches pattern and how specific the match is (number of
// literal segments, plus one for a full-length match).
func matchPattern(pattern, path string) (int, bool) {
	prefix := strings.HasSuffix(pattern, "/") && pattern != "/"
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	segs := strings.Split(strings.Trim(path, "/"), "/")

	if len(segs) < len(pSegs) || (!prefix && len(segs) != len(pSegs)) {
		return 0, false
	}
	score := 0
	for i, p := range pSegs {
		switch {
		case p == "*":
			if segs[i] == "" {
				return 0, false
			}
		case p == segs[i]:
			score++
		default:
			return 0, false
		}
	}
	if !prefix {
		score++
	}
	return score, true
}
