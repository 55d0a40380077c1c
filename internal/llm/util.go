package llm

import "strings"

// ExtractJSON returns the first JSON array or object in a model reply, dropping markdown
// fences and any prose around it. A reply with no balanced JSON value is returned trimmed so
// the decoder reports the error.
func ExtractJSON(reply string) string {
	reply = unfence(strings.TrimSpace(reply))
	start := strings.IndexAny(reply, "[{")
	if start < 0 {
		return reply
	}
	if v := balanced(reply[start:]); v != "" {
		return v
	}
	return reply
}

// unfence removes a ``` wrapper and its language tag.
func unfence(s string) string {
	body, ok := strings.CutPrefix(s, "```")
	if !ok {
		return s
	}
	if tag, rest, found := strings.Cut(body, "\n"); found && len(tag) < 20 && !strings.ContainsAny(tag, " {[") {
		body = rest
	}
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}

// balanced returns the prefix of s up to the bracket closing s[0]. Brackets inside JSON
// strings are ignored. It returns "" when s[0] is not a bracket or never closes.
func balanced(s string) string {
	if s == "" {
		return ""
	}
	var closer byte
	switch s[0] {
	case '{':
		closer = '}'
	case '[':
		closer = ']'
	default:
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == s[0]:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
