package groups

import (
	"regexp"
	"strings"
)

// WildcardToRegex converts a datastore wildcard ("*" any run, "?" one character)
// into an anchored regular expression. Everything else matches literally.
func WildcardToRegex(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// WildcardsToRegex converts every pattern.
func WildcardsToRegex(patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = WildcardToRegex(p)
	}
	return out
}
