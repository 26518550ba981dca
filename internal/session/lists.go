package session

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var termSep = regexp.MustCompile(`[\n,]+`)

// Terms splits allowlist or denylist text on commas and newlines. Terms
// are NFKC-normalized and trimmed; empty terms are dropped.
func Terms(text string) []string {
	var out []string
	for _, t := range termSep.Split(norm.NFKC.String(text), -1) {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// CountTerms is len(Terms(text)).
func CountTerms(text string) int {
	return len(Terms(text))
}

// JoinTerms is the list text for terms, one per line.
func JoinTerms(terms []string) string {
	return strings.Join(terms, "\n")
}
