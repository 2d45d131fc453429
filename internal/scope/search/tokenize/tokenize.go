// Package tokenize turns raw text into normalized search tokens.
package tokenize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases text, strips punctuation and splits it into tokens.
// Apostrophes are dropped inside words ("don't" -> "dont"); any other
// punctuation or symbol separates tokens. Empty input yields an empty slice.
func Normalize(text string) []string {
	folded := Fold(text)
	if folded == "" {
		return []string{}
	}

	tokens := make([]string, 0, 8)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}

	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// NormalizeQuery returns the canonical form of a query: its tokens joined by single spaces
func NormalizeQuery(text string) string {
	return strings.Join(Normalize(text), " ")
}

// Fold applies NFKC normalization, lowercasing and whitespace trimming.
// Used for case-insensitive substring comparisons.
func Fold(text string) string {
	return strings.TrimSpace(strings.ToLower(norm.NFKC.String(text)))
}

// Unique returns tokens with duplicates removed, preserving first occurrence order
func Unique(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
