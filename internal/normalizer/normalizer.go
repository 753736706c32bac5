// Package normalizer canonicalizes counterparty names into the keys used to
// bucket bills and payments.
//
// Two raw names that normalize to the same key are treated as the same
// counterparty. Normalize is pure, total and idempotent.
//
// Example usage:
//
//	key := normalizer.Normalize("ｶ)ﾔﾏﾀﾞｼｮｳｼﾞ（本社）")
package normalizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Func is the signature shared by Normalize and test doubles.
type Func func(raw string) string

var (
	annotationPattern = regexp.MustCompile(`\(.*?\)|（.*?）`)
	dropRunes         = ",.()（）"
)

// Normalize folds full-width characters to half-width, strips parenthesized
// annotations, and removes whitespace and punctuation.
//
// Voiced kana are decomposed before narrowing so that ガ and ｶﾞ share a key.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	s := width.Narrow.String(norm.NFD.String(raw))
	s = annotationPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || strings.ContainsRune(dropRunes, r) {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
