package entity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize produces the canonical comparison key for a name: lowercase,
// trimmed, diacritics stripped, hyphens and underscores removed, internal
// whitespace collapsed. "José-María" and "JoseMaría" share a key.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "" {
		return ""
	}
	if stripped, _, err := transform.String(deaccent, s); err == nil {
		s = stripped
	}
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// FoldRune applies the Normalize folding to a single rune: lowercase,
// diacritics stripped, hyphens and underscores dropped. The result may be
// empty, or longer than one rune when case mapping expands.
func FoldRune(r rune) string {
	if r == '-' || r == '_' {
		return ""
	}
	s := strings.ToLower(string(r))
	if stripped, _, err := transform.String(deaccent, s); err == nil {
		s = stripped
	}
	return s
}
