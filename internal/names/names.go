// Package names canonicalizes team and league names for record key
// derivation.
//
// Feed pages spell the same team differently across sports and across
// redirect overlaps ("Man. United", "Manchester Utd FC"). Record keys must
// be stable across ticks and across sessions, so the canonical form folds
// case, punctuation, diacritics and club suffixes deterministically.
package names

import (
	"strings"
	"unicode"
)

// clubSuffixes are trailing tokens that carry no identity ("FC Barcelona"
// and "Barcelona" are the same club). Matched as whole tokens only.
var clubSuffixes = map[string]bool{
	"fc": true, "cf": true, "fk": true, "sc": true, "ac": true,
	"afc": true, "bc": true, "bk": true, "cd": true, "club": true,
	"utd": true, "united": false, // "united" alone distinguishes clubs, keep it
}

// abbreviations expand common short forms before suffix stripping.
var abbreviations = map[string]string{
	"man.":  "manchester",
	"utd.":  "utd",
	"st.":   "st",
	"atl.":  "atletico",
	"real.": "real",
}

// Canonical returns the canonical key component for a raw team or league
// name. The hint is the category the name came from; it only participates
// when the name alone is ambiguous (empty names canonicalize to the hint so
// placeholder rows from a mid-redirect page still produce distinct keys).
//
// Deterministic: identical inputs always produce identical outputs.
func Canonical(raw, hint string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return strings.ToLower(strings.TrimSpace(hint))
	}

	// Fold diacritics to ASCII where a direct mapping exists.
	s = foldDiacritics(s)

	// Tokenize on anything that is not a letter or digit.
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	// Expand abbreviations, then drop suffix tokens.
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if exp, ok := abbreviations[tok+"."]; ok {
			tok = exp
		}
		if clubSuffixes[tok] {
			continue
		}
		out = append(out, tok)
	}
	if len(out) == 0 {
		// Name was all suffixes ("FC"). Keep the folded original.
		return strings.Join(tokens, " ")
	}
	return strings.Join(out, " ")
}

// foldDiacritics maps accented Latin letters to their base form. Covers the
// ranges that actually show up in European team names; anything else passes
// through unchanged.
func foldDiacritics(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if f, ok := diacritics[r]; ok {
			b.WriteRune(f)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var diacritics = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ä': 'a', 'ã': 'a', 'å': 'a', 'ā': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e', 'ē': 'e', 'ě': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i', 'ī': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'ö': 'o', 'õ': 'o', 'ø': 'o', 'ō': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u', 'ū': 'u', 'ů': 'u',
	'ý': 'y', 'ÿ': 'y',
	'ç': 'c', 'ć': 'c', 'č': 'c',
	'ñ': 'n', 'ń': 'n', 'ň': 'n',
	'š': 's', 'ś': 's', 'ş': 's',
	'ž': 'z', 'ź': 'z', 'ż': 'z',
	'ł': 'l', 'ľ': 'l',
	'ř': 'r', 'ŕ': 'r',
	'ť': 't', 'ţ': 't',
	'ď': 'd', 'đ': 'd',
	'ğ': 'g',
	'ı': 'i',
	'ß': 's',
}
