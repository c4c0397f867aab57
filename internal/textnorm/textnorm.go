// Package textnorm applies the one normalization policy used everywhere:
// answers are compared case-insensitively but diacritic-sensitively, and
// audio slugs additionally drop diacritics for ASCII filenames.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold prepares a string for answer comparison: NFC-normalize, lower-case,
// trim surrounding whitespace. Accents are preserved ("pomme" != "pommé").
func Fold(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// Equal reports whether two answers match under the Fold policy.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Slug produces a lower-case ASCII-ish file stem from text: diacritics are
// stripped and spaces become underscores. Used for cached audio file names.
func Slug(s string) string {
	out, _, err := transform.String(stripMarks, strings.TrimSpace(s))
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	var b strings.Builder
	for _, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '\'':
			b.WriteByte('_')
		}
	}
	return b.String()
}
