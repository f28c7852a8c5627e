// Package match implements fuzzy text matching between expense text and
// learned patterns.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// numericRunMin is the shortest digit run dropped during normalization.
// Store numbers ("STARBUCKS #4521") carry no signal, but short numbers
// ("7-ELEVEN") are part of the brand.
const numericRunMin = 3

// Normalize canonicalizes free text for matching: lowercase, diacritics
// folded, punctuation stripped, long numeric runs removed, whitespace
// collapsed.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	decomposed := norm.NFD.String(strings.ToLower(text))

	var b strings.Builder
	b.Grow(len(decomposed))

	var digits []rune
	flush := func() {
		if len(digits) > 0 && len(digits) < numericRunMin {
			for _, d := range digits {
				b.WriteRune(d)
			}
		}
		digits = digits[:0]
	}

	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// Combining mark left over from NFD decomposition.
		case unicode.IsDigit(r):
			digits = append(digits, r)
		case unicode.IsLetter(r):
			flush()
			b.WriteRune(r)
		default:
			flush()
			b.WriteByte(' ')
		}
	}
	flush()

	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens splits normalized text into whitespace-delimited tokens.
func Tokens(text string) []string {
	return strings.Fields(Normalize(text))
}
