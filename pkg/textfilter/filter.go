package textfilter

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ForImagePrompt strips characters that image generators handle badly
// (emoji, pictographs, control and private-use runes) and collapses
// whitespace so narration can be used as a single-line prompt.
func ForImagePrompt(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.Is(unicode.So, r), unicode.Is(unicode.Sk, r):
			// emoji and modifier symbols
		case unicode.Is(unicode.Cs, r), unicode.Is(unicode.Co, r), unicode.IsControl(r):
		case unicode.Is(unicode.Cf, r), r == '\ufe0f':
			// zero-width joiner and emoji presentation selector
		default:
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Fold returns a caseless form of s for comparisons.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// EqualFold reports whether a and b are equal under Unicode case folding.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}

// MatchAllowed resolves a player-entered value against a story's allowed
// list and returns the canonical spelling from that list. An empty list
// allows anything; the value is then returned in title case.
func MatchAllowed(value string, allowed []string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	if len(allowed) == 0 {
		return cases.Title(language.English).String(value), true
	}

	for _, candidate := range allowed {
		if EqualFold(candidate, value) {
			return candidate, true
		}
	}
	return "", false
}
