package turn

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s, strips diacritics and replaces punctuation with spaces
// so "¡Adiós!" compares equal to "adios".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, folded)
}

// findPhrase returns the first phrase that appears in text as whole words.
func findPhrase(text string, phrases []string) (string, bool) {
	haystack := " " + strings.Join(strings.Fields(fold(text)), " ") + " "
	for _, p := range phrases {
		needle := strings.Join(strings.Fields(fold(p)), " ")
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, " "+needle+" ") {
			return p, true
		}
	}
	return "", false
}
