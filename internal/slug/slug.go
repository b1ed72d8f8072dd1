// Package slug turns display names into the identifiers entities and environments are addressed by.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var validSlug = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// Make lower-cases name, strips diacritics and collapses every run of other characters
// into a single separator. Underscores survive so "API_KEY" becomes "api_key".
func Make(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingSep := rune(0)
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingSep != 0 && b.Len() > 0 {
				b.WriteRune(pendingSep)
			}
			pendingSep = 0
			b.WriteRune(r)
		case r == '_':
			if pendingSep == 0 {
				pendingSep = '_'
			}
		default:
			pendingSep = '-'
		}
	}
	return b.String()
}

// Valid reports whether s is already in slug form.
func Valid(s string) bool {
	return validSlug.MatchString(s)
}
