package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Canonicalize lower-cases id and strips every whitespace rune, so that
// "Voyager 1", "VOYAGER1" and " voyager\t1 " all name the same entry.
func Canonicalize(id string) string {
	folded := cases.Lower(language.Und).String(id)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
}
