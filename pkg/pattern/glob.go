/*
Copyright © 2026 3 Leaps <info@3leaps.net>
*/
package pattern

import (
	"regexp"
	"strings"
)

var (
	ErrEmptyPattern = errorString("empty pattern")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// Glob is a compiled filename pattern. '?' matches exactly one character,
// '*' matches any run of characters (including none), and every other
// character matches itself. Matching is case-sensitive and anchored.
type Glob struct {
	raw string
	re  *regexp.Regexp
}

// GlobToRegexp translates a filename glob into an anchored regular expression.
func GlobToRegexp(glob string) (string, error) {
	if glob == "" {
		return "", ErrEmptyPattern
	}

	var result strings.Builder
	result.WriteString(`^(?s:`)
	literal := 0
	flush := func(i int) {
		if i > literal {
			result.WriteString(regexp.QuoteMeta(glob[literal:i]))
		}
	}
	for i := 0; i < len(glob); i++ {
		switch glob[i] {
		case '*':
			flush(i)
			// collapse runs of '*'
			for i+1 < len(glob) && glob[i+1] == '*' {
				i++
			}
			result.WriteString(`.*`)
			literal = i + 1
		case '?':
			flush(i)
			result.WriteString(`.`)
			literal = i + 1
		}
	}
	flush(len(glob))
	result.WriteString(`)$`)
	return result.String(), nil
}

// Compile parses a glob into a reusable matcher.
func Compile(glob string) (*Glob, error) {
	expr, err := GlobToRegexp(glob)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Glob{raw: glob, re: re}, nil
}

// MustCompile is Compile for patterns known to be valid.
func MustCompile(glob string) *Glob {
	g, err := Compile(glob)
	if err != nil {
		panic("pattern: " + err.Error())
	}
	return g
}

// Match reports whether name matches the glob.
func (g *Glob) Match(name string) bool {
	return g.re.MatchString(name)
}

// String returns the original glob text.
func (g *Glob) String() string { return g.raw }

// Filter returns the names from listing that match any of the patterns. The
// result preserves listing order and contains each name at most once.
func Filter(listing []string, patterns ...string) ([]string, error) {
	globs := make([]*Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := Compile(p)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return FilterCompiled(listing, globs...), nil
}

// FilterCompiled is Filter over already compiled globs.
func FilterCompiled(listing []string, globs ...*Glob) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range listing {
		if seen[name] {
			continue
		}
		for _, g := range globs {
			if g.Match(name) {
				seen[name] = true
				out = append(out, name)
				break
			}
		}
	}
	return out
}
