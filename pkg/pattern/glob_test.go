/*
Copyright © 2026 3 Leaps <info@3leaps.net>
*/
package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"naif????.tls", "naif0012.tls", true},
		{"naif????.tls", "naif012.tls", false},
		{"naif????.tls", "naif0012.tls.pc", false},
		{"naif????.tls.pc", "naif0012.tls.pc", true},
		{"latest_leapseconds.tls", "latest_leapseconds.tls", true},
		{"*.bsp", "p10-a.bsp", true},
		{"*.bsp", "p10-a.bsp.lbl", false},
		{"*.bsp", ".bsp", true},
		{"juno_v??.*", "juno_v12.tf", true},
		{"juno_v??.*", "juno_v12.lbl", true},
		{"juno_v??.*", "JUNO_V12.tf", false},
		{"??????R_SCPSE_?????_?????.bsp", "200128RU_SCPSE_00010_01000.bsp", false},
		{"??????R_SCPSE_?????_?????.bsp", "171002R_SCPSE_17224_17258.bsp", true},
		{"Voyager_1.a54206u_V0.2_merged.bsp", "Voyager_1.a54206u_V0.2_merged.bsp", true},
		{"Voyager_1.a54206u_V0.2_merged.bsp", "Voyager_1xa54206u_V0.2_merged.bsp", false},
		{"a+b(c)[d]{e}^$|\\.bsp", "a+b(c)[d]{e}^$|\\.bsp", true},
		{"**", "anything at all", true},
		{"*", "", true},
		{"?", "é", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.name, func(t *testing.T) {
			g, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Match(tt.name))
		})
	}
}

func TestCompileEmpty(t *testing.T) {
	_, err := Compile("")
	assert.ErrorIs(t, err, ErrEmptyPattern)
}

func TestGlobToRegexp(t *testing.T) {
	expr, err := GlobToRegexp("de440s.bsp")
	require.NoError(t, err)
	assert.Equal(t, `^(?s:de440s\.bsp)$`, expr)

	expr, err = GlobToRegexp("a**?b")
	require.NoError(t, err)
	assert.Equal(t, `^(?s:a.*.b)$`, expr)
}

func TestFilterPreservesOrderAndIsSubsequence(t *testing.T) {
	listing := []string{"z.bsp", "a.bsp", "readme.txt", "m.bsp", "a.bsp.lbl"}

	got, err := Filter(listing, "*.bsp")
	require.NoError(t, err)
	assert.Equal(t, []string{"z.bsp", "a.bsp", "m.bsp"}, got)
	assertSubsequence(t, listing, got)
}

func TestFilterStarReturnsListingUnchanged(t *testing.T) {
	listing := []string{"naif0011.tls", "naif0012.tls", "latest_leapseconds.tls", "aareadme.txt"}

	got, err := Filter(listing, "*")
	require.NoError(t, err)
	assert.Equal(t, listing, got)
}

func TestFilterUnionsPatternsWithoutDuplicates(t *testing.T) {
	listing := []string{"latest_leapseconds.tls", "naif0011.tls", "naif0012.tls", "naif0012.tls.pc"}

	got, err := Filter(listing, "naif????.tls", "latest_leapseconds.tls", "*.tls")
	require.NoError(t, err)
	assert.Equal(t, []string{"latest_leapseconds.tls", "naif0011.tls", "naif0012.tls"}, got)
}

func TestFilterDuplicateListingEntries(t *testing.T) {
	got, err := Filter([]string{"a.bsp", "a.bsp", "b.bsp"}, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bsp", "b.bsp"}, got)
}

func TestFilterNoPatterns(t *testing.T) {
	got, err := Filter([]string{"a.bsp"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFilterInvalidPattern(t *testing.T) {
	_, err := Filter([]string{"a.bsp"}, "*.bsp", "")
	assert.Error(t, err)
}

func assertSubsequence(t *testing.T, full, sub []string) {
	t.Helper()
	i := 0
	for _, s := range sub {
		for i < len(full) && full[i] != s {
			i++
		}
		if i == len(full) {
			t.Fatalf("%v is not a subsequence of %v", sub, full)
		}
		i++
	}
}
