package extract

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// NormalizeText canonicalizes multilingual caption text for comparison:
// NFKC unicode normalization, case folding, whitespace collapse.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = foldCaser.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizedContains reports whether needle appears in haystack after both
// are normalized. This is the "agreement" check between the deterministic
// and model extraction paths.
func NormalizedContains(haystack, needle string) bool {
	h := NormalizeText(haystack)
	n := NormalizeText(needle)
	if n == "" {
		return false
	}
	return strings.Contains(h, n) || strings.Contains(n, h)
}
