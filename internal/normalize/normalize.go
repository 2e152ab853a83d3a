// Package normalize canonicalizes raw business keys so that cosmetic
// variants of the same name collapse to a single cache key.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// statusMarkers lists trailing annotations that carry no identity information
// and must not fragment cache keys.
var statusMarkers = []string{
	"CLOSED", "TERMINATED", "MERGED", "DISSOLVED", "INACTIVE",
	"FROZEN", "SUSPENDED", "IN LIQUIDATION", "FORMER",
}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	// Trailing "(CLOSED)", "[TERMINATED]", "- MERGED" style annotations.
	statusSuffixRe = regexp.MustCompile(
		`(?:\s*[-–]\s*|\s*[(\[]\s*)(` + strings.Join(statusMarkers, "|") + `)(?:\s*[)\]])?\s*$`)
)

// surroundingPairs are quote/bracket pairs stripped when they enclose the
// whole key. CJK pairs appear here pre-narrowed since width.Narrow does not
// fold corner brackets.
var surroundingPairs = [][2]string{
	{`"`, `"`}, {`'`, `'`}, {"`", "`"},
	{"(", ")"}, {"[", "]"}, {"{", "}"},
	{"「", "」"}, {"『", "』"}, // 「」『』
	{"｢", "｣"}, // halfwidth corner brackets, the width.Narrow image of 「」
	{"“", "”"}, {"‘", "’"},
}

// Key canonicalizes a raw lookup key. It is total (never fails; empty or
// unusable input yields ""), deterministic, and idempotent:
// Key(Key(x)) == Key(x).
//
// Steps: fold full-width characters to half-width, trim, strip surrounding
// quotes/brackets, drop trailing status markers, collapse whitespace,
// uppercase.
func Key(raw string) string {
	s := width.Narrow.String(raw)
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = strings.ToUpper(s)
	s = stripSurrounding(s)
	// Stacked annotations ("X (CLOSED) (MERGED)") must fully unwind in one
	// call, or repeated normalization would yield different keys.
	for {
		next := statusSuffixRe.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	return s
}

// stripSurrounding removes matching quote/bracket pairs that enclose the
// entire key, repeating until no pair remains.
func stripSurrounding(s string) string {
	for {
		stripped := false
		for _, pair := range surroundingPairs {
			if len(s) > len(pair[0])+len(pair[1]) &&
				strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
				s = strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}
