// Package textutil holds small string helpers shared by storage-bound error text.
package textutil

import "unicode/utf8"

const ellipsis = "..."

// Truncate shortens s to at most max bytes plus an ellipsis, cutting on a rune
// boundary so the result stays valid UTF-8.
func Truncate(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

// Clip is Truncate without the ellipsis, for fixed-width columns.
func Clip(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
