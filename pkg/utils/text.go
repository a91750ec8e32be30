// Package utils provides logger construction and text helpers shared by the CLI and server.
package utils

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// Truncate shortens s to at most maxLen runes and marks the cut with "...".
// A non-positive maxLen disables truncation.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}

// Excerpt collapses runs of whitespace, including newlines, into single spaces and
// truncates the result for one-line display.
func Excerpt(s string, maxLen int) string {
	return Truncate(strings.Join(strings.Fields(s), " "), maxLen)
}
