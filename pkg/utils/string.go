package utils

import "strings"

// Truncate shortens s to at most maxLen runes followed by "...". Newlines
// are folded to spaces so the result fits on one table row.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
