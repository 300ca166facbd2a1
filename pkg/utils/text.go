// Package utils provides shared utilities for text, math, and logging.
package utils

// Truncate cuts s after maxLen runes and marks the cut with "...".
// A non-positive maxLen disables truncation.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
