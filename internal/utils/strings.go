// Package utils provides common utility functions.
package utils

import "strings"

// MaskToken masks a payment credential for safe logging (shows first 8 and
// last 4 chars). Use this to avoid logging spendable ecash in plain text.
func MaskToken(token string) string {
	if token == "" {
		return "(empty)"
	}
	if len(token) < 16 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}

// Truncate shortens s to at most n runes, appending an ellipsis when it cut
// anything. Used for response excerpts in reports and logs.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
