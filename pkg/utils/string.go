package utils

import (
	"strings"
	"unicode"
)

// SanitizeString strips control characters (except common whitespace)
// and trims the result. Board names and usernames pass through here
// before they are stored or broadcast.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// NormalizeEmail normalizes an email address
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	email = strings.ToLower(email)
	return email
}

// MaskSensitive masks sensitive information, keeping only a short
// visible prefix. Tokens never hit the logs unmasked.
func MaskSensitive(s string, visibleChars int) string {
	if len(s) <= visibleChars {
		return strings.Repeat("*", len(s))
	}
	return s[:visibleChars] + strings.Repeat("*", len(s)-visibleChars)
}

// IsEmpty checks if string is empty or only whitespace
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
