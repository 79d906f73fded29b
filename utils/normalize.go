package utils

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail canonicalizes an email for storage and lookup. Emails are
// unique case-insensitively.
func NormalizeEmail(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}

// NormalizeUsername returns the display form of a username (trimmed, NFKC).
func NormalizeUsername(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}

// UsernameKey returns the lower-cased form used for the uniqueness index.
func UsernameKey(s string) string {
	return strings.ToLower(NormalizeUsername(s))
}
