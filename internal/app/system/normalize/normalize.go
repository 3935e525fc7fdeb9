// Package normalize provides helper functions for consistent string normalization
// of account fields before they are validated or stored.
package normalize

import (
	"strings"

	"github.com/dalemusser/stratabook/internal/app/system/htmlsanitize"
)

// Email normalizes an email address by trimming whitespace and converting to lowercase.
// This is the canonical way to normalize emails before storage or comparison.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Login trims surrounding whitespace. Logins are case-sensitive.
func Login(s string) string {
	return strings.TrimSpace(s)
}

// Name strips any markup and trims whitespace.
// Use text.Fold() for case-insensitive comparison keys.
func Name(s string) string {
	return strings.TrimSpace(htmlsanitize.StripTags(s))
}

// QueryParam normalizes a query parameter by trimming whitespace.
func QueryParam(s string) string {
	return strings.TrimSpace(s)
}
