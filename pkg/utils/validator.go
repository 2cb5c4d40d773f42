package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateIdentifier checks a tenant or instance id before it becomes a path segment
func ValidateIdentifier(kind, value string) error {
	if !identifierRegex.MatchString(value) {
		return fmt.Errorf("invalid %s %q: use 1-64 letters, digits, '_' or '-'", kind, value)
	}
	return nil
}

// ValidateAccessToken rejects empty tokens and tokens with whitespace or control characters
func ValidateAccessToken(token string) error {
	if token == "" {
		return fmt.Errorf("access token is required")
	}
	if strings.IndexFunc(token, func(r rune) bool { return r <= ' ' || r == 0x7f }) >= 0 {
		return fmt.Errorf("access token contains whitespace or control characters")
	}
	return nil
}

// ValidateOneOf checks that value is one of allowed
func ValidateOneOf(kind, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: must be one of %s", kind, value, strings.Join(allowed, ", "))
}

// MaskSecret keeps the last four characters of a secret for display
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
