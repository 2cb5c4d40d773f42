// Package chatid normalizes provider chat identifiers into the canonical
// form used for storage paths and message lookups.
//
// Rules, applied in order:
//
//  1. an id already in synthetic group form ("group_" + 12 digits) is kept
//  2. any "@domain" suffix is stripped and only digits are kept
//  3. more than 15 digits starting with the group prefix "120363" become
//     "group_" + the last 12 digits
//  4. 10 or more digits are used as-is
//  5. anything else falls back to the suffix-stripped id with every character
//     outside [A-Za-z0-9_-] removed
//
// Normalize is idempotent: Normalize(Normalize(x)) == Normalize(x).
package chatid

import (
	"regexp"
	"strings"
)

const (
	// GroupPrefix is the leading digit run of provider group identifiers
	GroupPrefix = "120363"

	// SyntheticGroupPrefix prefixes derived group identifiers
	SyntheticGroupPrefix = "group_"

	groupTailDigits     = 12
	maxIndividualDigits = 15
	minIndividualDigits = 10
)

var (
	syntheticGroupPattern = regexp.MustCompile(`^group_[0-9]{12}$`)
	unsafeChars           = regexp.MustCompile(`[^A-Za-z0-9_\-]`)
)

// Normalize returns the canonical chat id for a raw provider chat id
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if IsSyntheticGroup(s) {
		return s
	}

	base := StripSuffix(s)
	digits := onlyDigits(base)

	if len(digits) > maxIndividualDigits && strings.HasPrefix(digits, GroupPrefix) {
		return SyntheticGroupPrefix + digits[len(digits)-groupTailDigits:]
	}
	if len(digits) >= minIndividualDigits {
		return digits
	}
	return unsafeChars.ReplaceAllString(base, "")
}

// IsSyntheticGroup reports whether id is already a derived group identifier
func IsSyntheticGroup(id string) bool {
	return syntheticGroupPattern.MatchString(id)
}

// IsGroup reports whether a raw provider chat id refers to a group chat
func IsGroup(raw string) bool {
	s := strings.TrimSpace(raw)
	if strings.HasSuffix(strings.ToLower(s), "@g.us") {
		return true
	}
	return IsSyntheticGroup(Normalize(s))
}

// StripSuffix removes a trailing "@domain" part
func StripSuffix(s string) string {
	if i := strings.Index(s, "@"); i >= 0 {
		return s[:i]
	}
	return s
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
