// Package fieldnorm holds the pure value normalizers applied to widget field
// values before they are mirrored into the CRM form.
package fieldnorm

import (
	"regexp"
	"strings"
	"unicode"
)

// SplitName splits a display name on whitespace. The first token is the first
// name; the remaining tokens, joined by single spaces, are the last name.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// NormalizePhone converts a raw phone string to a dialable form. It is total:
// input without digits yields "". North American numbers (10 digits, or 11
// starting with 1) gain a +1 country prefix; numbers already carrying a +
// keep it; anything else is returned as its stripped digits.
func NormalizePhone(raw string) string {
	var b strings.Builder
	digits := 0
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+':
			b.WriteRune(r)
		}
	}
	if digits == 0 {
		return ""
	}

	stripped := b.String()
	if strings.HasPrefix(stripped, "+") {
		return stripped
	}

	onlyDigits := strings.ReplaceAll(stripped, "+", "")
	switch {
	case len(onlyDigits) == 11 && onlyDigits[0] == '1':
		return "+" + onlyDigits
	case len(onlyDigits) == 10:
		return "+1" + onlyDigits
	default:
		return stripped
	}
}

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s has the local@domain.tld shape with no
// embedded whitespace.
func ValidEmail(s string) bool {
	if s == "" || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return false
	}
	return emailShape.MatchString(s)
}
