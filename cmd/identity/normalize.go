package identity

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// MinNameLength applies to user display names.
const MinNameLength = 2

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeName trims surrounding whitespace.
func NormalizeName(s string) string {
	return strings.TrimSpace(s)
}

// ValidEmail accepts a bare addr-spec ("a@b.c"); display-name forms are rejected.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// ValidName enforces the minimum length in runes.
func ValidName(s string) bool {
	return utf8.RuneCountInString(NormalizeName(s)) >= MinNameLength
}

func validateCreateUser(op string, in CreateUserInput) error {
	if !ValidName(in.Name) {
		return invalid(op, "name must be at least 2 characters")
	}
	if !ValidEmail(in.Email) {
		return invalid(op, "email must be a valid email address")
	}
	if in.Password == "" {
		return invalid(op, "password is required")
	}
	return nil
}
