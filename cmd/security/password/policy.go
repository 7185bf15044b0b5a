package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var commonPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"123456":      {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"11111111":    {},
	"letmein":     {},
	"iloveyou":    {},
	"commune":     {},
}

// Validate checks plain against the policy. Lengths count runes.
func (c Config) Validate(plain string) error {
	switch n := utf8.RuneCountInString(plain); {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && veryWeak(plain) {
		return ErrWeakPassword
	}
	return nil
}

// veryWeak catches a handful of obvious cases only: one repeated character,
// short all-digit PINs and a short list of common passwords.
func veryWeak(plain string) bool {
	s := strings.TrimSpace(plain)
	if s == "" {
		return true
	}
	if _, ok := commonPasswords[strings.ToLower(s)]; ok {
		return true
	}

	n := utf8.RuneCountInString(s)
	first, _ := utf8.DecodeRuneInString(s)
	if strings.Count(s, string(first)) == n {
		return true
	}
	allDigits := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
	return allDigits && n < 12
}
