package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// commonPasswords are rejected outright when RejectVeryWeak is on. The list
// stays tiny on purpose; full strength estimation is out of scope here.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"11111111":    {},
	"letmein":     {},
	"iloveyou":    {},
	"abc123":      {},
}

// Validate applies the length policy and, when enabled, the trivial-pattern
// check. Lengths count runes so multi-byte characters are not penalized.
func (c Config) Validate(password string) error {
	switch n := utf8.RuneCountInString(password); {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak && triviallyWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// triviallyWeak flags the patterns at the top of every breach list: known
// strings, a single repeated character, and short digit-only PINs.
func triviallyWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	if _, known := commonPasswords[strings.ToLower(s)]; known {
		return true
	}

	runes := []rune(s)
	repeated := true
	for _, r := range runes[1:] {
		if r != runes[0] {
			repeated = false
			break
		}
	}
	if repeated {
		return true
	}

	digitsOnly := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) == -1
	return digitsOnly && len(runes) < 12
}
