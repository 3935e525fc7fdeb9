// internal/app/system/authutil/password.go
package authutil

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Plain-text password bounds, in characters.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 128
)

var (
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	ErrPasswordTooLong  = errors.New("password must be at most 128 characters")
	ErrPasswordBlank    = errors.New("password must not be only whitespace")
	ErrPasswordCommon   = errors.New("password is too common")
)

// weakPasswords are refused regardless of case.
var weakPasswords = map[string]struct{}{}

func init() {
	for _, p := range strings.Fields(`
		123456 1234567 12345678 123456789 1234567890 111111 000000 123123 654321
		password password1 passw0rd qwerty qwerty123 qwertyuiop abc123 abcdef
		iloveyou monkey dragon master letmein welcome login admin princess
		sunshine football baseball trustno1 stratabook`) {
		weakPasswords[p] = struct{}{}
	}
}

// ValidatePassword checks a plain-text password against the policy. The
// first broken rule is returned.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < MinPasswordLength:
		return ErrPasswordTooShort
	case n > MaxPasswordLength:
		return ErrPasswordTooLong
	case strings.IndexFunc(password, func(r rune) bool { return !unicode.IsSpace(r) }) < 0:
		return ErrPasswordBlank
	}
	if _, weak := weakPasswords[strings.ToLower(password)]; weak {
		return ErrPasswordCommon
	}
	return nil
}
