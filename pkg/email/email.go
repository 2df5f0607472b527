// Package email classifies and masks OTP destinations.
package email

import (
	"net/mail"
	"strings"
)

// IsAddress reports whether destination looks like an email address rather
// than a phone number.
func IsAddress(destination string) bool {
	at := strings.IndexByte(destination, '@')
	if at <= 0 || at == len(destination)-1 {
		return false
	}
	_, err := mail.ParseAddress(destination)
	return err == nil
}

// Mask hides all but the first character of the local part of an email
// address, or all but the last two digits of a phone number.
func Mask(destination string) string {
	if at := strings.IndexByte(destination, '@'); at > 0 {
		return destination[:1] + strings.Repeat("*", at-1) + destination[at:]
	}
	if len(destination) <= 2 {
		return strings.Repeat("*", len(destination))
	}
	return strings.Repeat("*", len(destination)-2) + destination[len(destination)-2:]
}
