package utils

import (
	"strings"
	"unicode"
)

// E.164 allows at most 15 digits; anything under 7 cannot be dialled.
const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// NormalizeString trims surrounding whitespace and drops control characters,
// keeping newlines and tabs so free text like symptoms survives intact.
func NormalizeString(s string) string {
	s = strings.TrimSpace(s)
	if strings.IndexFunc(s, isStrippable) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isStrippable(r) {
			return -1
		}
		return r
	}, s)
}

func isStrippable(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t'
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps the digits of a phone number and a single leading '+'.
// The international "00" dialling prefix is rewritten to '+', so "00255..."
// and "+255..." resolve to the same subscriber.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(phone))
	for i, r := range phone {
		switch {
		case i == 0 && r == '+':
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}

	out := b.String()
	if strings.HasPrefix(out, "00") && len(out) > 2 {
		out = "+" + out[2:]
	}
	return out
}

// IsValidPhone reports whether a normalized phone has a plausible digit count.
func IsValidPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
