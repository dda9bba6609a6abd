// Package phone holds the numbering-plan heuristics used when talking to
// messaging providers. The rules are regional approximations and are kept
// as data (Policy) rather than hardcoded branches.
package phone

import (
	"strings"
)

// Policy describes how local numbers are promoted to international form.
type Policy struct {
	// CountryCode is prepended to numbers whose digit count is in LocalLengths.
	CountryCode string
	// LocalLengths lists the digit counts considered "missing the country code".
	LocalLengths []int
}

// DefaultPolicy is the Brazilian plan: 10 digit landlines and 11 digit
// mobiles (DDD + number) get the 55 prefix.
func DefaultPolicy() Policy {
	return Policy{CountryCode: "55", LocalLengths: []int{10, 11}}
}

// Normalize strips any JID suffix and every non-digit, then prepends the
// country code when the remaining digit count looks local. Anything else
// is passed through unchanged.
func (p Policy) Normalize(raw string) string {
	digits := Digits(JIDUser(raw))
	if digits == "" || p.CountryCode == "" {
		return digits
	}
	for _, n := range p.LocalLengths {
		if len(digits) == n {
			return p.CountryCode + digits
		}
	}
	return digits
}

// JIDUser returns the user part of a WhatsApp JID ("5511...@s.whatsapp.net").
func JIDUser(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// Digits removes every non-digit rune.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Variants returns the numbers worth trying when looking up a Brazilian
// contact, in order: the number as given, then with the mobile 9th digit
// inserted after the DDD (55 + 12 digits), or removed (55 + 13 digits).
func Variants(number string) []string {
	n := Digits(JIDUser(number))
	if n == "" {
		return nil
	}
	out := []string{n}
	if !strings.HasPrefix(n, "55") {
		return out
	}
	switch len(n) {
	case 12:
		out = append(out, n[:4]+"9"+n[4:])
	case 13:
		out = append(out, n[:4]+n[5:])
	}
	return out
}

// IsNumericName reports whether a display name carries no information
// beyond a phone number.
func IsNumericName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	hasDigit := false
	for _, r := range name {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return hasDigit
}

// IsPlausibleName reports whether a provider supplied name is worth storing.
func IsPlausibleName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && !IsNumericName(name)
}
