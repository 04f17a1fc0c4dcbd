package util

import "strings"

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// PhoneDigits reduces a phone in any accepted representation ("+55 34 99999-0000",
// "5534999990000@s.whatsapp.net", "5534999990000:12@s.whatsapp.net") to bare digits.
// ok is false when the value is not a phone, e.g. an opaque source id.
func PhoneDigits(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	d := b.String()
	if len(d) < minPhoneDigits || len(d) > maxPhoneDigits {
		return "", false
	}
	return d, true
}

// E164 renders digits as "+<digits>".
func E164(digits string) string {
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// WhatsAppJID is the user address the WhatsApp provider uses for a phone.
func WhatsAppJID(digits string) string {
	return digits + "@s.whatsapp.net"
}
