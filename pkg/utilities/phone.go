package utilities

import "strings"

// NormalizePhone keeps only the ASCII digits of a phone number, so
// "+91 98765-43210" and "919876543210" resolve to the same identifier.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
