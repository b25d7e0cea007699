package util

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// NormalizeSubject canonicalizes an email or phone subject so the same
// address always maps to the same code-store key.
func NormalizeSubject(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, r := range []string{" ", "-", "(", ")"} {
		s = strings.ReplaceAll(s, r, "")
	}
	return s
}

// SubjectHash returns the SHA-256 lookup hash for a subject. Used as the
// store key for email/phone lookups and in audit rows, so raw PII never
// lands in either place.
func SubjectHash(s string) string {
	sum := sha256.Sum256([]byte(NormalizeSubject(s)))
	return hex.EncodeToString(sum[:])
}
