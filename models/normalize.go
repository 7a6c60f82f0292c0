package models

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName canonicalizes a first or last name for case-insensitive matching.
// Composed and decomposed forms of the same letters compare equal. A Caser keeps
// state, so a fresh one is built per call.
func NormalizeName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return norm.NFC.String(cases.Fold().String(norm.NFC.String(s)))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
