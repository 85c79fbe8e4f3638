package util

import (
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFC form of s so that visually identical usernames
// and passwords encode to the same credential.
func Normalize(s string) string {
	return norm.NFC.String(s)
}
