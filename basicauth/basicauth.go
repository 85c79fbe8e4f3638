// Package basicauth encodes and decodes the credentials presented in HTTP
// Basic authorization headers.
package basicauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Alphabet is the 65-character base64 alphabet, padding included.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

const (
	// Scheme is the authorization scheme prefix, including the trailing space.
	Scheme = "Basic "
	// SentinelHeader is presented after logout so requests fail authorization
	// deterministically instead of reusing a stale credential.
	SentinelHeader = Scheme
)

var (
	// ErrMalformedInput matches a *MalformedInputError.
	ErrMalformedInput = errors.New("malformed base64 input")
	// ErrNotBasic indicates an authorization header with a different scheme.
	ErrNotBasic = errors.New("not a basic authorization header")
	// ErrMissingSeparator indicates a decoded credential without a colon.
	ErrMissingSeparator = errors.New("credential has no username separator")
)

// MalformedInputError reports characters outside Alphabet that were removed
// while decoding. The decoded value returned alongside it is still usable.
type MalformedInputError struct {
	Removed int
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("%s: %d invalid characters removed", ErrMalformedInput, e.Removed)
}

func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// Encode returns the padded base64 encoding of the UTF-8 bytes of s.
func Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Decode decodes s on a best-effort basis. Characters outside Alphabet are
// stripped, decoding stops at the first padding character and a dangling
// single-character quantum is ignored. The decoded string is always returned;
// a *MalformedInputError accompanies it when characters had to be removed.
func Decode(s string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s))
	removed := 0
	for _, r := range s {
		if r > 0x7f || strings.IndexByte(Alphabet, byte(r)) < 0 {
			removed++
			continue
		}
		sb.WriteRune(r)
	}

	clean := sb.String()
	if i := strings.IndexByte(clean, '='); i >= 0 {
		clean = clean[:i]
	}
	if len(clean)%4 == 1 {
		clean = clean[:len(clean)-1]
	}

	out, err := base64.RawStdEncoding.DecodeString(clean)
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}
	if removed > 0 {
		return string(out), &MalformedInputError{Removed: removed}
	}
	return string(out), nil
}

// Credential encodes a username and password pair.
func Credential(username, password string) string {
	return Encode(username + ":" + password)
}

// Header returns the Authorization header value for an encoded credential.
func Header(credential string) string {
	return Scheme + credential
}

// ParseHeader extracts the username and password from a Basic authorization
// header. Unlike Decode it rejects malformed payloads.
func ParseHeader(h string) (username, password string, err error) {
	payload, ok := strings.CutPrefix(h, Scheme)
	if !ok {
		return "", "", ErrNotBasic
	}
	decoded, err := Decode(payload)
	if err != nil {
		return "", "", err
	}
	username, password, ok = strings.Cut(decoded, ":")
	if !ok {
		return "", "", ErrMissingSeparator
	}
	return username, password, nil
}
