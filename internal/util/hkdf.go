package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const HKDFKeyLength = 32

var (
	sealingKeySalt = []byte("regconsole:credential-store:v1")
	sealingKeyInfo = []byte("regconsole:sealing-key")
)

func HKDF(seed []byte, salt []byte, info []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}

// DeriveSealingKey turns an operator-supplied secret into the AES-256 key
// that seals the persisted credential.
func DeriveSealingKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("sealing secret must not be empty")
	}
	return HKDF([]byte(secret), sealingKeySalt, sealingKeyInfo)
}
