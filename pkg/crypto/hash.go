package crypto

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash generates a BLAKE2b-256 hash
func Hash(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// Fingerprint returns the hex BLAKE2b-256 digest of data
func Fingerprint(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// VerifyFingerprint reports whether fingerprint is the digest of data
func VerifyFingerprint(data []byte, fingerprint string) bool {
	expected, err := hex.DecodeString(fingerprint)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(Hash(data), expected) == 1
}
