// Package security holds the key material and rate limiting used by
// the submission spool and the ingest API.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInsufficientEntropy = errors.New("security: insufficient entropy")
	ErrWeakKey             = errors.New("security: key is too weak")
	ErrInvalidKeySize      = errors.New("security: invalid key size")
)

// MinKeySize is the minimum allowed key size in bytes.
const MinKeySize = 16

// SpoolKeySize is the size of derived spool authentication keys.
const SpoolKeySize = 32

// GenerateKey generates a cryptographically secure random key.
func GenerateKey(size int) ([]byte, error) {
	if size < MinKeySize {
		return nil, fmt.Errorf("%w: minimum %d bytes required", ErrInvalidKeySize, MinKeySize)
	}

	key := make([]byte, size)
	if n, err := rand.Read(key); err != nil || n != len(key) {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientEntropy, err)
	}

	return key, nil
}

// DeriveKey derives a key from a master key using HKDF with SHA-256.
func DeriveKey(masterKey, salt, info []byte, keySize int) ([]byte, error) {
	if len(masterKey) < MinKeySize {
		return nil, fmt.Errorf("%w: master key is %d bytes, minimum %d required",
			ErrWeakKey, len(masterKey), MinKeySize)
	}
	if keySize < MinKeySize {
		return nil, fmt.Errorf("%w: minimum %d bytes required", ErrInvalidKeySize, MinKeySize)
	}

	reader := hkdf.New(sha256.New, masterKey, salt, info)
	derived := make([]byte, keySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	return derived, nil
}

// DeriveKeyWithLabel derives a key with a domain separation label so
// the same master key can serve distinct purposes.
func DeriveKeyWithLabel(masterKey []byte, label string, keySize int) ([]byte, error) {
	info := []byte("proctord:" + label)
	return DeriveKey(masterKey, nil, info, keySize)
}

// SpoolKey derives the per-session key used to authenticate spooled
// submission rows.
func SpoolKey(masterKey []byte, sessionID string) ([]byte, error) {
	return DeriveKeyWithLabel(masterKey, "spool:"+sessionID, SpoolKeySize)
}

// Authenticate computes an HMAC-SHA256 tag over data.
func Authenticate(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyTag checks an HMAC tag in constant time.
func VerifyTag(key, data, tag []byte) bool {
	expected := Authenticate(key, data)
	return subtle.ConstantTimeCompare(expected, tag) == 1
}

// Wipe overwrites sensitive data in place.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// ValidateKeyStrength checks if a key meets minimum requirements.
func ValidateKeyStrength(key []byte) error {
	if len(key) < MinKeySize {
		return fmt.Errorf("%w: key is %d bytes, minimum %d required",
			ErrWeakKey, len(key), MinKeySize)
	}

	first := key[0]
	allSame := true
	for _, b := range key {
		if b != first {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("%w: key has no variation", ErrWeakKey)
	}

	return nil
}
