// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	saltLen             = 16
)

// ErrMalformedHash indicates a stored hash of unexpected length.
var ErrMalformedHash = errors.New("malformed password hash")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns a self-contained salt||key Argon2id encoding of
// password. A fresh random salt is generated per call.
func HashPassword(password []byte) ([]byte, error) {
	salt, err := RandBytes(saltLen)
	if err != nil {
		return nil, err
	}
	key := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return append(salt, key...), nil
}

// VerifyPassword verifies password against a salt||key encoding produced by
// HashPassword. Comparison is constant-time.
func VerifyPassword(password, encoded []byte) (bool, error) {
	if len(encoded) != saltLen+int(argonKeyLen) {
		return false, ErrMalformedHash
	}
	salt, expected := encoded[:saltLen], encoded[saltLen:]
	got := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, expected) == 1, nil
}
