// Package pin implements the financial-data lock: salted one-way PIN
// digests, the per-request visibility gate, and the token-based recovery
// flow. Plaintext PINs never touch the database; only Argon2id digests do.
package pin

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

const (
	pinLength = 4

	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

// ErrInvalidPinFormat is returned when a submitted PIN is not exactly four
// digits. Format is checked before any hashing happens.
var ErrInvalidPinFormat = errors.New("PIN must be exactly 4 digits")

// Hasher derives PIN digests from a server-held salt. The salt is
// deployment configuration, not per-account data, so a database leak alone
// is not enough to brute-force PINs offline.
type Hasher struct {
	salt []byte
}

func NewHasher(salt string) *Hasher {
	return &Hasher{salt: []byte(salt)}
}

// Hash derives a 32-byte Argon2id digest for the given PIN.
func (h *Hasher) Hash(pin string) []byte {
	return argon2.IDKey([]byte(pin), h.salt, argonTime, argonMem, argonPar, keySize)
}

// Verify reports whether the PIN matches the stored digest. The comparison
// is constant-time over the fixed-length digest.
func (h *Hasher) Verify(pin string, digest []byte) bool {
	if len(digest) != keySize {
		return false
	}
	computed := h.Hash(pin)
	return subtle.ConstantTimeCompare(computed, digest) == 1
}

// ValidFormat reports whether the attempt is exactly four ASCII digits.
func ValidFormat(attempt string) bool {
	if len(attempt) != pinLength {
		return false
	}
	for i := 0; i < len(attempt); i++ {
		if attempt[i] < '0' || attempt[i] > '9' {
			return false
		}
	}
	return true
}
