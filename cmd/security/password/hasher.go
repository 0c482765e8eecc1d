package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

// Hasher derives stored password digests.
//
// Hash must be deterministic and order-sensitive over password || salt and
// return a fixed-length lowercase hex string. It never fails: the empty
// password is hashed like any other string.
type Hasher interface {
	Hash(password, salt string) string
	NewSalt() string
}

// SHA256Hasher computes hex(SHA-256(password || salt)).
type SHA256Hasher struct{}

// Hash implements Hasher.
func (SHA256Hasher) Hash(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// NewSalt implements Hasher.
func (SHA256Hasher) NewSalt() string { return NewSalt() }

// Argon2idHasher computes hex(argon2id(password || salt, salt)) with fixed params.
type Argon2idHasher struct {
	Params Argon2idParams
}

// Hash implements Hasher.
func (h Argon2idHasher) Hash(password, salt string) string {
	p := h.Params
	if p.Iterations == 0 {
		p.Iterations = 1
	}
	if p.Parallelism == 0 {
		p.Parallelism = 1
	}
	if p.MemoryKiB < 8 {
		p.MemoryKiB = 8
	}
	if p.KeyLength < 16 {
		p.KeyLength = 32
	}

	key := argon2.IDKey(
		[]byte(password+salt),
		[]byte(salt),
		p.Iterations,
		p.MemoryKiB,
		p.Parallelism,
		p.KeyLength,
	)
	return hex.EncodeToString(key)
}

// NewSalt implements Hasher.
func (Argon2idHasher) NewSalt() string { return NewSalt() }

// NewSalt returns a fresh random salt (UUIDv4 text form).
func NewSalt() string {
	return uuid.NewString()
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
