// internal/app/system/authutil/authutil.go
// Package authutil turns plain-text secrets into the 64-character hex digests
// stored on accounts and in password history, and checks plain-text
// passwords against the local password policy.
package authutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Changing any of them invalidates every stored digest.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32 // 64 hex characters
)

// Hasher derives deterministic digests so that history membership can be
// tested with plain equality. The salt is derived from the account login and
// a server-side pepper; two accounts picking the same secret therefore get
// different digests.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a Hasher using pepper as the server-side secret.
func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: []byte(pepper)}
}

// Hash returns the lowercase hex digest of password for login.
func (h *Hasher) Hash(login, password string) string {
	key := argon2.IDKey([]byte(password), h.salt(login), argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(key)
}

// Matches reports whether password hashes to digest for login.
func (h *Hasher) Matches(login, password, digest string) bool {
	got := h.Hash(login, password)
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}

func (h *Hasher) salt(login string) []byte {
	sum := sha256.New()
	sum.Write(h.pepper)
	sum.Write([]byte{0})
	sum.Write([]byte(login))
	return sum.Sum(nil)
}
