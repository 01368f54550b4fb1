// Package crypto hashes the passwords held by the development matching server.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. The stub server keeps accounts in memory only, so the
// cost is kept low enough for test suites that register many users.
const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 8 * 1024 // 8 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	SaltLen = 16
)

// Credential is a salted password hash.
type Credential struct {
	Salt []byte
	Hash []byte
}

// NewCredential salts and hashes password.
func NewCredential(password string) (Credential, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return Credential{}, err
	}
	return Credential{Salt: salt, Hash: HashPassword([]byte(password), salt)}, nil
}

// HashPassword returns the Argon2id hash of password using salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Verify reports whether password matches c in constant time.
func (c Credential) Verify(password string) bool {
	if len(c.Hash) == 0 {
		return false
	}
	got := HashPassword([]byte(password), c.Salt)
	return subtle.ConstantTimeCompare(got, c.Hash) == 1
}
