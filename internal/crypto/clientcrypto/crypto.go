// Package clientcrypto seals persisted session slots at rest.
package clientcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// VaultKeyLen is the size of the local vault key and of every derived slot key.
const VaultKeyLen = 32

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveSlotKey derives a per-slot key via HKDF-SHA256 using the slot name as info.
func DeriveSlotKey(vaultKey []byte, slot string) ([]byte, error) {
	r := hkdf.New(sha256.New, vaultKey, nil, []byte(slot))
	key := make([]byte, VaultKeyLen)
	_, err := r.Read(key)
	return key, err
}

// Seal encrypts plaintext with XChaCha20-Poly1305, AAD = slot name, random nonce prefixed.
func Seal(key []byte, slot string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, []byte(slot))...)
	return out, nil
}

// Open decrypts a blob produced by Seal for the same slot.
func Open(key []byte, slot string, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("blob too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, []byte(slot))
}
