// Package cryptox wraps the symmetric primitives used for credential
// storage: AES-GCM sealing/opening and argon2id key derivation.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// NonceSize is the AES-GCM nonce length used by Seal.
const NonceSize = 12

// DeriveStorageKey derives a 32-byte AES key from a device secret and salt
// using argon2id. Same inputs always produce the same key, so encrypted
// records survive process restarts.
func DeriveStorageKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

// RandBytes returns size cryptographically random bytes.
func RandBytes(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the platform RNG is broken; nothing
		// sensible can continue.
		panic(err)
	}
	return b
}

// Seal encrypts plaintext with AES-GCM under key. A fresh random nonce is
// generated per call and returned alongside the ciphertext. The key must be
// 16, 24 or 32 bytes.
func Seal(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("new cipher: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("new gcm: %w", err)
	}

	nonce = RandBytes(NonceSize)
	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Open decrypts ciphertext produced by Seal. Authentication failure (wrong
// key, tampered data, wrong nonce) returns an error from the GCM layer.
func Open(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Wipe zeroes a byte slice holding sensitive material such as a password.
// A nil slice is a no-op.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
