package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveStorageKey_Deterministic(t *testing.T) {
	secret := []byte("device-secret")
	salt := []byte("fixed-salt")

	key1 := DeriveStorageKey(secret, salt)
	key2 := DeriveStorageKey(secret, salt)

	require.Equal(t, key1, key2)
	require.Len(t, key1, 32)
}

func TestDeriveStorageKey_DifferentSalts(t *testing.T) {
	secret := []byte("device-secret")

	key1 := DeriveStorageKey(secret, []byte("salt-1"))
	key2 := DeriveStorageKey(secret, []byte("salt-2"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different keys for different salts, got same")
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := RandBytes(32)
	plaintext := []byte("some bearer token material")

	ciphertext, nonce, err := Seal(plaintext, key)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := Open(ciphertext, nonce, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpen_WrongKey(t *testing.T) {
	ciphertext, nonce, err := Seal([]byte("data"), RandBytes(32))
	require.NoError(t, err)

	_, err = Open(ciphertext, nonce, RandBytes(32))
	require.Error(t, err)
}

func TestOpen_TamperedCiphertext(t *testing.T) {
	key := RandBytes(32)
	ciphertext, nonce, err := Seal([]byte("data"), key)
	require.NoError(t, err)

	ciphertext[0] ^= 0xff

	_, err = Open(ciphertext, nonce, key)
	require.Error(t, err)
}

func TestSeal_InvalidKeyLength(t *testing.T) {
	_, _, err := Seal([]byte("data"), []byte("short"))
	require.Error(t, err)
}
