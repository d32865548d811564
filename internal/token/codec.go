package token

import (
	"github.com/chatterbox-im/chatterbox/internal/cryptox"
)

// SchemeAESGCM tags records produced by the current codec version.
const SchemeAESGCM = "aesgcm-v1"

// Record is an encrypted credential as held in durable storage:
// scheme tag, per-record nonce, and ciphertext. Plaintext credentials
// must never touch storage.
type Record struct {
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Codec encrypts and decrypts credentials with a storage key.
type Codec struct {
	key []byte
}

func NewCodec(key []byte) *Codec {
	return &Codec{key: key}
}

// Encode validates raw as a credential and encrypts it into a Record.
// Malformed input fails with ErrInvalidCredentialShape before anything is
// encrypted, so garbage can never be persisted in valid-looking records.
func (c *Codec) Encode(raw string) (Record, error) {
	if _, err := Parse(raw); err != nil {
		return Record{}, err
	}

	ciphertext, nonce, err := cryptox.Seal([]byte(raw), c.key)
	if err != nil {
		return Record{}, err
	}

	return Record{Scheme: SchemeAESGCM, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Decode decrypts a Record back into a parsed credential.
//
// Failure modes are deliberately split:
//   - ErrDecryptionFailed: unknown scheme or ciphertext/key mismatch;
//   - ErrMalformedPayload: decryption succeeded but the plaintext is not a
//     valid credential.
//
// Both mean "no usable credential", but the second one tells the vault the
// record itself is corrupt and must be purged.
func (c *Codec) Decode(rec Record) (*Credential, error) {
	if rec.Scheme != SchemeAESGCM {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := cryptox.Open(rec.Ciphertext, rec.Nonce, c.key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	cred, err := Parse(string(plaintext))
	if err != nil {
		return nil, ErrMalformedPayload
	}
	return cred, nil
}
