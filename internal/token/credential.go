// Package token implements the credential codec: structural validation of
// bearer credentials (compact JWTs), expiry checks, identity-claim
// extraction, and encryption into storable records.
//
// The client core never verifies token signatures — that is the issuing
// server's job. What it does guarantee is that anything it stores or
// attaches to a request is a well-formed, time-boxed credential.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidCredentialShape marks input that is not a structurally
	// valid signed credential (3-part JWT with numeric iat/exp claims).
	ErrInvalidCredentialShape = errors.New("invalid credential shape")

	// ErrDecryptionFailed marks a record whose ciphertext cannot be
	// opened with the configured key.
	ErrDecryptionFailed = errors.New("credential decryption failed")

	// ErrMalformedPayload marks a record that decrypted successfully but
	// did not yield a valid credential. Callers must treat the record as
	// corrupted and purge it.
	ErrMalformedPayload = errors.New("malformed credential payload")
)

// Kind distinguishes the two credential lifetimes.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Identity is the minimal user descriptor carried in credential claims.
// It is never independently authoritative: it can always be re-derived
// from the access credential.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// Claims is the JWT payload shape issued by the auth backend.
type Claims struct {
	jwt.RegisteredClaims
	TokenType Kind   `json:"token_type,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// Credential is a parsed, structurally valid bearer credential.
type Credential struct {
	// Raw is the compact JWT exactly as issued; this is what goes on the
	// wire in Authorization headers.
	Raw string

	Subject   string
	ID        string // jti
	Kind      Kind
	IssuedAt  int64 // unix seconds
	ExpiresAt int64 // unix seconds

	claims Claims
}

// Parse validates the structure of a compact JWT without verifying its
// signature. It fails with ErrInvalidCredentialShape unless the token has
// three parts, a header with typ and alg, numeric iat/exp claims, and
// exp > iat.
func Parse(raw string) (*Credential, error) {
	claims := &Claims{}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil, ErrInvalidCredentialShape
	}

	if tok.Header["typ"] == nil || tok.Header["alg"] == nil {
		return nil, ErrInvalidCredentialShape
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrInvalidCredentialShape
	}

	issued := claims.IssuedAt.Unix()
	expires := claims.ExpiresAt.Unix()
	if expires <= issued {
		return nil, ErrInvalidCredentialShape
	}

	return &Credential{
		Raw:       raw,
		Subject:   claims.Subject,
		ID:        claims.RegisteredClaims.ID,
		Kind:      claims.TokenType,
		IssuedAt:  issued,
		ExpiresAt: expires,
		claims:    *claims,
	}, nil
}

// Expired reports whether c may no longer be trusted at the given instant.
// There is no grace period: a credential expiring exactly now is expired.
func Expired(c *Credential, now time.Time) bool {
	return !now.Before(time.Unix(c.ExpiresAt, 0))
}

// Remaining returns the time left until expiry at the given instant.
// Negative for expired credentials.
func Remaining(c *Credential, now time.Time) time.Duration {
	return time.Unix(c.ExpiresAt, 0).Sub(now)
}

// ClaimsIdentity extracts the identity fields from the credential payload.
// Returns (nil, false) when no user id claim is present; missing optional
// fields are simply left empty.
func ClaimsIdentity(c *Credential) (*Identity, bool) {
	if c == nil || c.claims.UserID == "" {
		return nil, false
	}
	return &Identity{
		ID:          c.claims.UserID,
		DisplayName: c.claims.Name,
		Email:       c.claims.Email,
		AvatarRef:   c.claims.Avatar,
	}, true
}
