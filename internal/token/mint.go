package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Mint issues a signed HS256 credential. The client core only needs this
// for the dev flow and tests; production tokens come from the auth server.
func Mint(subject string, kind Kind, issued, expires time.Time, id *Identity, secret []byte) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		TokenType: kind,
	}
	if id != nil {
		claims.UserID = id.ID
		claims.Name = id.DisplayName
		claims.Email = id.Email
		claims.Avatar = id.AvatarRef
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}
