// README: Pluggable connection authentication; JWT implementation for production.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"savora/internal/types"
)

var (
	ErrMissingToken = errors.New("missing credential token")
	ErrInvalidToken = errors.New("invalid credential token")
)

// Principal is the authenticated identity behind a connection.
type Principal struct {
	ID   types.ID
	Role types.Role
}

// Authenticator verifies a raw bearer credential and extracts the principal.
// It is an interface so the token format can change without touching the
// connection lifecycle code.
type Authenticator interface {
	Authenticate(token string) (Principal, error)
}

// Claims is the JWT payload issued by the account service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256-signed tokens against a shared secret.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

var _ Authenticator = (*JWTAuthenticator)(nil)

func (a *JWTAuthenticator) Authenticate(tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	role := types.Role(claims.Role)
	if !types.ValidRole(role) {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return Principal{ID: types.ID(claims.Subject), Role: role}, nil
}

// Sign issues a token for the given principal. Used by tests and local tooling;
// production tokens come from the account service.
func Sign(secret string, p Principal) (string, error) {
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: string(p.ID),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
