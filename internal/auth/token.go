// Package auth verifies principals and answers permission questions. Token
// verification and user hydration live in Service; permission and membership
// checks live in Authorizer.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iamkash/intellispec/internal/apperror"
)

// Claims is the token payload.
type Claims struct {
	UserID       string `json:"userId"`
	TenantID     string `json:"tenantId,omitempty"`
	PlatformRole string `json:"platformRole,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies bearer tokens.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
}

// NewTokenIssuer builds the issuer with the signing key and token lifetime.
func NewTokenIssuer(signingKey string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: []byte(signingKey), ttl: ttl}
}

// Issue signs a token for the principal.
func (t *TokenIssuer) Issue(userID, tenantID, platformRole string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:       userID,
		TenantID:     tenantID,
		PlatformRole: platformRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			Issuer:    "intellispec",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", apperror.ErrInternal("failed to sign token", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (t *TokenIssuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.key, nil
	})
	if err != nil || !token.Valid {
		return nil, apperror.ErrUnauthenticated("invalid or expired token")
	}
	if claims.UserID == "" {
		return nil, apperror.ErrUnauthenticated("token carries no subject")
	}
	return claims, nil
}
