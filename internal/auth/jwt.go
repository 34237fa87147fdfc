package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the identity fields inside a locally issued JWT.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string `json:"uid"`
	Role        string `json:"role"`
	DisplayName string `json:"name"`
}

// JWTVerifier validates HS256 tokens in-process. Meant for development and
// tests, where the platform auth service is not running.
type JWTVerifier struct {
	signingKey []byte
	tokenTTL   time.Duration
}

// NewJWTVerifier creates a local verifier with the given signing key.
func NewJWTVerifier(signingKey string) (*JWTVerifier, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("signing key must be at least 32 characters")
	}
	return &JWTVerifier{
		signingKey: []byte(signingKey),
		tokenTTL:   24 * time.Hour,
	}, nil
}

// Verify parses and validates a locally issued token. Same error contract as
// HTTPVerifier: every failure collapses into ErrUnauthorized.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: parse token: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token missing uid claim", ErrUnauthorized)
	}

	return &Identity{
		UserID:      claims.UserID,
		Role:        claims.Role,
		DisplayName: claims.DisplayName,
	}, nil
}

// Generate issues a signed token for the given identity. Used by dev tooling
// and tests to mint credentials the verifier accepts.
func (v *JWTVerifier) Generate(identity *Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenTTL)),
			Issuer:    "relay",
		},
		UserID:      identity.UserID,
		Role:        identity.Role,
		DisplayName: identity.DisplayName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
