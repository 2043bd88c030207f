package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "deckpilot"

var (
	ErrNoSecret     = errors.New("auth: api secret not configured")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims identifies the operator behind an API call.
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for operator, valid for ttl.
func GenerateToken(secret, operator string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates tokenString and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
