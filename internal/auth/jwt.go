// Package auth verifies the bearer tokens issued at login. Token issuance,
// registration and password storage live in the auth service and are not
// part of this backend; verification only needs the shared HS256 secret.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Qwalex/ai-chat/internal/config"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

type Identity struct {
	UserID string
	Email  string
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(cfg config.Config) Verifier {
	return Verifier{secret: []byte(cfg.JWTSecret)}
}

// Enabled reports whether a verification secret is configured. Without one
// every request is treated as anonymous.
func (v Verifier) Enabled() bool {
	return len(v.secret) > 0
}

func (v Verifier) Verify(rawToken string) (Identity, error) {
	if !v.Enabled() {
		return Identity{}, ErrInvalidToken
	}
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Identity{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(rawToken, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	parsedClaims, ok := parsed.Claims.(*claims)
	if !ok || strings.TrimSpace(parsedClaims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID: parsedClaims.Subject,
		Email:  strings.ToLower(strings.TrimSpace(parsedClaims.Email)),
	}, nil
}
