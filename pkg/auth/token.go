package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ParseUnverified decodes the token claims without checking the signature.
// The remote service verifies tokens; the client only reads them for context.
func ParseUnverified(tokenString string) (*AccessTokenClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}
	claims := &AccessTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// Expired reports whether the claims carry an expiry at or before now.
func Expired(claims *AccessTokenClaims, now time.Time) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(now)
}
