// Package authtest mints storefront access tokens for tests. The storefront
// backend owns real issuance.
package authtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/cartsync/pkg/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Payload captures the data a minted token carries.
type Payload struct {
	UserID string
	Email  string
	JTI    string
}

// MintAccessToken issues an HS256-signed token shaped like the storefront's.
func MintAccessToken(secret, issuer string, ttl time.Duration, now time.Time, payload Payload) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("jwt ttl must be positive")
	}
	if strings.TrimSpace(payload.UserID) == "" {
		return "", fmt.Errorf("user id is required")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := auth.AccessTokenClaims{
		UserID: payload.UserID,
		Email:  payload.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   payload.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}
