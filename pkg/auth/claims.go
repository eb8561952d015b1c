package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims is the storefront access token as issued by the remote service.
type AccessTokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID prefers the explicit user id and falls back to the registered subject.
func (c *AccessTokenClaims) SubjectID() string {
	if c == nil {
		return ""
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}
