package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carry the caller identity. PrincipalID owns the credit balance that
// calls are charged against; refresh tokens have no Role.
type Claims struct {
	jwt.RegisteredClaims

	PrincipalID string    `json:"principal_id"`
	Role        string    `json:"role,omitempty"`
	TokenType   TokenType `json:"token_type"`
}

func (c Claims) complete() error {
	if c.PrincipalID == "" {
		return fmt.Errorf("%w: principal_id", ErrMissingClaim)
	}
	if c.TokenType == TokenTypeAccess && c.Role == "" {
		return fmt.Errorf("%w: role", ErrMissingClaim)
	}
	return nil
}
