package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is the verified caller attached to a request context.
type Identity struct {
	PrincipalID string
	Role        string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, principalID, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{PrincipalID: principalID, Role: role})
}

// IdentityFrom returns the identity set by RequireAccessToken.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func PrincipalID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.PrincipalID != "" {
		return id.PrincipalID, nil
	}
	return "", ErrNoIdentity
}

func Role(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", ErrNoIdentity
}
