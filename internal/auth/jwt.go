package auth

import (
	"errors"
	"fmt"
	"time"

	"paycall/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// clockSkew is tolerated on exp/iat between the API and whoever minted the token.
const clockSkew = 30 * time.Second

var (
	ErrWrongTokenType = errors.New("auth: unexpected token_type")
	ErrMissingClaim   = errors.New("auth: required claim missing")
)

// Manager mints and checks the HS256 tokens that identify callers.
type Manager struct {
	key      []byte
	issuer   string
	audience string
	ttl      map[TokenType]time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		key:      []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		ttl: map[TokenType]time.Duration{
			TokenTypeAccess:  cfg.AccessTokenTTL,
			TokenTypeRefresh: cfg.RefreshTokenTTL,
		},
	}, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IssueAccess mints a single access token for principalID acting as role.
func (m *Manager) IssueAccess(now time.Time, principalID, role string) (string, error) {
	if role == "" {
		return "", fmt.Errorf("%w: role", ErrMissingClaim)
	}
	return m.sign(now, TokenTypeAccess, principalID, role)
}

// IssuePair mints an access token and a role-less refresh token.
func (m *Manager) IssuePair(now time.Time, principalID, role string) (TokenPair, error) {
	var p TokenPair
	var err error
	if p.AccessToken, err = m.IssueAccess(now, principalID, role); err != nil {
		return TokenPair{}, err
	}
	if p.RefreshToken, err = m.sign(now, TokenTypeRefresh, principalID, ""); err != nil {
		return TokenPair{}, err
	}
	return p, nil
}

// Verify parses tokenString as of now and requires it to be of type want.
func (m *Manager) Verify(tokenString string, want TokenType, now time.Time) (Claims, error) {
	var claims Claims
	if _, err := m.parser(now).ParseWithClaims(tokenString, &claims, m.keyFunc); err != nil {
		return Claims{}, err
	}
	if claims.TokenType != want {
		return Claims{}, fmt.Errorf("%w: got %q", ErrWrongTokenType, claims.TokenType)
	}
	if err := claims.complete(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func (m *Manager) parser(now time.Time) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	return jwt.NewParser(opts...)
}

func (m *Manager) keyFunc(*jwt.Token) (any, error) { return m.key, nil }

func (m *Manager) sign(now time.Time, typ TokenType, principalID, role string) (string, error) {
	if principalID == "" {
		return "", fmt.Errorf("%w: principal_id", ErrMissingClaim)
	}
	rc := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   principalID,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl[typ])),
	}
	if m.audience != "" {
		rc.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: rc,
		PrincipalID:      principalID,
		Role:             role,
		TokenType:        typ,
	}).SignedString(m.key)
}
