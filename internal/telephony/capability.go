package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CapabilityConfig holds the provider API key used to sign browser access tokens.
type CapabilityConfig struct {
	AccountSID     string
	APIKey         string
	APISecret      string
	ApplicationSID string
	TTL            time.Duration
}

// VoiceGrant allows the browser device to place outgoing calls through the
// configured voice application.
type VoiceGrant struct {
	Outgoing struct {
		ApplicationSID string `json:"application_sid"`
	} `json:"outgoing"`
}

type capabilityGrants struct {
	Identity string     `json:"identity"`
	Voice    VoiceGrant `json:"voice"`
}

// CapabilityClaims is the provider access-token claims shape.
type CapabilityClaims struct {
	jwt.RegisteredClaims
	Grants capabilityGrants `json:"grants"`
}

// CapabilityIssuer mints short-lived capability tokens scoped to one identity.
type CapabilityIssuer struct {
	cfg CapabilityConfig
	now func() time.Time
}

var ErrCapabilityConfig = errors.New("telephony: capability issuer not configured")

func NewCapabilityIssuer(cfg CapabilityConfig) (*CapabilityIssuer, error) {
	if cfg.AccountSID == "" || cfg.APIKey == "" || cfg.APISecret == "" || cfg.ApplicationSID == "" {
		return nil, ErrCapabilityConfig
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &CapabilityIssuer{cfg: cfg, now: time.Now}, nil
}

// Issue returns a signed token for principalID.
func (i *CapabilityIssuer) Issue(_ context.Context, principalID string) (Credential, error) {
	if principalID == "" {
		return Credential{}, errors.New("telephony: identity required")
	}
	now := i.now().UTC()
	exp := now.Add(i.cfg.TTL)

	claims := CapabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", i.cfg.APIKey, now.Unix()),
			Issuer:    i.cfg.APIKey,
			Subject:   i.cfg.AccountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	claims.Grants.Identity = principalID
	claims.Grants.Voice.Outgoing.ApplicationSID = i.cfg.ApplicationSID

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["cty"] = "twilio-fpa;v=1"
	signed, err := t.SignedString([]byte(i.cfg.APISecret))
	if err != nil {
		return Credential{}, err
	}
	return Credential{Identity: principalID, Token: signed, ExpiresAt: exp}, nil
}

// Verify parses a token minted by Issue and returns its identity.
func (i *CapabilityIssuer) Verify(token string) (string, error) {
	var claims CapabilityClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.APIKey),
		jwt.WithSubject(i.cfg.AccountSID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(i.cfg.APISecret), nil
	}); err != nil {
		return "", err
	}
	if claims.Grants.Identity == "" {
		return "", errors.New("telephony: identity missing in capability token")
	}
	return claims.Grants.Identity, nil
}
