package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIKeyInfo is what we can learn from a hosted-database API key without
// the signing secret.
//
// Supabase-style keys (anon / service_role) are HS256 JWTs signed by the
// provider. Only the provider holds the secret, so the signature
// cannot be verified here, but the claims are readable, and reading them at startup turns
// "every request fails with 401" into one clear config error.
type APIKeyInfo struct {
	Role      string
	Issuer    string
	ExpiresAt time.Time // zero if the key never expires
}

// apiKeyClaims is the payload of a provider API key: the registered claims
// plus the role the key grants.
type apiKeyClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ErrAPIKeyExpired is returned by InspectAPIKey for a key past its exp claim.
var ErrAPIKeyExpired = errors.New("auth: API key has expired")

// InspectAPIKey decodes key's claims without verifying its signature.
//
// Returns an error if key is not a JWT, or if it carries an exp claim in
// the past (relative to now).
func InspectAPIKey(key string, now time.Time) (*APIKeyInfo, error) {
	if key == "" {
		return nil, errors.New("auth: API key is empty")
	}

	var c apiKeyClaims
	// ParseUnverified only splits and decodes; no signature or time checks.
	if _, _, err := jwt.NewParser().ParseUnverified(key, &c); err != nil {
		return nil, fmt.Errorf("auth: API key is not a JWT: %w", err)
	}

	info := &APIKeyInfo{
		Role:   c.Role,
		Issuer: c.Issuer,
	}
	if c.ExpiresAt != nil {
		info.ExpiresAt = c.ExpiresAt.Time
		if !info.ExpiresAt.After(now) {
			return info, fmt.Errorf("%w (exp %s)", ErrAPIKeyExpired, info.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}

	return info, nil
}
