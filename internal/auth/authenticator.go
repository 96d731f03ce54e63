package auth

import (
	"errors"
	"strings"
)

var (
	ErrMissingToken  = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNotConfigured = errors.New("authentication not configured")
)

// Identity is the caller resolved from a bearer token
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Authenticator checks bearer tokens against JWKS first and the legacy HMAC secret
// second. Either may be absent.
type Authenticator struct {
	verifier  TokenVerifier
	jwtSecret string
}

// NewAuthenticator combines a JWKS verifier and a legacy secret
func NewAuthenticator(verifier TokenVerifier, jwtSecret string) *Authenticator {
	return &Authenticator{verifier: verifier, jwtSecret: jwtSecret}
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(parts[1]), nil
}

// Authenticate resolves the identity carried by tokenString
func (a *Authenticator) Authenticate(tokenString string) (*Identity, error) {
	if a == nil || (a.verifier == nil && a.jwtSecret == "") {
		return nil, ErrNotConfigured
	}

	if a.verifier != nil {
		identity, err := a.verifier.Verify(tokenString)
		if err == nil {
			return identity, nil
		}
		if a.jwtSecret == "" {
			return nil, ErrInvalidToken
		}
	}

	claims, err := ValidateLegacyToken(tokenString, a.jwtSecret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
}
