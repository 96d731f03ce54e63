package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/onera/studio/internal/config"
)

const discoveryTimeout = 30 * time.Second

// TokenVerifier resolves an identity from a token signed by an external issuer
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
	Close() error
}

// oidcClaims are the ID token claims the render service reads
type oidcClaims struct {
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// JWKSVerifier checks tokens against the issuer's published signing keys
type JWKSVerifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
	stop    context.CancelFunc
}

// NewJWKSVerifier discovers the issuer's JWKS endpoint and keeps its keys refreshed
// until Close is called.
func NewJWKSVerifier(cfg *config.ZitadelConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("zitadel issuer is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	jwksURL, err := discoverJWKSURL(ctx, http.DefaultClient, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
	}

	// The refresh goroutine lives as long as the verifier, not the discovery request.
	refreshCtx, stop := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(refreshCtx, []string{jwksURL})
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	v := newJWKSVerifier(jwks.Keyfunc, cfg.Issuer, cfg.ClientID)
	v.stop = stop
	return v, nil
}

func newJWKSVerifier(kf jwt.Keyfunc, issuer, audience string) *JWKSVerifier {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"}),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &JWKSVerifier{keyfunc: kf, parser: jwt.NewParser(opts...)}
}

// discoverJWKSURL reads jwks_uri from the issuer's OpenID configuration
func discoverJWKSURL(ctx context.Context, httpClient *http.Client, issuer string) (string, error) {
	discoveryURL := fmt.Sprintf("%s/.well-known/openid-configuration", issuer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("jwks_uri not found in discovery document")
	}
	return doc.JWKSURI, nil
}

// Verify checks signature, issuer, expiry and audience, then maps the claims to an
// Identity. Name falls back to preferred_username.
func (v *JWKSVerifier) Verify(tokenString string) (*Identity, error) {
	var claims oidcClaims
	if _, err := v.parser.ParseWithClaims(tokenString, &claims, v.keyfunc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email, Name: name}, nil
}

// Close stops the background key refresh
func (v *JWKSVerifier) Close() error {
	if v.stop != nil {
		v.stop()
	}
	return nil
}
