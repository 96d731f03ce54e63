package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://id.example.com"
	testAudience = "onera-studio"
)

type signer struct {
	key *rsa.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &signer{key: key}
}

// keyfunc stands in for the JWKS lookup: it only accepts kid "k1".
func (s *signer) keyfunc(token *jwt.Token) (interface{}, error) {
	if token.Header["kid"] != "k1" {
		return nil, fmt.Errorf("unknown kid %v", token.Header["kid"])
	}
	return &s.key.PublicKey, nil
}

func (s *signer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(s.key)
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "zitadel-42",
		"aud":   testAudience,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"email": "ada@example.com",
		"name":  "Ada",
	}
}

func TestJWKSVerifierMapsClaims(t *testing.T) {
	s := newSigner(t)
	v := newJWKSVerifier(s.keyfunc, testIssuer, testAudience)

	id, err := v.Verify(s.sign(t, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "zitadel-42", Email: "ada@example.com", Name: "Ada"}, id)

	claims := validClaims()
	delete(claims, "name")
	claims["preferred_username"] = "ada"
	id, err = v.Verify(s.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, "ada", id.Name)
}

func TestJWKSVerifierRejects(t *testing.T) {
	s := newSigner(t)
	v := newJWKSVerifier(s.keyfunc, testIssuer, testAudience)

	with := func(key string, value interface{}) jwt.MapClaims {
		c := validClaims()
		if value == nil {
			delete(c, key)
		} else {
			c[key] = value
		}
		return c
	}

	cases := map[string]string{
		"wrong issuer":   s.sign(t, with("iss", "https://evil.example.com")),
		"wrong audience": s.sign(t, with("aud", "someone-else")),
		"expired":        s.sign(t, with("exp", time.Now().Add(-time.Minute).Unix())),
		"no expiry":      s.sign(t, with("exp", nil)),
		"no subject":     s.sign(t, with("sub", nil)),
		"other key":      newSigner(t).sign(t, validClaims()),
		"not a jwt":      "abc.def",
	}

	hmac := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	hmac.Header["kid"] = "k1"
	signed, err := hmac.SignedString([]byte("shared"))
	require.NoError(t, err)
	cases["hmac algorithm"] = signed

	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWKSVerifierWithoutAudience(t *testing.T) {
	s := newSigner(t)
	v := newJWKSVerifier(s.keyfunc, testIssuer, "")

	_, err := v.Verify(s.sign(t, validClaims()))
	assert.NoError(t, err)
	assert.NoError(t, v.Close())
}

func TestJWKSVerifierBehindAuthenticator(t *testing.T) {
	s := newSigner(t)
	a := NewAuthenticator(newJWKSVerifier(s.keyfunc, testIssuer, testAudience), "s3cret")

	id, err := a.Authenticate(s.sign(t, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "zitadel-42", id.UserID)

	legacy, err := IssueLegacyToken("s3cret", "user-7", "", time.Hour)
	require.NoError(t, err)
	id, err = a.Authenticate(legacy)
	require.NoError(t, err)
	assert.Equal(t, "user-7", id.UserID)
}

func TestDiscoverJWKSURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good/.well-known/openid-configuration":
			fmt.Fprint(w, `{"issuer":"x","jwks_uri":"https://id.example.com/oauth/v2/keys"}`)
		case "/empty/.well-known/openid-configuration":
			fmt.Fprint(w, `{"issuer":"x"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	url, err := discoverJWKSURL(ctx, srv.Client(), srv.URL+"/good")
	require.NoError(t, err)
	assert.Equal(t, "https://id.example.com/oauth/v2/keys", url)

	_, err = discoverJWKSURL(ctx, srv.Client(), srv.URL+"/empty")
	assert.ErrorContains(t, err, "jwks_uri not found")

	_, err = discoverJWKSURL(ctx, srv.Client(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "status 404")
}
