package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	identity *Identity
}

func (s stubVerifier) Verify(string) (*Identity, error) {
	if s.identity == nil {
		return nil, errors.New("bad signature")
	}
	return s.identity, nil
}

func (s stubVerifier) Close() error { return nil }

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	_, err = BearerToken("")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = BearerToken("Basic dXNlcg==")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = BearerToken("Bearer ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateLegacy(t *testing.T) {
	tok, err := IssueLegacyToken("s3cret", "user-1", "a@example.com", time.Hour)
	require.NoError(t, err)

	id, err := NewAuthenticator(nil, "s3cret").Authenticate(tok)
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "user-1", Email: "a@example.com"}, id)

	_, err = NewAuthenticator(nil, "other").Authenticate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueLegacyToken("s3cret", "user-1", "", -time.Minute)
	require.NoError(t, err)
	_, err = NewAuthenticator(nil, "s3cret").Authenticate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticatePrefersJWKS(t *testing.T) {
	a := NewAuthenticator(stubVerifier{identity: &Identity{UserID: "zitadel-1", Name: "Ada"}}, "s3cret")
	id, err := a.Authenticate("anything")
	require.NoError(t, err)
	assert.Equal(t, "zitadel-1", id.UserID)
	assert.Equal(t, "Ada", id.Name)

	tok, err := IssueLegacyToken("s3cret", "user-2", "", 0)
	require.NoError(t, err)
	id, err = NewAuthenticator(stubVerifier{}, "s3cret").Authenticate(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-2", id.UserID)

	_, err = NewAuthenticator(stubVerifier{}, "").Authenticate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateNotConfigured(t *testing.T) {
	_, err := NewAuthenticator(nil, "").Authenticate("x")
	assert.ErrorIs(t, err, ErrNotConfigured)

	var a *Authenticator
	_, err = a.Authenticate("x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
