package handlers

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/go-authgate/tokengate/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevokeHandler_Revoke(t *testing.T) {
	env := newTestEnv(t, token.ModeOpaque)
	issued := env.issue(t, "client", "clientpassword", "read")
	form := url.Values{"token": {issued.AccessToken}, "token_type_hint": {"access_token"}}

	t.Run("other client is refused", func(t *testing.T) {
		w := env.postForm("/oauth/revoke", form, "reader", "readerpassword")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "unauthorized_client", decodeBody(t, w)["error"])
		assert.True(t, env.svc.Introspect(t.Context(), issued.AccessToken).Valid)
	})

	t.Run("owner revokes", func(t *testing.T) {
		w := env.postForm("/oauth/revoke", form, "client", "clientpassword")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())

		result := env.svc.Introspect(t.Context(), issued.AccessToken)
		assert.False(t, result.Valid)
		assert.Equal(t, token.KindTokenRevoked, result.Reason)
	})

	t.Run("revoking twice is fine", func(t *testing.T) {
		w := env.postForm("/oauth/revoke", form, "client", "clientpassword")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown token is fine", func(t *testing.T) {
		w := env.postForm("/oauth/revoke", url.Values{"token": {"never-issued"}}, "client", "clientpassword")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := env.postForm("/oauth/revoke", url.Values{}, "client", "clientpassword")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decodeBody(t, w)["error"])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := env.postForm("/oauth/revoke", form, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRevokeHandler_JWTMode(t *testing.T) {
	env := newTestEnv(t, token.ModeJWT)
	issued := env.issue(t, "client", "clientpassword", "")

	w := env.postForm("/oauth/revoke", url.Values{"token": {issued.AccessToken}}, "client", "clientpassword")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unsupported_token_type", decodeBody(t, w)["error"])
}
