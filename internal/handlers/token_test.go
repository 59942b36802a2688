package handlers

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/go-authgate/tokengate/internal/token"

	"github.com/stretchr/testify/assert"
)

func Test_parseScopeParam(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "no field",
			input: nil,
			want:  []string{},
		},
		{
			name:  "whitespace only",
			input: []string{"   "},
			want:  []string{},
		},
		{
			name:  "single scope",
			input: []string{"read"},
			want:  []string{"read"},
		},
		{
			name:  "space separated",
			input: []string{"read write"},
			want:  []string{"read", "write"},
		},
		{
			name:  "extra spaces",
			input: []string{"  read   write  "},
			want:  []string{"read", "write"},
		},
		{
			name:  "repeated fields",
			input: []string{"read", "write"},
			want:  []string{"read", "write"},
		},
		{
			name:  "duplicates keep first position",
			input: []string{"write read", "write"},
			want:  []string{"write", "read"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseScopeParam(tt.input))
		})
	}
}

func TestTokenHandler_Token(t *testing.T) {
	grant := url.Values{"grant_type": {"client_credentials"}}

	tests := []struct {
		name       string
		form       url.Values
		user, pass string
		wantStatus int
		wantError  token.ErrorKind
		wantScope  string
		wantBasic  bool
	}{
		{
			name:       "basic auth all scopes",
			form:       grant,
			user:       "client",
			pass:       "clientpassword",
			wantStatus: http.StatusOK,
			wantScope:  "read write",
		},
		{
			name: "form credentials",
			form: url.Values{
				"grant_type":    {"client_credentials"},
				"client_id":     {"client"},
				"client_secret": {"clientpassword"},
				"scope":         {"write"},
			},
			wantStatus: http.StatusOK,
			wantScope:  "write",
		},
		{
			name:       "scope intersection",
			form:       url.Values{"grant_type": {"client_credentials"}, "scope": {"admin read"}},
			user:       "client",
			pass:       "clientpassword",
			wantStatus: http.StatusOK,
			wantScope:  "read",
		},
		{
			name:       "missing grant type",
			form:       url.Values{},
			user:       "client",
			pass:       "clientpassword",
			wantStatus: http.StatusBadRequest,
			wantError:  token.KindInvalidRequest,
		},
		{
			name:       "unsupported grant type",
			form:       url.Values{"grant_type": {"password"}},
			user:       "client",
			pass:       "clientpassword",
			wantStatus: http.StatusBadRequest,
			wantError:  token.KindInvalidGrant,
		},
		{
			name:       "scope not allowed",
			form:       url.Values{"grant_type": {"client_credentials"}, "scope": {"admin"}},
			user:       "reader",
			pass:       "readerpassword",
			wantStatus: http.StatusBadRequest,
			wantError:  token.KindScopeNotAllowed,
		},
		{
			name:       "wrong secret with basic auth",
			form:       grant,
			user:       "client",
			pass:       "wrong",
			wantStatus: http.StatusUnauthorized,
			wantError:  token.KindInvalidClient,
			wantBasic:  true,
		},
		{
			name: "unknown client with form credentials",
			form: url.Values{
				"grant_type":    {"client_credentials"},
				"client_id":     {"ghost"},
				"client_secret": {"clientpassword"},
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  token.KindInvalidClient,
		},
		{
			name:       "no credentials",
			form:       grant,
			wantStatus: http.StatusUnauthorized,
			wantError:  token.KindInvalidClient,
			wantBasic:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, token.ModeOpaque)
			w := env.postForm("/oauth/token", tt.form, tt.user, tt.pass)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			assert.Equal(t, "no-cache", w.Header().Get("Pragma"))

			body := decodeBody(t, w)
			if tt.wantStatus == http.StatusOK {
				assert.NotEmpty(t, body["access_token"])
				assert.Equal(t, "bearer", body["token_type"])
				assert.EqualValues(t, 3600, body["expires_in"])
				assert.Equal(t, tt.wantScope, body["scope"])
				return
			}

			assert.Equal(t, string(tt.wantError), body["error"])
			assert.NotEmpty(t, body["error_description"])
			if tt.wantBasic {
				assert.Equal(t, `Basic realm="tokengate"`, w.Header().Get("WWW-Authenticate"))
			} else {
				assert.Empty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestTokenHandler_UnknownAndWrongSecretLookAlike(t *testing.T) {
	env := newTestEnv(t, token.ModeOpaque)
	grant := url.Values{"grant_type": {"client_credentials"}}

	ghost := env.postForm("/oauth/token", grant, "ghost", "clientpassword")
	wrong := env.postForm("/oauth/token", grant, "client", "nope")

	assert.Equal(t, ghost.Code, wrong.Code)
	assert.Equal(t, ghost.Body.String(), wrong.Body.String())
	assert.Equal(t, ghost.Header().Get("WWW-Authenticate"), wrong.Header().Get("WWW-Authenticate"))
}

func TestTokenHandler_JWTMode(t *testing.T) {
	env := newTestEnv(t, token.ModeJWT)
	resp := env.issue(t, "reader", "readerpassword", "")

	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, int64(60), resp.ExpiresIn)
	assert.Equal(t, "read", resp.Scope)

	result := env.svc.Introspect(t.Context(), resp.AccessToken)
	assert.True(t, result.Valid)
	assert.Equal(t, "reader", result.ClientID)
}
