package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/middleware"
	"github.com/go-authgate/tokengate/internal/models"
	"github.com/go-authgate/tokengate/internal/services"
	"github.com/go-authgate/tokengate/internal/store"
	"github.com/go-authgate/tokengate/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Unix(1_700_000_000, 0)

type testEnv struct {
	svc    *services.AuthorizationService
	clock  *clock.Mock
	router *gin.Engine
}

func newTestEnv(t *testing.T, mode token.Mode) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clientHash, err := store.HashSecret("clientpassword", bcrypt.MinCost)
	require.NoError(t, err)
	readerHash, err := store.HashSecret("readerpassword", bcrypt.MinCost)
	require.NoError(t, err)
	registry, err := store.NewClientRegistry(
		&models.Client{
			ClientID:       "client",
			SecretHash:     clientHash,
			Scopes:         []string{"read", "write"},
			AccessTokenTTL: time.Hour,
		},
		&models.Client{
			ClientID:       "reader",
			SecretHash:     readerHash,
			Scopes:         []string{"read"},
			AccessTokenTTL: time.Minute,
		},
	)
	require.NoError(t, err)

	clk := clock.NewMock(testNow)
	opts := services.Options{Mode: mode, Registry: registry, Clock: clk}
	if mode == token.ModeJWT {
		opts.JWT, err = token.NewJWTProvider(
			token.SigningKey{KeyID: "k1", Secret: []byte("0123456789abcdef0123456789abcdef")},
			"tokengate-test", clk)
		require.NoError(t, err)
	} else {
		opts.Store = store.NewMemoryTokenStore(store.WithClock(clk), store.WithCleanupInterval(0))
	}
	svc, err := services.NewAuthorizationService(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	guard := services.NewResourceGuard(services.NewLocalIntrospector(svc), nil)
	tokens := NewTokenHandler(svc, nil)
	introspect := NewIntrospectHandler(svc, nil)
	revoke := NewRevokeHandler(svc, nil)
	resource := NewResourceHandler()

	r := gin.New()
	r.POST("/oauth/token", tokens.Token)
	r.POST("/oauth/introspect", middleware.RequireClient(svc), introspect.Introspect)
	r.POST("/oauth/check_token", middleware.RequireClient(svc), introspect.Introspect)
	r.POST("/oauth/revoke", middleware.RequireClient(svc), revoke.Revoke)
	r.GET("/hello", middleware.RequireBearer(guard, "read"), resource.Hello)
	r.POST("/hello", middleware.RequireBearer(guard, "write"), resource.PostHello)
	r.GET("/healthz", Health("auth-server"))

	return &testEnv{svc: svc, clock: clk, router: r}
}

// postForm sends a form POST, authenticating with Basic when user is set.
func (e *testEnv) postForm(path string, form url.Values, user, pass string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) issue(t *testing.T, user, pass, scope string) tokenResponse {
	t.Helper()
	form := url.Values{"grant_type": {models.GrantTypeClientCredentials}}
	if scope != "" {
		form.Set("scope", scope)
	}
	w := e.postForm("/oauth/token", form, user, pass)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
