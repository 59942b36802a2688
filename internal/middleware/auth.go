package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-authgate/tokengate/internal/httpclient"
	"github.com/go-authgate/tokengate/internal/models"
	"github.com/go-authgate/tokengate/internal/services"
	"github.com/go-authgate/tokengate/internal/token"

	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middleware.
const (
	ContextPrincipal = "principal"
	ContextClientID  = "client_id"
)

const (
	Realm = "tokengate"

	// retryAfterSeconds is sent with 503 responses when token introspection
	// is unavailable.
	retryAfterSeconds = "5"

	// DefaultSignatureMaxAge bounds the age of HMAC signed requests.
	DefaultSignatureMaxAge = 5 * time.Minute
)

// RequireBearer protects a route with a bearer token carrying every scope in
// required. The principal is stored under ContextPrincipal.
func RequireBearer(guard *services.ResourceGuard, required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := BearerToken(c.Request)
		if !ok {
			c.Header("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q`, Realm))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             string(token.KindUnauthorized),
				"error_description": "Missing bearer token",
			})
			return
		}

		principal, err := guard.Authorize(c.Request.Context(), tokenString, required...)
		if err != nil {
			abortWithAuthorizationError(c, err, required)
			return
		}

		c.Set(ContextPrincipal, principal)
		c.Set(ContextClientID, principal.ClientID)
		c.Next()
	}
}

func abortWithAuthorizationError(c *gin.Context, err error, required []string) {
	var authErr *services.AuthorizationError
	if errors.As(err, &authErr) && authErr.Retryable() {
		c.Header("Retry-After", retryAfterSeconds)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":             string(authErr.Kind),
			"error_description": "Token could not be verified, try again later",
		})
		return
	}

	kind := token.KindOf(err)
	if kind == token.KindInsufficientScope {
		c.Header("WWW-Authenticate", fmt.Sprintf(
			`Bearer realm=%q, error="insufficient_scope", scope=%q`,
			Realm, strings.Join(required, " ")))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":             string(kind),
			"error_description": err.Error(),
		})
		return
	}

	c.Header("WWW-Authenticate", fmt.Sprintf(
		`Bearer realm=%q, error="invalid_token", error_description=%q`,
		Realm, string(kind)))
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             string(kind),
		"error_description": "The access token is not valid",
	})
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// PrincipalFrom returns the principal set by RequireBearer.
func PrincipalFrom(c *gin.Context) (*services.Principal, bool) {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*services.Principal)
	return p, ok
}

// ClientAuthenticator verifies registered client credentials.
type ClientAuthenticator interface {
	AuthenticateClient(clientID, secret string) (*models.Client, error)
}

// ClientCredentials reads client credentials from HTTP Basic auth, falling
// back to the client_id and client_secret form fields. basic reports which
// one was used.
func ClientCredentials(c *gin.Context) (clientID, secret string, basic bool) {
	if id, pw, ok := c.Request.BasicAuth(); ok {
		return id, pw, true
	}
	return c.PostForm("client_id"), c.PostForm("client_secret"), false
}

// RequireClient authenticates the calling client and stores its ID under
// ContextClientID.
func RequireClient(authn ClientAuthenticator) gin.HandlerFunc {
	return requireClient(authn, nil, 0)
}

// RequireClientOrSignature also accepts requests HMAC signed with signer.
// Signed requests carry no client identity.
func RequireClientOrSignature(authn ClientAuthenticator, signer *httpclient.AuthConfig, maxAge time.Duration) gin.HandlerFunc {
	if maxAge <= 0 {
		maxAge = DefaultSignatureMaxAge
	}
	return requireClient(authn, signer, maxAge)
}

func requireClient(authn ClientAuthenticator, signer *httpclient.AuthConfig, maxAge time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check signatures before anything parses the form body.
		if signer != nil && c.GetHeader(signer.SignatureHeader) != "" {
			if err := signer.VerifyHMACSignature(c.Request, maxAge); err != nil {
				abortInvalidClient(c, false)
				return
			}
			c.Next()
			return
		}

		clientID, secret, basic := ClientCredentials(c)
		if clientID == "" {
			abortInvalidClient(c, true)
			return
		}
		client, err := authn.AuthenticateClient(clientID, secret)
		if err != nil {
			abortInvalidClient(c, basic)
			return
		}

		c.Set(ContextClientID, client.ClientID)
		c.Next()
	}
}

func abortInvalidClient(c *gin.Context, challenge bool) {
	if challenge {
		c.Header("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, Realm))
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             string(token.KindInvalidClient),
		"error_description": "Client authentication failed",
	})
}
