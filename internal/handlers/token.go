package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-authgate/tokengate/internal/middleware"
	"github.com/go-authgate/tokengate/internal/services"
	"github.com/go-authgate/tokengate/internal/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenHandler serves the client credentials token endpoint.
type TokenHandler struct {
	svc    *services.AuthorizationService
	logger *zap.Logger
}

func NewTokenHandler(svc *services.AuthorizationService, logger *zap.Logger) *TokenHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHandler{svc: svc, logger: logger}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// Token handles POST /oauth/token.
func (h *TokenHandler) Token(c *gin.Context) {
	noStore(c)

	grantType := c.PostForm("grant_type")
	if grantType == "" {
		respondError(c, http.StatusBadRequest, token.KindInvalidRequest, "grant_type is required")
		return
	}

	clientID, secret, basic := middleware.ClientCredentials(c)
	if clientID == "" {
		invalidClient(c, true)
		return
	}

	tok, err := h.svc.IssueToken(c.Request.Context(), services.IssueRequest{
		ClientID:     clientID,
		ClientSecret: secret,
		Scopes:       parseScopeParam(c.PostFormArray("scope")),
		GrantType:    grantType,
	})
	if err != nil {
		h.issueError(c, err, basic)
		return
	}

	result := token.ResultFor(tok)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: result.TokenString,
		TokenType:   result.TokenType,
		ExpiresIn:   result.ExpiresIn,
		Scope:       result.Scope,
	})
}

func (h *TokenHandler) issueError(c *gin.Context, err error, basic bool) {
	if errors.Is(err, token.ErrTokenGeneration) {
		h.logger.Error("token endpoint failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "server_error", "Failed to issue token")
		return
	}

	switch kind := token.KindOf(err); kind {
	case token.KindInvalidClient:
		invalidClient(c, basic)
	case token.KindInvalidGrant:
		respondError(c, http.StatusBadRequest, kind, "The grant type is not allowed for this client")
	case token.KindScopeNotAllowed:
		respondError(c, http.StatusBadRequest, kind, "The requested scope is not allowed")
	case token.KindInvalidRequest:
		respondError(c, http.StatusBadRequest, kind, err.Error())
	default:
		h.logger.Error("token endpoint failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "server_error", "Failed to issue token")
	}
}

// parseScopeParam flattens repeated scope fields, each space separated, into
// one ordered list without duplicates.
func parseScopeParam(values []string) []string {
	return token.ParseScope(strings.Join(values, " "))
}

func invalidClient(c *gin.Context, challenge bool) {
	if challenge {
		c.Header("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, middleware.Realm))
	}
	respondError(c, http.StatusUnauthorized, token.KindInvalidClient, "Client authentication failed")
}

func respondError(c *gin.Context, status int, kind token.ErrorKind, description string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":             string(kind),
		"error_description": description,
	})
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
