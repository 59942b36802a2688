package handlers

import (
	"errors"
	"net/http"

	"github.com/go-authgate/tokengate/internal/middleware"
	"github.com/go-authgate/tokengate/internal/services"
	"github.com/go-authgate/tokengate/internal/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RevokeHandler serves RFC 7009 token revocation.
type RevokeHandler struct {
	svc    *services.AuthorizationService
	logger *zap.Logger
}

func NewRevokeHandler(svc *services.AuthorizationService, logger *zap.Logger) *RevokeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevokeHandler{svc: svc, logger: logger}
}

// Revoke handles POST /oauth/revoke. It must run behind
// middleware.RequireClient so the caller's client ID is known.
func (h *RevokeHandler) Revoke(c *gin.Context) {
	noStore(c)

	value := c.PostForm("token")
	if value == "" {
		respondError(c, http.StatusBadRequest, token.KindInvalidRequest, "token is required")
		return
	}

	clientID := c.GetString(middleware.ContextClientID)
	if clientID == "" {
		invalidClient(c, true)
		return
	}

	err := h.svc.Revoke(c.Request.Context(), clientID, value)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, services.ErrRevocationUnsupported):
		respondError(c, http.StatusBadRequest, "unsupported_token_type", "Only opaque tokens can be revoked")
	case errors.Is(err, services.ErrNotTokenOwner):
		respondError(c, http.StatusBadRequest, "unauthorized_client", "The token was not issued to this client")
	default:
		h.logger.Error("token revocation failed",
			zap.String("client_id", clientID),
			zap.Error(err))
		c.Header("Retry-After", "5")
		respondError(c, http.StatusServiceUnavailable, "temporarily_unavailable", "Token store unavailable")
	}
}
