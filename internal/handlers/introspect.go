package handlers

import (
	"net/http"

	"github.com/go-authgate/tokengate/internal/services"
	"github.com/go-authgate/tokengate/internal/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IntrospectHandler serves RFC 7662 token introspection.
type IntrospectHandler struct {
	svc    *services.AuthorizationService
	logger *zap.Logger
}

func NewIntrospectHandler(svc *services.AuthorizationService, logger *zap.Logger) *IntrospectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntrospectHandler{svc: svc, logger: logger}
}

// IntrospectionResponse is the RFC 7662 response body. Reason is not part of
// the RFC and is only set for inactive tokens.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Introspect handles POST /oauth/introspect and POST /oauth/check_token.
func (h *IntrospectHandler) Introspect(c *gin.Context) {
	noStore(c)

	value := c.PostForm("token")
	if value == "" {
		respondError(c, http.StatusBadRequest, token.KindInvalidRequest, "token is required")
		return
	}

	result := h.svc.Introspect(c.Request.Context(), value)
	if result.Reason == token.KindIntrospectionUnavailable {
		respondError(c, http.StatusServiceUnavailable, result.Reason, "Token store unavailable")
		return
	}

	c.JSON(http.StatusOK, introspectionResponse(result))
}

func introspectionResponse(r *token.TokenValidationResult) IntrospectionResponse {
	if !r.Valid {
		reason := r.Reason
		if reason == token.KindNone {
			reason = token.KindInvalidToken
		}
		return IntrospectionResponse{Active: false, Reason: string(reason)}
	}
	return IntrospectionResponse{
		Active:    true,
		ClientID:  r.ClientID,
		Subject:   r.ClientID,
		Scope:     r.ScopeString(),
		Exp:       r.ExpiresAt.Unix(),
		Iat:       r.IssuedAt.Unix(),
		TokenType: "bearer",
	}
}
