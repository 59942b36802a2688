package handlers

import (
	"net/http"

	"github.com/go-authgate/tokengate/internal/middleware"

	"github.com/gin-gonic/gin"
)

// ResourceHandler serves the protected sample resources.
type ResourceHandler struct{}

func NewResourceHandler() *ResourceHandler {
	return &ResourceHandler{}
}

type helloRequest struct {
	Message string `json:"message" binding:"required,max=256"`
}

// Hello handles GET /hello.
func (h *ResourceHandler) Hello(c *gin.Context) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Hello World",
		"client_id": p.ClientID,
		"scopes":    p.Scopes,
	})
}

// PostHello handles POST /hello and echoes the submitted message.
func (h *ResourceHandler) PostHello(c *gin.Context) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	var req helloRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "message is required",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   req.Message,
		"client_id": p.ClientID,
		"scopes":    p.Scopes,
	})
}
