package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/httpx"
)

// Handler answers identity questions for the dashboard.
type Handler struct {
	describe func(domain.Account) any
}

// NewHandler creates a handler that reports the caller through describe.
func NewHandler(describe func(domain.Account) any) *Handler {
	return &Handler{describe: describe}
}

// RegisterRoutes registers auth routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	authGroup := router.Group("/auth")
	{
		authGroup.GET("/me", h.Me)
	}
}

// Me returns the resolved caller and its roles.
func (h *Handler) Me(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.describe(caller))
}
