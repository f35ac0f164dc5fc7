package access

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/httpx"
)

// Handler exposes the role registry over HTTP.
type Handler struct {
	registry *Registry
	logger   *zap.Logger
}

func NewHandler(registry *Registry, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// RegisterRoutes registers role routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	roles := router.Group("/roles")
	{
		roles.POST("/grant", h.grantRole)
		roles.POST("/revoke", h.revokeRole)
		roles.POST("/renounce-admin", h.renounceAdmin)
		roles.GET("/:role/members", h.listMembers)
	}
	router.GET("/accounts/:account/roles", h.getAccountRoles)
}

// grantRole handles POST /api/v1/roles/grant
func (h *Handler) grantRole(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}

	var req RoleChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		httpx.BadRequest(c, err)
		return
	}

	account := domain.NewAccount(req.Account)
	if err := h.registry.GrantRole(c.Request.Context(), caller, role, account); err != nil {
		h.logger.Warn("Failed to grant role", zap.Error(err), zap.String("caller", caller.String()))
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, h.registry.Describe(account))
}

// revokeRole handles POST /api/v1/roles/revoke
func (h *Handler) revokeRole(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}

	var req RoleChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		httpx.BadRequest(c, err)
		return
	}

	account := domain.NewAccount(req.Account)
	if err := h.registry.RevokeRole(c.Request.Context(), caller, role, account); err != nil {
		h.logger.Warn("Failed to revoke role", zap.Error(err), zap.String("caller", caller.String()))
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, h.registry.Describe(account))
}

// renounceAdmin handles POST /api/v1/roles/renounce-admin
func (h *Handler) renounceAdmin(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}

	if err := h.registry.RenounceAdmin(c.Request.Context(), caller); err != nil {
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, h.registry.Describe(caller))
}

// listMembers handles GET /api/v1/roles/:role/members
func (h *Handler) listMembers(c *gin.Context) {
	role, err := ParseRole(c.Param("role"))
	if err != nil {
		httpx.BadRequest(c, err)
		return
	}

	members := h.registry.Members(role)
	c.JSON(http.StatusOK, gin.H{
		"role":    role,
		"count":   len(members),
		"members": members,
	})
}

// getAccountRoles handles GET /api/v1/accounts/:account/roles
func (h *Handler) getAccountRoles(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Describe(domain.NewAccount(c.Param("account"))))
}
