package certification

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/httpx"
)

// Handler handles HTTP requests for project certification
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new certification handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers project routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	projects := router.Group("/projects")
	{
		projects.POST("", h.propose)
		projects.GET("", h.listProjects)
		projects.GET("/:id", h.getProject)
		projects.GET("/:id/quorum", h.getQuorum)
		projects.POST("/:id/approvals", h.approve)
		projects.POST("/:id/mint", h.mint)
	}
}

// propose handles POST /api/v1/projects
func (h *Handler) propose(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}

	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}
	req.Issuer = caller

	project, err := h.service.Propose(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("Failed to propose project", zap.Error(err), zap.String("issuer", caller.String()))
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

// listProjects handles GET /api/v1/projects
func (h *Handler) listProjects(c *gin.Context) {
	filter := ListFilter{
		Issuer: domain.NewAccount(c.Query("issuer")),
		Voter:  domain.NewAccount(c.Query("voter")),
	}
	if status := c.Query("status"); status != "" {
		st, err := ParseStatus(status)
		if err != nil {
			httpx.BadRequest(c, err)
			return
		}
		filter.Status = st
	}

	c.JSON(http.StatusOK, h.service.List(filter))
}

// getProject handles GET /api/v1/projects/:id
func (h *Handler) getProject(c *gin.Context) {
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	project, err := h.service.Get(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// getQuorum handles GET /api/v1/projects/:id/quorum
func (h *Handler) getQuorum(c *gin.Context) {
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	status, err := h.service.QuorumStatus(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// approve handles POST /api/v1/projects/:id/approvals
func (h *Handler) approve(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	project, err := h.service.Approve(c.Request.Context(), id, caller)
	if err != nil {
		h.logger.Warn("Failed to approve project", zap.Error(err), zap.Uint64("project_id", uint64(id)))
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// mint handles POST /api/v1/projects/:id/mint
func (h *Handler) mint(c *gin.Context) {
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	project, err := h.service.Mint(c.Request.Context(), id, httpx.Caller(c))
	if err != nil {
		h.logger.Warn("Failed to mint project", zap.Error(err), zap.Uint64("project_id", uint64(id)))
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}
