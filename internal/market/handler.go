package market

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/httpx"
)

// Handler handles HTTP requests for liquidity pools and swaps
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new market handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers pool routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	pools := router.Group("/pools")
	{
		pools.GET("", h.listPools)
		pools.GET("/:id", h.getPool)
		pools.GET("/:id/quote", h.getQuote)
		pools.POST("/:id/liquidity", h.addLiquidity)
		pools.POST("/:id/swaps", h.swap)
	}
}

// listPools handles GET /api/v1/pools
func (h *Handler) listPools(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Pools())
}

// getPool handles GET /api/v1/pools/:id
func (h *Handler) getPool(c *gin.Context) {
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.service.Pool(id))
}

// getQuote handles GET /api/v1/pools/:id/quote?direction=...&amount_in=...
func (h *Handler) getQuote(c *gin.Context) {
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	direction := Direction(c.DefaultQuery("direction", string(StableToCarbon)))
	if !direction.Valid() {
		httpx.WriteError(c, http.StatusBadRequest, "INVALID_REQUEST", "direction must be stable_to_carbon or carbon_to_stable")
		return
	}
	quote, err := h.service.Quote(id, direction, httpx.IntQuery(c, "amount_in", 0))
	if err != nil {
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// addLiquidity handles POST /api/v1/pools/:id/liquidity
func (h *Handler) addLiquidity(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	var req AddLiquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}

	pool, err := h.service.AddLiquidity(c.Request.Context(), caller, id, req.CarbonAmount, req.StableAmount)
	if err != nil {
		h.logger.Warn("Failed to add liquidity", zap.Error(err), zap.Uint64("asset_id", uint64(id)))
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, pool)
}

// swap handles POST /api/v1/pools/:id/swaps
func (h *Handler) swap(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	var req SwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}
	if !req.Direction.Valid() {
		httpx.WriteError(c, http.StatusBadRequest, "INVALID_REQUEST", "direction must be stable_to_carbon or carbon_to_stable")
		return
	}

	result, err := h.service.Swap(c.Request.Context(), caller, id, req.Direction, req.AmountIn, req.MinOut)
	if err != nil {
		h.logger.Warn("Failed to execute swap", zap.Error(err), zap.Uint64("asset_id", uint64(id)))
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
