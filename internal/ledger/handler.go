package ledger

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/httpx"
)

// Handler exposes credit and stable balances over HTTP.
type Handler struct {
	ledger     *Ledger
	stable     *StableLedger
	canDeposit func(domain.Account) bool
	logger     *zap.Logger
}

// NewHandler creates a ledger handler. canDeposit decides who may fund stable
// balances from outside the engine.
func NewHandler(ledger *Ledger, stable *StableLedger, canDeposit func(domain.Account) bool, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, stable: stable, canDeposit: canDeposit, logger: logger}
}

type batchRequest struct {
	Holders  []string         `json:"holders" binding:"required"`
	AssetIDs []domain.AssetID `json:"asset_ids" binding:"required"`
}

// RegisterRoutes registers asset and stable routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	assets := router.Group("/assets")
	{
		assets.GET("", h.listAssets)
		assets.GET("/:id", h.getAsset)
		assets.GET("/:id/balances/:account", h.getBalance)
		assets.POST("/:id/transfers", h.transfer)
		assets.POST("/:id/retirements", h.retire)
	}
	router.POST("/balances/batch", h.balanceOfBatch)
	router.GET("/accounts/:account/holdings", h.getHoldings)

	stable := router.Group("/stable")
	{
		stable.POST("/deposits", h.deposit)
		stable.GET("/balances/:account", h.getStableBalance)
		stable.GET("/supply", h.getStableSupply)
	}
}

// listAssets handles GET /api/v1/assets
func (h *Handler) listAssets(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.Assets())
}

// getAsset handles GET /api/v1/assets/:id
func (h *Handler) getAsset(c *gin.Context) {
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	asset, err := h.ledger.Asset(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, asset)
}

// getBalance handles GET /api/v1/assets/:id/balances/:account
func (h *Handler) getBalance(c *gin.Context) {
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}
	account := domain.NewAccount(c.Param("account"))

	c.JSON(http.StatusOK, gin.H{
		"asset_id": id,
		"account":  account,
		"balance":  h.ledger.BalanceOf(id, account),
	})
}

// transfer handles POST /api/v1/assets/:id/transfers
func (h *Handler) transfer(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}

	to := domain.NewAccount(req.To)
	if err := h.ledger.Transfer(c.Request.Context(), id, caller, to, req.Amount); err != nil {
		h.logger.Warn("Failed to transfer credits", zap.Error(err), zap.Uint64("asset_id", uint64(id)))
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"asset_id": id,
		"from":     caller,
		"to":       to,
		"amount":   req.Amount,
		"balance":  h.ledger.BalanceOf(id, caller),
	})
}

// retire handles POST /api/v1/assets/:id/retirements
func (h *Handler) retire(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}
	id, ok := httpx.AssetIDParam(c, "id")
	if !ok {
		return
	}

	var req RetireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}

	if err := h.ledger.Retire(c.Request.Context(), id, caller, req.Amount); err != nil {
		h.logger.Warn("Failed to retire credits", zap.Error(err), zap.Uint64("asset_id", uint64(id)))
		httpx.Fail(c, err)
		return
	}

	asset, _ := h.ledger.Asset(id)
	c.JSON(http.StatusOK, asset)
}

// balanceOfBatch handles POST /api/v1/balances/batch
func (h *Handler) balanceOfBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}

	holders := make([]domain.Account, len(req.Holders))
	for i, raw := range req.Holders {
		holders[i] = domain.NewAccount(raw)
	}

	balances, err := h.ledger.BalanceOfBatch(holders, req.AssetIDs)
	if err != nil {
		httpx.BadRequest(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

// getHoldings handles GET /api/v1/accounts/:account/holdings
func (h *Handler) getHoldings(c *gin.Context) {
	account := domain.NewAccount(c.Param("account"))
	c.JSON(http.StatusOK, gin.H{
		"account":  account,
		"holdings": h.ledger.Holdings(account),
	})
}

// deposit handles POST /api/v1/stable/deposits
func (h *Handler) deposit(c *gin.Context) {
	caller, ok := httpx.RequireCaller(c)
	if !ok {
		return
	}
	if h.canDeposit == nil || !h.canDeposit(caller) {
		httpx.Fail(c, fmt.Errorf("stable deposit by %q: %w", caller, domain.ErrUnauthorized))
		return
	}

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}

	account := domain.NewAccount(req.Account)
	if err := h.stable.Deposit(c.Request.Context(), account, req.Amount); err != nil {
		httpx.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": account,
		"balance": h.stable.BalanceOf(account),
	})
}

// getStableBalance handles GET /api/v1/stable/balances/:account
func (h *Handler) getStableBalance(c *gin.Context) {
	account := domain.NewAccount(c.Param("account"))
	c.JSON(http.StatusOK, gin.H{
		"account": account,
		"balance": h.stable.BalanceOf(account),
	})
}

// getStableSupply handles GET /api/v1/stable/supply
func (h *Handler) getStableSupply(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"total_supply": h.stable.TotalSupply()})
}
