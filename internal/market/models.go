package market

import (
	"time"

	"github.com/shopspring/decimal"

	"carbon-scribe/vericarbon-engine/internal/domain"
)

// Direction names the side of a swap.
type Direction string

const (
	StableToCarbon Direction = "stable_to_carbon"
	CarbonToStable Direction = "carbon_to_stable"
)

func (d Direction) Valid() bool {
	return d == StableToCarbon || d == CarbonToStable
}

// Pool is a snapshot of one liquidity pool.
type Pool struct {
	AssetID       domain.AssetID  `json:"asset_id"`
	Account       domain.Account  `json:"account"`
	CarbonReserve int64           `json:"carbon_reserve"`
	StableReserve int64           `json:"stable_reserve"`
	Product       string          `json:"product"`
	Price         decimal.Decimal `json:"price"`
	Swaps         int64           `json:"swaps"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Initialized reports whether the pool holds reserves.
func (p Pool) Initialized() bool {
	return p.CarbonReserve > 0 && p.StableReserve > 0
}

// SwapResult describes an executed swap.
type SwapResult struct {
	AssetID       domain.AssetID `json:"asset_id"`
	Trader        domain.Account `json:"trader"`
	Direction     Direction      `json:"direction"`
	AmountIn      int64          `json:"amount_in"`
	AmountOut     int64          `json:"amount_out"`
	CarbonReserve int64          `json:"carbon_reserve"`
	StableReserve int64          `json:"stable_reserve"`
}

// Options configures the market.
type Options struct {
	FeeBps         uint32
	StableDecimals int32
	Clock          domain.Clock
}

// AddLiquidityRequest is the body of an add-liquidity call.
type AddLiquidityRequest struct {
	CarbonAmount int64 `json:"carbon_amount"`
	StableAmount int64 `json:"stable_amount"`
}

// SwapRequest is the body of a swap call. MinOut of zero disables slippage
// protection.
type SwapRequest struct {
	Direction Direction `json:"direction" binding:"required"`
	AmountIn  int64     `json:"amount_in"`
	MinOut    int64     `json:"min_out"`
}

// Quote is a swap preview.
type Quote struct {
	AssetID   domain.AssetID `json:"asset_id"`
	Direction Direction      `json:"direction"`
	AmountIn  int64          `json:"amount_in"`
	AmountOut int64          `json:"amount_out"`
	FeeBps    uint32         `json:"fee_bps"`
}
