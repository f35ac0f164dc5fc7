package ledger

import (
	"time"

	"carbon-scribe/vericarbon-engine/internal/domain"
)

// Asset is a point-in-time view of one credit asset.
type Asset struct {
	ID          domain.AssetID `json:"id"`
	TotalSupply int64          `json:"total_supply"`
	Retired     int64          `json:"retired"`
	Expiry      time.Time      `json:"expiry"`
	DocumentRef string         `json:"document_ref"`
	MintedAt    time.Time      `json:"minted_at"`
	Holders     int            `json:"holders"`
}

// Expired reports whether the asset is past its expiry at t.
func (a Asset) Expired(t time.Time) bool {
	return !t.Before(a.Expiry)
}

// Holding is one non-zero position in a holder's portfolio.
type Holding struct {
	AssetID     domain.AssetID `json:"asset_id"`
	Balance     int64          `json:"balance"`
	Expiry      time.Time      `json:"expiry"`
	DocumentRef string         `json:"document_ref"`
	Expired     bool           `json:"expired"`
}

// Options tunes ledger behaviour.
type Options struct {
	// EnforceExpiry blocks transfers of assets past their expiry.
	EnforceExpiry bool
	Clock         domain.Clock
}

// TransferRequest is the body of a credit transfer call.
type TransferRequest struct {
	To     string `json:"to" binding:"required"`
	Amount int64  `json:"amount"`
}

// RetireRequest is the body of a retirement call.
type RetireRequest struct {
	Amount int64 `json:"amount"`
}

// DepositRequest is the body of a stable deposit call.
type DepositRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  int64  `json:"amount"`
}
