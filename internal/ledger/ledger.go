package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
)

type creditAsset struct {
	*book
	id          domain.AssetID
	expiry      time.Time
	documentRef string
	mintedAt    time.Time
	retired     int64
}

func (a *creditAsset) snapshot() Asset {
	return Asset{
		ID:          a.id,
		TotalSupply: a.supply,
		Retired:     a.retired,
		Expiry:      a.expiry,
		DocumentRef: a.documentRef,
		MintedAt:    a.mintedAt,
		Holders:     len(a.balances),
	}
}

// Ledger is the multi-asset credit ledger. Each asset has its own lock; the
// index lock only guards the set of assets.
type Ledger struct {
	mu     sync.RWMutex
	assets map[domain.AssetID]*creditAsset

	opts      Options
	publisher audit.Publisher
	logger    *zap.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(opts Options, publisher audit.Publisher, logger *zap.Logger) *Ledger {
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock
	}
	if publisher == nil {
		publisher = audit.Discard
	}
	return &Ledger{
		assets:    make(map[domain.AssetID]*creditAsset),
		opts:      opts,
		publisher: publisher,
		logger:    logger,
	}
}

func (l *Ledger) asset(id domain.AssetID) (*creditAsset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %d: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// Mint issues amount units of a new asset to holder. An asset id can be
// minted only once, even after its whole supply was retired.
func (l *Ledger) Mint(ctx context.Context, id domain.AssetID, holder domain.Account, amount int64, expiry time.Time, documentRef string) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount %d: %w", amount, domain.ErrInvalidAmount)
	}
	if holder.IsZero() {
		return fmt.Errorf("mint recipient: %w", domain.ErrInvalidAccount)
	}

	l.mu.Lock()
	if _, exists := l.assets[id]; exists {
		l.mu.Unlock()
		return fmt.Errorf("asset %d: %w", id, domain.ErrAlreadyExists)
	}
	a := &creditAsset{
		book:        newBook(),
		id:          id,
		expiry:      expiry.UTC(),
		documentRef: documentRef,
		mintedAt:    l.opts.Clock(),
	}
	// cannot overflow on an empty book
	_ = a.credit(holder, amount)
	l.assets[id] = a
	l.mu.Unlock()

	l.logger.Info("Credits minted",
		zap.Uint64("asset_id", uint64(id)),
		zap.String("account", holder.String()),
		zap.Int64("amount", amount),
		zap.Time("expiry", a.expiry))

	return nil
}

// Transfer moves amount units of asset id between holders.
func (l *Ledger) Transfer(ctx context.Context, id domain.AssetID, from, to domain.Account, amount int64) error {
	if err := l.Atomically(id, func(tx *Tx) error {
		return tx.Transfer(from, to, amount)
	}); err != nil {
		return err
	}

	ev := audit.NewEvent(audit.EventCreditsTransferred, from)
	ev.Subject = to
	ev.AssetID = id
	ev.Amount = amount
	l.publisher.Publish(ev)

	l.logger.Info("Credits transferred",
		zap.Uint64("asset_id", uint64(id)),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int64("amount", amount))

	return nil
}

// Retire burns amount units from holder. Retirement is allowed after expiry.
func (l *Ledger) Retire(ctx context.Context, id domain.AssetID, holder domain.Account, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("retire amount %d: %w", amount, domain.ErrInvalidAmount)
	}

	a, err := l.asset(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if err := a.burn(holder, amount); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("retire asset %d: %w", id, err)
	}
	a.retired += amount
	supply := a.supply
	a.mu.Unlock()

	ev := audit.NewEvent(audit.EventCreditsRetired, holder)
	ev.AssetID = id
	ev.Amount = amount
	ev.Data = map[string]any{"total_supply": supply}
	l.publisher.Publish(ev)

	l.logger.Info("Credits retired",
		zap.Uint64("asset_id", uint64(id)),
		zap.String("account", holder.String()),
		zap.Int64("amount", amount),
		zap.Int64("total_supply", supply))

	return nil
}

// Atomically runs fn with a transaction on asset id and commits its staged
// transfers only if fn returns nil. The asset stays locked for the duration,
// so fn may nest an Atomically call on a different ledger.
func (l *Ledger) Atomically(id domain.AssetID, fn func(*Tx) error) error {
	a, err := l.asset(id)
	if err != nil {
		return err
	}

	guard := func() error {
		if l.opts.EnforceExpiry && !l.opts.Clock().Before(a.expiry) {
			return fmt.Errorf("asset %d expired at %s: %w", id, a.expiry.Format(time.RFC3339), domain.ErrExpired)
		}
		return nil
	}

	_, err = a.atomically(guard, fn)
	return err
}

// BalanceOf returns holder's balance of asset id; unknown assets hold nothing.
func (l *Ledger) BalanceOf(id domain.AssetID, holder domain.Account) int64 {
	a, err := l.asset(id)
	if err != nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[holder]
}

// BalanceOfBatch returns the balance of holders[i] in assetIDs[i].
func (l *Ledger) BalanceOfBatch(holders []domain.Account, ids []domain.AssetID) ([]int64, error) {
	if len(holders) != len(ids) {
		return nil, fmt.Errorf("batch length mismatch: %d holders, %d assets", len(holders), len(ids))
	}
	out := make([]int64, len(holders))
	for i := range holders {
		out[i] = l.BalanceOf(ids[i], holders[i])
	}
	return out, nil
}

// TotalSupplyOf returns the circulating supply of asset id.
func (l *Ledger) TotalSupplyOf(id domain.AssetID) int64 {
	a, err := l.asset(id)
	if err != nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.supply
}

// ExpiryOf returns the expiry of asset id.
func (l *Ledger) ExpiryOf(id domain.AssetID) (time.Time, error) {
	a, err := l.asset(id)
	if err != nil {
		return time.Time{}, err
	}
	return a.expiry, nil
}

// IsExpired reports whether asset id is past its expiry at t.
func (l *Ledger) IsExpired(id domain.AssetID, t time.Time) (bool, error) {
	expiry, err := l.ExpiryOf(id)
	if err != nil {
		return false, err
	}
	return !t.Before(expiry), nil
}

// Asset returns a snapshot of asset id.
func (l *Ledger) Asset(id domain.AssetID) (Asset, error) {
	a, err := l.asset(id)
	if err != nil {
		return Asset{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot(), nil
}

// Assets returns snapshots of every minted asset ordered by id.
func (l *Ledger) Assets() []Asset {
	assets := l.list()

	out := make([]Asset, 0, len(assets))
	for _, a := range assets {
		a.mu.Lock()
		out = append(out, a.snapshot())
		a.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Holdings returns every non-zero position of holder ordered by asset id.
func (l *Ledger) Holdings(holder domain.Account) []Holding {
	assets := l.list()

	now := l.opts.Clock()
	out := []Holding{}
	for _, a := range assets {
		a.mu.Lock()
		balance := a.balances[holder]
		a.mu.Unlock()
		if balance == 0 {
			continue
		}
		out = append(out, Holding{
			AssetID:     a.id,
			Balance:     balance,
			Expiry:      a.expiry,
			DocumentRef: a.documentRef,
			Expired:     !now.Before(a.expiry),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

func (l *Ledger) list() []*creditAsset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	assets := make([]*creditAsset, 0, len(l.assets))
	for _, a := range l.assets {
		assets = append(assets, a)
	}
	return assets
}

// Balances returns a copy of every balance of asset id.
func (l *Ledger) Balances(id domain.AssetID) (map[domain.Account]int64, error) {
	a, err := l.asset(id)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[domain.Account]int64, len(a.balances))
	for k, v := range a.balances {
		out[k] = v
	}
	return out, nil
}
