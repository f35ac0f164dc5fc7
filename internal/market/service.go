package market

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/ledger"
)

// CarbonLedger is the credit ledger as seen by the market.
type CarbonLedger interface {
	Atomically(id domain.AssetID, fn func(*ledger.Tx) error) error
	BalanceOf(id domain.AssetID, holder domain.Account) int64
}

// StableSource is the stable-asset balance source the market settles against.
type StableSource interface {
	Atomically(fn func(*ledger.Tx) error) error
	BalanceOf(holder domain.Account) int64
}

type pool struct {
	mu        sync.Mutex
	id        domain.AssetID
	carbon    int64
	stable    int64
	swaps     int64
	createdAt time.Time
	updatedAt time.Time
}

// Service runs one constant-product pool per credit asset. Locks are taken in
// the order pool, carbon asset, stable book.
type Service struct {
	carbon CarbonLedger
	stable StableSource

	mu    sync.RWMutex
	pools map[domain.AssetID]*pool

	opts      Options
	publisher audit.Publisher
	logger    *zap.Logger
}

// NewService creates a new market service
func NewService(carbon CarbonLedger, stable StableSource, opts Options, publisher audit.Publisher, logger *zap.Logger) (*Service, error) {
	if opts.FeeBps >= BasisPoints {
		return nil, fmt.Errorf("fee %d bps must be below %d", opts.FeeBps, BasisPoints)
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock
	}
	if publisher == nil {
		publisher = audit.Discard
	}
	return &Service{
		carbon:    carbon,
		stable:    stable,
		pools:     make(map[domain.AssetID]*pool),
		opts:      opts,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// FeeBps returns the configured swap fee.
func (s *Service) FeeBps() uint32 { return s.opts.FeeBps }

// AddLiquidity moves carbonAmount credits and stableAmount stable units from
// provider into the pool of asset id. An empty pool takes the deposit as its
// initial price; a funded pool accepts any ratio.
func (s *Service) AddLiquidity(ctx context.Context, provider domain.Account, id domain.AssetID, carbonAmount, stableAmount int64) (Pool, error) {
	if carbonAmount <= 0 || stableAmount <= 0 {
		return Pool{}, fmt.Errorf("liquidity %d/%d: %w", carbonAmount, stableAmount, domain.ErrInvalidAmount)
	}

	p := s.poolFor(id, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.carbon > math.MaxInt64-carbonAmount || p.stable > math.MaxInt64-stableAmount {
		return Pool{}, fmt.Errorf("liquidity overflows reserves: %w", domain.ErrInvalidAmount)
	}

	account := domain.PoolAccount(id)
	err := s.carbon.Atomically(id, func(tx *ledger.Tx) error {
		if err := tx.Transfer(provider, account, carbonAmount); err != nil {
			return err
		}
		return s.stable.Atomically(func(stx *ledger.Tx) error {
			if err := stx.Transfer(provider, account, stableAmount); err != nil {
				return err
			}
			p.carbon += carbonAmount
			p.stable += stableAmount
			p.updatedAt = s.opts.Clock()
			return nil
		})
	})
	if err != nil {
		return Pool{}, fmt.Errorf("add liquidity to pool %d: %w", id, err)
	}

	snapshot := s.snapshot(p)

	ev := audit.NewEvent(audit.EventLiquidityAdded, provider)
	ev.AssetID = id
	ev.Amount = carbonAmount
	ev.Data = map[string]any{
		"stable_amount":  stableAmount,
		"carbon_reserve": p.carbon,
		"stable_reserve": p.stable,
	}
	s.publisher.Publish(ev)

	s.logger.Info("Liquidity added",
		zap.Uint64("asset_id", uint64(id)),
		zap.String("account", provider.String()),
		zap.Int64("carbon_amount", carbonAmount),
		zap.Int64("stable_amount", stableAmount),
		zap.Int64("carbon_reserve", p.carbon),
		zap.Int64("stable_reserve", p.stable))

	return snapshot, nil
}

// SwapExactStableForCarbon sells stableIn stable units for credits of asset id.
func (s *Service) SwapExactStableForCarbon(ctx context.Context, trader domain.Account, id domain.AssetID, stableIn, minCarbonOut int64) (SwapResult, error) {
	return s.swap(trader, id, StableToCarbon, stableIn, minCarbonOut)
}

// SwapExactCarbonForStable sells carbonIn credits of asset id for stable units.
func (s *Service) SwapExactCarbonForStable(ctx context.Context, trader domain.Account, id domain.AssetID, carbonIn, minStableOut int64) (SwapResult, error) {
	return s.swap(trader, id, CarbonToStable, carbonIn, minStableOut)
}

// Swap dispatches on direction.
func (s *Service) Swap(ctx context.Context, trader domain.Account, id domain.AssetID, direction Direction, amountIn, minOut int64) (SwapResult, error) {
	switch direction {
	case StableToCarbon:
		return s.SwapExactStableForCarbon(ctx, trader, id, amountIn, minOut)
	case CarbonToStable:
		return s.SwapExactCarbonForStable(ctx, trader, id, amountIn, minOut)
	default:
		return SwapResult{}, fmt.Errorf("unknown swap direction %q", direction)
	}
}

func (s *Service) swap(trader domain.Account, id domain.AssetID, direction Direction, amountIn, minOut int64) (SwapResult, error) {
	p := s.poolFor(id, false)
	if p == nil {
		return SwapResult{}, fmt.Errorf("pool %d: %w", id, domain.ErrInsufficientLiquidity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	reserveIn, reserveOut := p.stable, p.carbon
	if direction == CarbonToStable {
		reserveIn, reserveOut = p.carbon, p.stable
	}

	amountOut, err := GetAmountOut(amountIn, reserveIn, reserveOut, s.opts.FeeBps)
	if err != nil {
		return SwapResult{}, fmt.Errorf("swap on pool %d: %w", id, err)
	}
	if minOut > 0 && amountOut < minOut {
		return SwapResult{}, fmt.Errorf("swap on pool %d yields %d, below minimum %d: %w", id, amountOut, minOut, domain.ErrInvalidAmount)
	}

	account := domain.PoolAccount(id)
	err = s.carbon.Atomically(id, func(tx *ledger.Tx) error {
		var err error
		if direction == StableToCarbon {
			err = tx.Transfer(account, trader, amountOut)
		} else {
			err = tx.Transfer(trader, account, amountIn)
		}
		if err != nil {
			return err
		}

		return s.stable.Atomically(func(stx *ledger.Tx) error {
			if direction == StableToCarbon {
				if err := stx.Transfer(trader, account, amountIn); err != nil {
					return err
				}
				p.stable += amountIn
				p.carbon -= amountOut
			} else {
				if err := stx.Transfer(account, trader, amountOut); err != nil {
					return err
				}
				p.carbon += amountIn
				p.stable -= amountOut
			}
			p.swaps++
			p.updatedAt = s.opts.Clock()
			return nil
		})
	})
	if err != nil {
		return SwapResult{}, fmt.Errorf("swap on pool %d: %w", id, err)
	}

	result := SwapResult{
		AssetID:       id,
		Trader:        trader,
		Direction:     direction,
		AmountIn:      amountIn,
		AmountOut:     amountOut,
		CarbonReserve: p.carbon,
		StableReserve: p.stable,
	}

	ev := audit.NewEvent(audit.EventSwapExecuted, trader)
	ev.AssetID = id
	ev.Amount = amountIn
	ev.Data = map[string]any{
		"direction":      string(direction),
		"amount_out":     amountOut,
		"carbon_reserve": p.carbon,
		"stable_reserve": p.stable,
	}
	s.publisher.Publish(ev)

	s.logger.Info("Swap executed",
		zap.Uint64("asset_id", uint64(id)),
		zap.String("account", trader.String()),
		zap.String("direction", string(direction)),
		zap.Int64("amount_in", amountIn),
		zap.Int64("amount_out", amountOut))

	return result, nil
}

// ReservesOf returns the reserves of asset id's pool; zeros mean no pool yet.
func (s *Service) ReservesOf(id domain.AssetID) (carbon, stable int64) {
	p := s.poolFor(id, false)
	if p == nil {
		return 0, 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.carbon, p.stable
}

// Pool returns a snapshot of asset id's pool. A missing pool reads as empty.
func (s *Service) Pool(id domain.AssetID) Pool {
	p := s.poolFor(id, false)
	if p == nil {
		return Pool{AssetID: id, Account: domain.PoolAccount(id), Product: "0", Price: decimal.Zero}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return s.snapshot(p)
}

// Pools returns snapshots of every pool ordered by asset id.
func (s *Service) Pools() []Pool {
	s.mu.RLock()
	pools := make([]*pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.RUnlock()

	out := make([]Pool, 0, len(pools))
	for _, p := range pools {
		p.mu.Lock()
		// skip entries left by deposits that failed before funding
		if p.carbon > 0 {
			out = append(out, s.snapshot(p))
		}
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Quote previews a swap without changing state.
func (s *Service) Quote(id domain.AssetID, direction Direction, amountIn int64) (Quote, error) {
	carbon, stable := s.ReservesOf(id)

	var (
		out int64
		err error
	)
	switch direction {
	case StableToCarbon:
		out, err = GetAmountOut(amountIn, stable, carbon, s.opts.FeeBps)
	case CarbonToStable:
		out, err = GetAmountOut(amountIn, carbon, stable, s.opts.FeeBps)
	default:
		return Quote{}, fmt.Errorf("unknown swap direction %q", direction)
	}
	if err != nil {
		return Quote{}, fmt.Errorf("quote on pool %d: %w", id, err)
	}

	return Quote{AssetID: id, Direction: direction, AmountIn: amountIn, AmountOut: out, FeeBps: s.opts.FeeBps}, nil
}

// QuoteStableForCarbon previews SwapExactStableForCarbon.
func (s *Service) QuoteStableForCarbon(id domain.AssetID, stableIn int64) (int64, error) {
	q, err := s.Quote(id, StableToCarbon, stableIn)
	return q.AmountOut, err
}

// QuoteCarbonForStable previews SwapExactCarbonForStable.
func (s *Service) QuoteCarbonForStable(id domain.AssetID, carbonIn int64) (int64, error) {
	q, err := s.Quote(id, CarbonToStable, carbonIn)
	return q.AmountOut, err
}

// Price is the display price of asset id in stable units per credit.
func (s *Service) Price(id domain.AssetID) decimal.Decimal {
	carbon, stable := s.ReservesOf(id)
	return SpotPrice(carbon, stable, s.opts.StableDecimals)
}

func (s *Service) poolFor(id domain.AssetID, create bool) *pool {
	s.mu.RLock()
	p, ok := s.pools[id]
	s.mu.RUnlock()
	if ok || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[id]; ok {
		return p
	}
	now := s.opts.Clock()
	p = &pool{id: id, createdAt: now, updatedAt: now}
	s.pools[id] = p
	return p
}

func (s *Service) snapshot(p *pool) Pool {
	return Pool{
		AssetID:       p.id,
		Account:       domain.PoolAccount(p.id),
		CarbonReserve: p.carbon,
		StableReserve: p.stable,
		Product:       Product(p.carbon, p.stable).String(),
		Price:         SpotPrice(p.carbon, p.stable, s.opts.StableDecimals),
		Swaps:         p.swaps,
		CreatedAt:     p.createdAt,
		UpdatedAt:     p.updatedAt,
	}
}
