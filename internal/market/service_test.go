package market

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/ledger"
)

const (
	provider = domain.Account("gprovider")
	trader   = domain.Account("gtrader")
	asset    = domain.AssetID(1)
)

type fixture struct {
	ctx     context.Context
	carbon  *ledger.Ledger
	stable  *ledger.StableLedger
	service *Service
	events  *audit.Recorder
}

func newFixture(t *testing.T, feeBps uint32) *fixture {
	t.Helper()
	ctx := context.Background()
	rec := audit.NewRecorder()

	carbon := ledger.NewLedger(ledger.Options{}, rec, zap.NewNop())
	require.NoError(t, carbon.Mint(ctx, asset, provider, 10_000, time.Now().Add(24*time.Hour), "ipfs://cert"))
	require.NoError(t, carbon.Transfer(ctx, asset, provider, trader, 1_000))

	stable := ledger.NewStableLedger(rec, zap.NewNop())
	require.NoError(t, stable.Deposit(ctx, provider, 50_000))
	require.NoError(t, stable.Deposit(ctx, trader, 10_000))

	svc, err := NewService(carbon, stable, Options{FeeBps: feeBps, StableDecimals: 6}, rec, zap.NewNop())
	require.NoError(t, err)

	return &fixture{ctx: ctx, carbon: carbon, stable: stable, service: svc, events: rec}
}

// seed creates the reference pool: 1000 carbon against 2000 stable.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.service.AddLiquidity(f.ctx, provider, asset, 1000, 2000)
	require.NoError(t, err)
}

func TestNewServiceRejectsFullFee(t *testing.T) {
	_, err := NewService(nil, nil, Options{FeeBps: BasisPoints}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestAddLiquidity(t *testing.T) {
	f := newFixture(t, 0)

	pool, err := f.service.AddLiquidity(f.ctx, provider, asset, 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), pool.CarbonReserve)
	assert.Equal(t, int64(2000), pool.StableReserve)
	assert.Equal(t, "2000000", pool.Product)
	assert.True(t, pool.Initialized())

	// any ratio is accepted once funded
	pool, err = f.service.AddLiquidity(f.ctx, provider, asset, 10, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1010), pool.CarbonReserve)
	assert.Equal(t, int64(2500), pool.StableReserve)

	account := domain.PoolAccount(asset)
	assert.Equal(t, int64(1010), f.carbon.BalanceOf(asset, account))
	assert.Equal(t, int64(2500), f.stable.BalanceOf(account))
	assert.Len(t, f.events.OfType(audit.EventLiquidityAdded), 2)
}

func TestAddLiquidityIsAtomic(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.service.AddLiquidity(f.ctx, provider, asset, 0, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	// carbon leg succeeds, stable leg is short: nothing moves
	_, err = f.service.AddLiquidity(f.ctx, provider, asset, 100, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	carbon, stable := f.service.ReservesOf(asset)
	assert.Zero(t, carbon)
	assert.Zero(t, stable)
	assert.Equal(t, int64(9_000), f.carbon.BalanceOf(asset, provider))
	assert.Equal(t, int64(50_000), f.stable.BalanceOf(provider))
	assert.Empty(t, f.service.Pools())

	_, err = f.service.AddLiquidity(f.ctx, provider, 99, 1, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSwapStableForCarbonReferenceScenario(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t)

	result, err := f.service.SwapExactStableForCarbon(f.ctx, trader, asset, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(47), result.AmountOut)
	assert.Equal(t, int64(953), result.CarbonReserve)
	assert.Equal(t, int64(2100), result.StableReserve)

	pool := f.service.Pool(asset)
	assert.Equal(t, "2001300", pool.Product)
	assert.Equal(t, int64(1), pool.Swaps)

	assert.Equal(t, int64(1047), f.carbon.BalanceOf(asset, trader))
	assert.Equal(t, int64(9_900), f.stable.BalanceOf(trader))
	assert.Equal(t, int64(953), f.carbon.BalanceOf(asset, domain.PoolAccount(asset)))

	events := f.events.OfType(audit.EventSwapExecuted)
	require.Len(t, events, 1)
	assert.Equal(t, "stable_to_carbon", events[0].Data["direction"])
}

func TestSwapCarbonForStable(t *testing.T) {
	f := newFixture(t, 30)
	f.seed(t)

	quoted, err := f.service.QuoteCarbonForStable(asset, 100)
	require.NoError(t, err)

	result, err := f.service.SwapExactCarbonForStable(f.ctx, trader, asset, 100, quoted)
	require.NoError(t, err)
	assert.Equal(t, quoted, result.AmountOut)
	assert.Equal(t, int64(1100), result.CarbonReserve)
	assert.Equal(t, 2000-quoted, result.StableReserve)

	assert.Equal(t, int64(900), f.carbon.BalanceOf(asset, trader))
	assert.Equal(t, 10_000+quoted, f.stable.BalanceOf(trader))
}

func TestSwapErrors(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.service.SwapExactStableForCarbon(f.ctx, trader, asset, 100, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	f.seed(t)

	_, err = f.service.SwapExactStableForCarbon(f.ctx, trader, asset, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.service.SwapExactStableForCarbon(f.ctx, trader, asset, 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.service.SwapExactStableForCarbon(f.ctx, trader, asset, 100, 48)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.service.SwapExactStableForCarbon(f.ctx, trader, asset, 20_000, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = f.service.Swap(f.ctx, trader, asset, Direction("sideways"), 10, 0)
	assert.Error(t, err)

	carbon, stable := f.service.ReservesOf(asset)
	assert.Equal(t, int64(1000), carbon)
	assert.Equal(t, int64(2000), stable)
	assert.Equal(t, int64(1000), f.carbon.BalanceOf(asset, trader))
	assert.Equal(t, int64(10_000), f.stable.BalanceOf(trader))
	assert.Empty(t, f.events.OfType(audit.EventSwapExecuted))
}

func TestSwapBlockedByExpiryPolicy(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	carbon := ledger.NewLedger(ledger.Options{EnforceExpiry: true, Clock: clock}, nil, zap.NewNop())
	require.NoError(t, carbon.Mint(ctx, asset, provider, 1000, now.Add(time.Hour), ""))
	stable := ledger.NewStableLedger(nil, zap.NewNop())
	require.NoError(t, stable.Deposit(ctx, provider, 5000))

	svc, err := NewService(carbon, stable, Options{}, nil, zap.NewNop())
	require.NoError(t, err)
	_, err = svc.AddLiquidity(ctx, provider, asset, 500, 1000)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = svc.SwapExactStableForCarbon(ctx, provider, asset, 100, 0)
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Equal(t, int64(4000), stable.BalanceOf(provider))
}

func TestProductNeverDecreases(t *testing.T) {
	f := newFixture(t, 30)
	f.seed(t)
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		carbon, stable := f.service.ReservesOf(asset)
		before := Product(carbon, stable)

		if rnd.Intn(2) == 0 {
			_, _ = f.service.SwapExactStableForCarbon(f.ctx, trader, asset, rnd.Int63n(300)+1, 0)
		} else {
			_, _ = f.service.SwapExactCarbonForStable(f.ctx, trader, asset, rnd.Int63n(150)+1, 0)
		}

		carbon, stable = f.service.ReservesOf(asset)
		require.True(t, carbon > 0 && stable > 0)
		require.True(t, Product(carbon, stable).Cmp(before) >= 0, "product decreased at step %d", i)
	}
}

func TestConcurrentSwapsConserveBalances(t *testing.T) {
	f := newFixture(t, 30)
	f.seed(t)

	traders := []domain.Account{"gt1", "gt2", "gt3", "gt4"}
	for _, tr := range traders {
		require.NoError(t, f.carbon.Transfer(f.ctx, asset, trader, tr, 200))
		require.NoError(t, f.stable.Transfer(f.ctx, trader, tr, 2_000))
	}

	var g errgroup.Group
	for i, tr := range traders {
		tr := tr
		seed := int64(i)
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(seed))
			for n := 0; n < 200; n++ {
				if rnd.Intn(2) == 0 {
					_, _ = f.service.SwapExactStableForCarbon(f.ctx, tr, asset, rnd.Int63n(100)+1, 0)
				} else {
					_, _ = f.service.SwapExactCarbonForStable(f.ctx, tr, asset, rnd.Int63n(50)+1, 0)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	account := domain.PoolAccount(asset)
	carbon, stable := f.service.ReservesOf(asset)
	assert.Equal(t, carbon, f.carbon.BalanceOf(asset, account))
	assert.Equal(t, stable, f.stable.BalanceOf(account))
	assert.Equal(t, int64(10_000), f.carbon.TotalSupplyOf(asset))
	assert.Equal(t, int64(60_000), f.stable.TotalSupply())

	balances, err := f.carbon.Balances(asset)
	require.NoError(t, err)
	var total int64
	for _, b := range balances {
		total += b
	}
	assert.Equal(t, int64(10_000), total)
}

func TestPriceAndQuote(t *testing.T) {
	f := newFixture(t, 0)

	assert.True(t, f.service.Price(asset).IsZero())
	_, err := f.service.QuoteStableForCarbon(asset, 100)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	_, err = f.service.AddLiquidity(f.ctx, provider, asset, 1000, 20_000)
	require.NoError(t, err)

	// 20000 micro-units over 1000 credits = 0.00002 per credit
	assert.True(t, f.service.Price(asset).Equal(decimal.RequireFromString("0.00002")))

	out, err := f.service.QuoteStableForCarbon(asset, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(90), out)

	// quoting changes nothing
	carbon, stable := f.service.ReservesOf(asset)
	assert.Equal(t, int64(1000), carbon)
	assert.Equal(t, int64(20_000), stable)
}
