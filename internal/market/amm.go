package market

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"carbon-scribe/vericarbon-engine/internal/domain"
)

// BasisPoints is the fee denominator.
const BasisPoints = 10_000

// GetAmountOut returns the constant-product output for amountIn, keeping
// feeBps of the input in the pool:
//
//	out = reserveOut*in*(10000-fee) / (reserveIn*10000 + in*(10000-fee))
//
// The division floors, so rounding always favours the pool and the reserve
// product never decreases.
func GetAmountOut(amountIn, reserveIn, reserveOut int64, feeBps uint32) (int64, error) {
	if reserveIn <= 0 || reserveOut <= 0 {
		return 0, fmt.Errorf("pool has no reserves: %w", domain.ErrInsufficientLiquidity)
	}
	if amountIn <= 0 {
		return 0, fmt.Errorf("swap input %d: %w", amountIn, domain.ErrInvalidAmount)
	}
	if feeBps >= BasisPoints {
		return 0, fmt.Errorf("fee %d bps out of range", feeBps)
	}
	if reserveIn > math.MaxInt64-amountIn {
		return 0, fmt.Errorf("swap input %d overflows reserve: %w", amountIn, domain.ErrInvalidAmount)
	}

	inWithFee := new(big.Int).Mul(big.NewInt(amountIn), big.NewInt(int64(BasisPoints-feeBps)))
	numerator := new(big.Int).Mul(inWithFee, big.NewInt(reserveOut))
	denominator := new(big.Int).Mul(big.NewInt(reserveIn), big.NewInt(BasisPoints))
	denominator.Add(denominator, inWithFee)

	out := new(big.Int).Quo(numerator, denominator)
	// out < reserveOut always holds here, so it fits in int64
	amountOut := out.Int64()

	if amountOut == 0 {
		return 0, fmt.Errorf("swap input %d yields nothing: %w", amountIn, domain.ErrInvalidAmount)
	}
	if amountOut >= reserveOut {
		return 0, fmt.Errorf("swap would drain the pool: %w", domain.ErrInvalidAmount)
	}
	return amountOut, nil
}

// Product returns carbon*stable without overflow.
func Product(carbon, stable int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(carbon), big.NewInt(stable))
}

// FeeBpsFromRate converts a decimal fee rate such as "0.003" into basis points.
func FeeBpsFromRate(rate string) (uint32, error) {
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return 0, fmt.Errorf("invalid fee rate %q: %w", rate, err)
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("fee rate %s must be in [0, 1)", d)
	}
	bps := d.Mul(decimal.NewFromInt(BasisPoints))
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("fee rate %s is finer than one basis point", d)
	}
	return uint32(bps.IntPart()), nil
}

// SpotPrice is stable per carbon unit, with the stable amount scaled down by
// its decimals. It is for display only; no engine decision reads it.
func SpotPrice(carbon, stable int64, stableDecimals int32) decimal.Decimal {
	if carbon <= 0 || stable <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(stable).
		Shift(-stableDecimals).
		DivRound(decimal.NewFromInt(carbon), 18)
}
