package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type LeverageType string

const (
	NoLeverage          LeverageType = "NO_LEVERAGE"
	MarginMultiplier    LeverageType = "MARGIN_MULTIPLIER"
	FlatMarginPerVolume LeverageType = "FLAT_MARGIN_PER_VOLUME"
)

// RequiredMargin computes the capital to hold against a position.
//
//	NO_LEVERAGE            volume * price * contract size
//	MARGIN_MULTIPLIER      volume * price * contract size / leverage
//	FLAT_MARGIN_PER_VOLUME volume * leverage
func RequiredMargin(lt LeverageType, leverage, volume, price, contractSize decimal.Decimal) (decimal.Decimal, error) {
	notional := volume.Mul(price).Mul(contractSize)
	switch lt {
	case NoLeverage:
		return notional, nil
	case MarginMultiplier:
		if !leverage.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: margin multiplier %s must be > 0", ErrInvalidLeverageConfig, leverage)
		}
		return notional.Div(leverage), nil
	case FlatMarginPerVolume:
		if leverage.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: flat margin %s must be >= 0", ErrInvalidLeverageConfig, leverage)
		}
		return volume.Mul(leverage), nil
	}
	return decimal.Zero, fmt.Errorf("%w: unknown leverage type %q", ErrInvalidLeverageConfig, lt)
}
