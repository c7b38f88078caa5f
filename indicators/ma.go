// Package indicators computes moving averages over decimal bar closes.
package indicators

import (
	"fmt"

	"github.com/rustyeddy/barledger/market"
	"github.com/shopspring/decimal"
)

// Indicator is a streaming indicator fed one bar at a time.
type Indicator interface {
	Name() string
	Warmup() int
	Reset()
	Update(b market.Bar)
	Ready() bool
	Value() decimal.Decimal
}

var (
	_ Indicator = (*SimpleMA)(nil)
	_ Indicator = (*ExponentialMA)(nil)
)

// MA calculates the Simple Moving Average of the last period closes.
func MA(bars []market.Bar, period int) (decimal.Decimal, error) {
	if err := checkPeriod(len(bars), period); err != nil {
		return decimal.Zero, err
	}
	m := NewMA(period)
	for _, b := range bars[len(bars)-period:] {
		m.Update(b)
	}
	return m.Value(), nil
}

// EMA calculates the Exponential Moving Average over all bars, seeded with
// the SMA of the first period closes.
func EMA(bars []market.Bar, period int) (decimal.Decimal, error) {
	if err := checkPeriod(len(bars), period); err != nil {
		return decimal.Zero, err
	}
	e := NewEMA(period)
	for _, b := range bars {
		e.Update(b)
	}
	return e.Value(), nil
}

func checkPeriod(n, period int) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive, got %d", period)
	}
	if n < period {
		return fmt.Errorf("not enough bars: need %d, got %d", period, n)
	}
	return nil
}
