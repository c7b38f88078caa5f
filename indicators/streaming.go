package indicators

import (
	"fmt"

	"github.com/rustyeddy/barledger/market"
	"github.com/shopspring/decimal"
)

// SimpleMA is a streaming Simple Moving Average of bar closes
type SimpleMA struct {
	period int
	closes []decimal.Decimal
}

// NewMA creates a new Simple Moving Average indicator with the given period
func NewMA(period int) *SimpleMA {
	return &SimpleMA{
		period: period,
		closes: make([]decimal.Decimal, 0, period),
	}
}

func (m *SimpleMA) Name() string {
	return fmt.Sprintf("MA(%d)", m.period)
}

func (m *SimpleMA) Warmup() int {
	return m.period
}

func (m *SimpleMA) Reset() {
	m.closes = m.closes[:0]
}

func (m *SimpleMA) Update(b market.Bar) {
	m.closes = append(m.closes, b.Close)
	// Keep only the last 'period' closes
	if len(m.closes) > m.period {
		m.closes = m.closes[1:]
	}
}

func (m *SimpleMA) Ready() bool {
	return m.period > 0 && len(m.closes) >= m.period
}

func (m *SimpleMA) Value() decimal.Decimal {
	if !m.Ready() {
		return decimal.Zero
	}
	return decimal.Avg(m.closes[0], m.closes[1:]...)
}

// ExponentialMA is a streaming Exponential Moving Average of bar closes
type ExponentialMA struct {
	period     int
	multiplier decimal.Decimal
	ema        decimal.Decimal
	count      int
	warmupSum  decimal.Decimal
}

// NewEMA creates a new Exponential Moving Average indicator with the given period
func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{
		period:     period,
		multiplier: decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1))),
	}
}

func (e *ExponentialMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *ExponentialMA) Warmup() int {
	return e.period
}

func (e *ExponentialMA) Reset() {
	e.ema = decimal.Zero
	e.count = 0
	e.warmupSum = decimal.Zero
}

func (e *ExponentialMA) Update(b market.Bar) {
	if e.count < e.period {
		// seed with the SMA of the first period closes
		e.warmupSum = e.warmupSum.Add(b.Close)
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum.Div(decimal.NewFromInt(int64(e.period)))
		}
		return
	}
	e.ema = b.Close.Sub(e.ema).Mul(e.multiplier).Add(e.ema)
}

func (e *ExponentialMA) Ready() bool {
	return e.period > 0 && e.count >= e.period
}

func (e *ExponentialMA) Value() decimal.Decimal {
	if !e.Ready() {
		return decimal.Zero
	}
	return e.ema
}
