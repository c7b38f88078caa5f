package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type FeeType string

const (
	NoFee             FeeType = "NO_FEE"
	FlatPerTrade      FeeType = "FLAT_PER_TRADE"
	PercentOfNotional FeeType = "PERCENT_OF_NOTIONAL"
	FlatPerVolume     FeeType = "FLAT_PER_VOLUME"
	PercentOfMargin   FeeType = "PERCENT_OF_MARGIN"
)

// FeeTiming is the lifecycle event at which a fee is charged.
type FeeTiming string

const (
	OnCreate           FeeTiming = "ON_CREATE"
	OnFill             FeeTiming = "ON_FILL"
	OnClose            FeeTiming = "ON_CLOSE"
	OnCancel           FeeTiming = "ON_CANCEL"
	OnOvernightPending FeeTiming = "ON_OVERNIGHT_PENDING"
	OnOvernightFilled  FeeTiming = "ON_OVERNIGHT_FILLED"
)

func (t FeeTiming) valid() bool {
	switch t {
	case OnCreate, OnFill, OnClose, OnCancel, OnOvernightPending, OnOvernightFilled:
		return true
	}
	return false
}

// Fee is one entry of a fee schedule. Amount is a rate for the percent
// types (0.001 = 0.1%) and a flat value otherwise.
type Fee struct {
	Type   FeeType         `yaml:"type" json:"type"`
	Timing FeeTiming       `yaml:"timing" json:"timing"`
	Amount decimal.Decimal `yaml:"amount" json:"amount"`
}

// ComputeFee returns the fee charged by f. A nil fee costs nothing.
func ComputeFee(f *Fee, notional, margin, volume decimal.Decimal) (decimal.Decimal, error) {
	if f == nil {
		return decimal.Zero, nil
	}
	switch f.Type {
	case NoFee:
		return decimal.Zero, nil
	case FlatPerTrade:
		return f.Amount, nil
	case PercentOfNotional:
		return f.Amount.Mul(notional), nil
	case FlatPerVolume:
		return f.Amount.Mul(volume), nil
	case PercentOfMargin:
		return f.Amount.Mul(margin), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownFeeType, f.Type)
}

// Schedule holds at most one fee per timing.
type Schedule []Fee

// For returns the fee configured for timing, or nil.
func (s Schedule) For(timing FeeTiming) *Fee {
	for i := range s {
		if s[i].Timing == timing {
			return &s[i]
		}
	}
	return nil
}

func (s Schedule) validate() error {
	seen := make(map[FeeTiming]bool, len(s))
	for _, f := range s {
		if !f.Timing.valid() {
			return fmt.Errorf("unknown fee timing %q", f.Timing)
		}
		if seen[f.Timing] {
			return fmt.Errorf("duplicate fee for timing %s", f.Timing)
		}
		seen[f.Timing] = true
		if _, err := ComputeFee(&f, decimal.Zero, decimal.Zero, decimal.Zero); err != nil {
			return err
		}
		if f.Amount.IsNegative() {
			return fmt.Errorf("negative %s fee amount %s", f.Timing, f.Amount)
		}
	}
	return nil
}
