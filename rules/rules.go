// Package rules holds trading rules per broker and pair together with the
// fee and margin arithmetic they drive.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrRulesNotFound         = errors.New("trading rules not found")
	ErrInvalidLeverageConfig = errors.New("invalid leverage config")
	ErrUnknownFeeType        = errors.New("unknown fee type")
	ErrValidationRejected    = errors.New("order intent rejected")
)

// OvernightTiming selects when overnight fees are charged.
type OvernightTiming string

const (
	// OnPeriodChange charges at every UTC day boundary.
	OnPeriodChange OvernightTiming = "ON_PERIOD_CHANGE"
	// OnFixedTime charges once a day at ChargeTime.
	OnFixedTime OvernightTiming = "ON_FIXED_TIME"
)

type TradingRules struct {
	Broker string `yaml:"broker" json:"broker"`
	Pair   string `yaml:"pair" json:"pair"`

	LeverageType  LeverageType    `yaml:"leverage_type" json:"leverage_type"`
	LeverageValue decimal.Decimal `yaml:"leverage_value" json:"leverage_value"`
	ContractSize  decimal.Decimal `yaml:"contract_size" json:"contract_size"`

	Fees Schedule `yaml:"fees" json:"fees"`

	MinVolume   decimal.Decimal `yaml:"min_volume" json:"min_volume"`
	MinNotional decimal.Decimal `yaml:"min_notional" json:"min_notional"`
	MinMargin   decimal.Decimal `yaml:"min_margin" json:"min_margin"`

	AllowLong  bool `yaml:"allow_long" json:"allow_long"`
	AllowShort bool `yaml:"allow_short" json:"allow_short"`

	OvernightTiming OvernightTiming `yaml:"overnight_timing" json:"overnight_timing"`
	// ChargeTime is "HH:MM" UTC, used with ON_FIXED_TIME.
	ChargeTime string `yaml:"charge_time" json:"charge_time"`
}

// Contract returns the contract size, defaulting to 1.
func (r TradingRules) Contract() decimal.Decimal {
	if r.ContractSize.IsPositive() {
		return r.ContractSize
	}
	return decimal.NewFromInt(1)
}

// Leverage returns the leverage value in effect for an order. An order may
// only pick its own multiplier under MARGIN_MULTIPLIER.
func (r TradingRules) Leverage(override decimal.NullDecimal) decimal.Decimal {
	if r.LeverageType == MarginMultiplier && override.Valid {
		return override.Decimal
	}
	return r.LeverageValue
}

// Margin is RequiredMargin under these rules.
func (r TradingRules) Margin(override decimal.NullDecimal, volume, price decimal.Decimal) (decimal.Decimal, error) {
	return RequiredMargin(r.LeverageType, r.Leverage(override), volume, price, r.Contract())
}

// Fee computes the fee for timing. Unconfigured timings cost nothing.
func (r TradingRules) Fee(timing FeeTiming, volume, price, margin decimal.Decimal) (decimal.Decimal, error) {
	return ComputeFee(r.Fees.For(timing), volume.Mul(price).Mul(r.Contract()), margin, volume)
}

// ChargeOffset is the time of day at which overnight fees are charged.
func (r TradingRules) ChargeOffset() (time.Duration, error) {
	if r.OvernightTiming != OnFixedTime {
		return 0, nil
	}
	t, err := time.Parse("15:04", r.ChargeTime)
	if err != nil {
		return 0, fmt.Errorf("bad charge_time %q: %w", r.ChargeTime, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Validate reports catalog misconfiguration.
func (r TradingRules) Validate() error {
	if r.Broker == "" || r.Pair == "" {
		return errors.New("broker and pair are required")
	}
	if _, err := RequiredMargin(r.LeverageType, r.LeverageValue, decimal.Zero, decimal.Zero, r.Contract()); err != nil {
		return fmt.Errorf("%s/%s: %w", r.Broker, r.Pair, err)
	}
	if err := r.Fees.validate(); err != nil {
		return fmt.Errorf("%s/%s: %w", r.Broker, r.Pair, err)
	}
	switch r.OvernightTiming {
	case "", OnPeriodChange:
	case OnFixedTime:
		if _, err := r.ChargeOffset(); err != nil {
			return fmt.Errorf("%s/%s: %w", r.Broker, r.Pair, err)
		}
	default:
		return fmt.Errorf("%s/%s: unknown overnight timing %q", r.Broker, r.Pair, r.OvernightTiming)
	}
	if r.ContractSize.IsNegative() {
		return fmt.Errorf("%s/%s: negative contract size", r.Broker, r.Pair)
	}
	return nil
}

// Catalog looks up trading rules for a broker and pair.
type Catalog interface {
	Rules(broker, pair string) (TradingRules, error)
}

type key struct{ broker, pair string }

// MemCatalog is a read-only in-memory Catalog.
type MemCatalog struct {
	rules map[key]TradingRules
}

// NewCatalog validates every entry. The first misconfigured entry fails the
// whole catalog.
func NewCatalog(entries ...TradingRules) (*MemCatalog, error) {
	c := &MemCatalog{rules: make(map[key]TradingRules, len(entries))}
	for _, r := range entries {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		k := key{r.Broker, r.Pair}
		if _, dup := c.rules[k]; dup {
			return nil, fmt.Errorf("duplicate rules for %s/%s", r.Broker, r.Pair)
		}
		c.rules[k] = r
	}
	return c, nil
}

func (c *MemCatalog) Rules(broker, pair string) (TradingRules, error) {
	r, ok := c.rules[key{broker, pair}]
	if !ok {
		return TradingRules{}, fmt.Errorf("%w: %s/%s", ErrRulesNotFound, broker, pair)
	}
	return r, nil
}
