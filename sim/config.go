package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/barledger/market"
	"github.com/shopspring/decimal"
)

// NegativePolicy decides what a negative balance after a bar does to the run.
type NegativePolicy string

const (
	// Warn logs and records the violation and keeps running.
	Warn NegativePolicy = "warn"
	// Abort stops the run with ErrNegativeBalance.
	Abort NegativePolicy = "abort"
)

// Config holds the run-level settings of one engine.
type Config struct {
	RunID     string
	AccountID string
	AgentID   string
	BrokerID  string

	InitialBalance decimal.Decimal

	// FillAt is the bar price market orders fill at. It has no default.
	FillAt market.PriceRef

	// NegativeBalance defaults to Warn.
	NegativeBalance NegativePolicy

	// SpotParticipation caps a spot fill at this share of the bar volume
	// when the bar carries volume. Zero means no cap.
	SpotParticipation decimal.Decimal

	// CloseOnEnd closes filled trading orders at the last close and
	// cancels pending orders after the last bar.
	CloseOnEnd bool

	// Location sets day boundaries for overnight fees. Defaults to UTC.
	Location *time.Location
}

func (c *Config) Validate() error {
	if c.AccountID == "" {
		return errors.New("account id is required")
	}
	if c.BrokerID == "" {
		return errors.New("broker id is required")
	}
	if _, err := market.ParsePriceRef(string(c.FillAt)); err != nil {
		return fmt.Errorf("fill_at: %w", err)
	}
	switch c.NegativeBalance {
	case "":
		c.NegativeBalance = Warn
	case Warn, Abort:
	default:
		return fmt.Errorf("unknown negative balance policy %q (want warn or abort)", c.NegativeBalance)
	}
	if c.InitialBalance.IsNegative() {
		return errors.New("initial balance must not be negative")
	}
	one := decimal.NewFromInt(1)
	if c.SpotParticipation.IsNegative() || c.SpotParticipation.GreaterThan(one) {
		return fmt.Errorf("spot participation %s must be within [0, 1]", c.SpotParticipation)
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.AgentID == "" {
		c.AgentID = c.AccountID
	}
	return nil
}
