package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrOutOfOrderBarData reports a bar whose timestamp does not strictly
	// follow the previous bar's timestamp.
	ErrOutOfOrderBarData = errors.New("out of order bar data")

	// ErrMalformedBar reports a bar whose OHLC values are inconsistent.
	ErrMalformedBar = errors.New("malformed bar")
)

// Bar is one OHLC(V) sample for a trading pair.
type Bar struct {
	Time  time.Time
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal

	// Volume is optional.
	Volume decimal.NullDecimal
}

// Price returns the open or close of the bar.
func (b Bar) Price(at PriceRef) decimal.Decimal {
	if at == RefOpen {
		return b.Open
	}
	return b.Close
}

// Validate checks that prices are positive and that low <= open,close <= high.
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrMalformedBar)
	}
	for _, p := range []decimal.Decimal{b.Open, b.High, b.Low, b.Close} {
		if !p.IsPositive() {
			return fmt.Errorf("%w: non-positive price at %s", ErrMalformedBar, b.Time.Format(time.RFC3339))
		}
	}
	if b.Low.GreaterThan(b.High) {
		return fmt.Errorf("%w: low %s above high %s", ErrMalformedBar, b.Low, b.High)
	}
	for _, p := range []decimal.Decimal{b.Open, b.Close} {
		if p.LessThan(b.Low) || p.GreaterThan(b.High) {
			return fmt.Errorf("%w: %s outside range [%s, %s]", ErrMalformedBar, p, b.Low, b.High)
		}
	}
	if b.Volume.Valid && b.Volume.Decimal.IsNegative() {
		return fmt.Errorf("%w: negative volume", ErrMalformedBar)
	}
	return nil
}

// PriceRef selects which bar price a market order fills at.
type PriceRef string

const (
	RefOpen  PriceRef = "open"
	RefClose PriceRef = "close"
)

// ParsePriceRef parses "open" or "close".
func ParsePriceRef(s string) (PriceRef, error) {
	switch PriceRef(s) {
	case RefOpen, RefClose:
		return PriceRef(s), nil
	}
	return "", fmt.Errorf("unknown fill price reference %q (want open or close)", s)
}

// Sequence enforces the bar input contract: every bar is well formed and
// strictly later than the one before it.
type Sequence struct {
	last  time.Time
	count int
}

// Next validates b against the previously accepted bar and accepts it.
func (s *Sequence) Next(b Bar) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if s.count > 0 && !b.Time.After(s.last) {
		return fmt.Errorf("%w: %s does not follow %s",
			ErrOutOfOrderBarData, b.Time.Format(time.RFC3339Nano), s.last.Format(time.RFC3339Nano))
	}
	s.last = b.Time
	s.count++
	return nil
}

// Count returns the number of accepted bars.
func (s *Sequence) Count() int { return s.count }
