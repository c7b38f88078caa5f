package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Fill executes volume at price. margin is the amount held unavailable for
// the order after this fill.
//
// A spot order stays PENDING until its remaining volume reaches zero.
// A trading order must fill its full remaining volume in one step.
func (o Order) Fill(at time.Time, price, volume, fee, margin decimal.Decimal) (Order, error) {
	if o.Status != Pending {
		return Order{}, fmt.Errorf("%w: fill %s order %s", ErrInvalidTransition, o.Status, o.ID)
	}
	if !volume.IsPositive() {
		return Order{}, fmt.Errorf("%w: fill volume %s", ErrInsufficientVolume, volume)
	}
	if volume.GreaterThan(o.RemainingVolume) {
		return Order{}, fmt.Errorf("%w: fill %s of %s remaining", ErrVolumeExceeded, volume, o.RemainingVolume)
	}
	if o.Kind == Trading && !volume.Equal(o.RemainingVolume) {
		return Order{}, fmt.Errorf("%w: trading order %s fills atomically (%s of %s)",
			ErrInsufficientVolume, o.ID, volume, o.RemainingVolume)
	}
	if !price.IsPositive() {
		return Order{}, fmt.Errorf("%w: fill price %s", ErrInvalidTransition, price)
	}
	if fee.IsNegative() {
		return Order{}, ErrNegativeFee
	}
	if margin.IsNegative() {
		return Order{}, fmt.Errorf("%w: negative margin %s", ErrInvalidTransition, margin)
	}

	n := o.next(at)
	n.Fills = append(n.Fills, Fill{Time: at, Price: price, Volume: volume})
	n.FilledVolume = o.FilledVolume.Add(volume)
	n.RemainingVolume = o.RemainingVolume.Sub(volume)
	n.FillPrice = decimal.NewNullDecimal(n.averageFillPrice())
	n.FilledAt = at
	n.Fees.Fill = o.Fees.Fill.Add(fee)
	n.Margin = margin
	if n.RemainingVolume.IsZero() {
		n.Status = Filled
	}
	return n, nil
}

// averageFillPrice divides the exact fill notional by filled volume. When
// the division does not terminate it is rounded to DivisionPrecision.
func (o Order) averageFillPrice() decimal.Decimal {
	if len(o.Fills) == 1 {
		return o.Fills[0].Price
	}
	return o.FillNotional().Div(o.FilledVolume.Mul(o.ContractSize))
}

// Close settles a FILLED trading order at price.
//
//	LONG:  gross = (close - fill) * volume * contract size
//	SHORT: gross = (fill - close) * volume * contract size
//	net   = gross - total fees
func (o Order) Close(at time.Time, price, fee decimal.Decimal, reason string) (Order, error) {
	if o.Status != Filled {
		return Order{}, fmt.Errorf("%w: close %s order %s", ErrInvalidTransition, o.Status, o.ID)
	}
	if o.Kind != Trading {
		return Order{}, fmt.Errorf("%w: spot order %s settles on fill", ErrInvalidTransition, o.ID)
	}
	if !price.IsPositive() {
		return Order{}, fmt.Errorf("%w: close price %s", ErrInvalidTransition, price)
	}
	if fee.IsNegative() {
		return Order{}, ErrNegativeFee
	}

	n := o.next(at)
	n.Status = Closed
	n.ClosePrice = decimal.NewNullDecimal(price)
	n.ClosedAt = at
	n.CloseReason = reason
	n.Fees.Close = o.Fees.Close.Add(fee)
	n.GrossPnL = o.PnLAt(price)
	n.NetPnL = n.GrossPnL.Sub(n.TotalFees())
	n.Margin = decimal.Zero
	return n, nil
}

// PnLAt is the gross P&L of the filled volume if it were closed at price.
func (o Order) PnLAt(price decimal.Decimal) decimal.Decimal {
	if !o.FillPrice.Valid {
		return decimal.Zero
	}
	move := price.Sub(o.FillPrice.Decimal).Mul(o.Direction.Sign())
	return move.Mul(o.FilledVolume).Mul(o.ContractSize)
}

// Cancel ends a PENDING order. A zero volume cancels all remaining volume.
// The remaining volume is kept as it was so filled + remaining still equals
// the requested volume; the cancelled amount is recorded in CancelledVolume.
// Any margin still held must be returned by the caller.
func (o Order) Cancel(at time.Time, volume, fee decimal.Decimal) (Order, error) {
	if o.Status != Pending {
		return Order{}, fmt.Errorf("%w: cancel %s order %s", ErrInvalidTransition, o.Status, o.ID)
	}
	if volume.IsZero() {
		volume = o.RemainingVolume
	}
	if volume.IsNegative() {
		return Order{}, fmt.Errorf("%w: cancel volume %s", ErrInsufficientVolume, volume)
	}
	if volume.GreaterThan(o.RemainingVolume) {
		return Order{}, fmt.Errorf("%w: cancel %s of %s remaining", ErrVolumeExceeded, volume, o.RemainingVolume)
	}
	if fee.IsNegative() {
		return Order{}, ErrNegativeFee
	}

	n := o.next(at)
	n.Status = Cancelled
	n.CancelledAt = at
	n.CancelledVolume = volume
	n.Fees.Cancel = o.Fees.Cancel.Add(fee)
	n.NetPnL = n.TotalFees().Neg()
	n.Margin = decimal.Zero
	return n, nil
}

// AddOvernightFee accrues a fee while the order is PENDING or FILLED.
func (o Order) AddOvernightFee(at time.Time, amount decimal.Decimal) (Order, error) {
	if o.Status != Pending && o.Status != Filled {
		return Order{}, fmt.Errorf("%w: overnight fee on %s order %s", ErrInvalidTransition, o.Status, o.ID)
	}
	if amount.IsNegative() {
		return Order{}, ErrNegativeFee
	}
	n := o.next(at)
	n.Fees.Overnight = o.Fees.Overnight.Add(amount)
	return n, nil
}
