package sim

import (
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/order"
	"github.com/shopspring/decimal"
)

// FillPrice returns the price a PENDING order executes at on b, or false if
// the bar never reaches it.
//
// Market orders take the configured bar price. A limit LONG fills when
// low <= limit at max(limit, low); a limit SHORT fills when high >= limit
// at min(limit, high).
func FillPrice(o order.Order, b market.Bar, ref market.PriceRef) (decimal.Decimal, bool) {
	if !o.IsLimit() {
		return b.Price(ref), true
	}
	limit := o.LimitPrice.Decimal
	if o.Direction == order.Long {
		if b.Low.GreaterThan(limit) {
			return decimal.Zero, false
		}
		return decimal.Max(limit, b.Low), true
	}
	if b.High.LessThan(limit) {
		return decimal.Zero, false
	}
	return decimal.Min(limit, b.High), true
}

// FillVolume is the volume o may fill on b. Trading orders always fill in
// full. Spot fills are capped at participation * bar volume when both are
// set.
func FillVolume(o order.Order, b market.Bar, participation decimal.Decimal) decimal.Decimal {
	if o.Kind == order.Trading || !participation.IsPositive() || !b.Volume.Valid {
		return o.RemainingVolume
	}
	return decimal.Min(o.RemainingVolume, b.Volume.Decimal.Mul(participation))
}
