package sim

import (
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/order"
	"github.com/shopspring/decimal"
)

// Close reasons.
const (
	ReasonStop     = "STOP"
	ReasonTake     = "TAKE"
	ReasonStopTake = "STOP&TAKE same bar (stop-first)"
	ReasonManual   = "MANUAL"
	ReasonEnd      = "END"
)

// Exit is a triggered stop-loss or take-profit.
type Exit struct {
	Price  decimal.Decimal
	Reason string
}

// CheckExit evaluates stop-loss and take-profit of a FILLED trading order
// against a bar. When both are reached in the same bar the stop wins. The
// exit price is the threshold itself.
func CheckExit(o order.Order, b market.Bar) (Exit, bool) {
	if o.Kind != order.Trading || o.Status != order.Filled {
		return Exit{}, false
	}

	var stopHit, takeHit bool
	switch o.Direction {
	case order.Long:
		stopHit = o.StopLoss.Valid && b.Low.LessThanOrEqual(o.StopLoss.Decimal)
		takeHit = o.TakeProfit.Valid && b.High.GreaterThanOrEqual(o.TakeProfit.Decimal)
	case order.Short:
		stopHit = o.StopLoss.Valid && b.High.GreaterThanOrEqual(o.StopLoss.Decimal)
		takeHit = o.TakeProfit.Valid && b.Low.LessThanOrEqual(o.TakeProfit.Decimal)
	}

	switch {
	case stopHit && takeHit:
		return Exit{Price: o.StopLoss.Decimal, Reason: ReasonStopTake}, true
	case stopHit:
		return Exit{Price: o.StopLoss.Decimal, Reason: ReasonStop}, true
	case takeHit:
		return Exit{Price: o.TakeProfit.Decimal, Reason: ReasonTake}, true
	}
	return Exit{}, false
}
