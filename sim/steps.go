package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/barledger/id"
	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/order"
	"github.com/rustyeddy/barledger/rules"
	"github.com/rustyeddy/barledger/strategies"
)

// fillPending is step 1.
func (e *Engine) fillPending(ctx context.Context, bar market.Bar) error {
	for _, o := range e.orders.Sorted(order.ByNumber, order.ByStatus(order.Pending)) {
		price, ok := FillPrice(o, bar, e.cfg.FillAt)
		if !ok {
			continue
		}
		volume := FillVolume(o, bar, e.cfg.SpotParticipation)
		if !volume.IsPositive() {
			continue
		}
		if err := e.fill(ctx, bar.Time, o, price, volume); err != nil {
			if !isolated(err) {
				return err
			}
			e.orderLog(o).WithError(err).Error("fill failed")
		}
	}
	return nil
}

func (e *Engine) fill(ctx context.Context, at time.Time, o order.Order, price, volume decimal.Decimal) error {
	r, err := e.rules(o.Pair)
	if err != nil {
		return err
	}
	cs := o.ContractSize
	cost := volume.Mul(price).Mul(cs)
	label := fmt.Sprintf("#%d %s %s %s @ %s", o.Number, o.Pair, o.Direction, volume, price)

	var (
		margin  decimal.Decimal
		entries []entry
	)
	switch {
	case o.Kind == order.Trading:
		margin, err = r.Margin(o.Leverage, volume, price)
		if err != nil {
			return err
		}
		if delta := margin.Sub(o.Margin); !delta.IsZero() {
			entries = append(entries, reserve("margin adjust "+label, delta))
		}
	case o.Direction == order.Long:
		// spot buy: the reserve held at the create price pays for the asset,
		// the difference to the fill price is exchanged back
		used := volume.Mul(o.CreatePrice).Mul(cs)
		margin = o.Margin.Sub(used)
		entries = append(entries,
			entry{typ: ledger.FillBuy, desc: "buy " + label, unavail: used.Neg()},
			entry{typ: ledger.SpotExchange, desc: "price difference " + label, avail: used.Sub(cost)},
		)
	default:
		entries = append(entries, entry{typ: ledger.FillSell, desc: "sell " + label, avail: cost})
	}

	feeMargin := margin
	if o.Kind == order.Spot {
		feeMargin = cost
	}
	f, err := r.Fee(rules.OnFill, volume, price, feeMargin)
	if err != nil {
		return err
	}
	entries = append(entries, fee(ledger.FeeFill, "fill fee "+label, f))

	next, err := o.Fill(at, price, volume, f, margin)
	if err != nil {
		return err
	}
	if err := e.commit(ctx, at, next, entries...); err != nil {
		return err
	}

	if o.Kind == order.Spot {
		if o.Direction == order.Long {
			e.holdings[o.Pair] = e.holdings[o.Pair].Add(volume)
		} else {
			e.holdings[o.Pair] = e.holdings[o.Pair].Sub(volume)
			e.committed[o.Pair] = e.committed[o.Pair].Sub(volume)
		}
	}
	e.orderLog(next).WithFields(logrus.Fields{
		"price":  price.String(),
		"volume": volume.String(),
		"status": next.Status,
	}).Debug("order filled")
	return nil
}

// checkExits is step 2. Only orders filled on an earlier bar are checked.
func (e *Engine) checkExits(ctx context.Context, bar market.Bar) error {
	for _, o := range e.orders.Sorted(order.ByNumber, order.ByStatus(order.Filled), order.ByKind(order.Trading)) {
		if !o.FilledAt.Before(bar.Time) {
			continue
		}
		exit, ok := CheckExit(o, bar)
		if !ok {
			continue
		}
		if err := e.close(ctx, bar.Time, o, exit.Price, exit.Reason); err != nil {
			if !isolated(err) {
				return err
			}
			e.orderLog(o).WithError(err).Error("close failed")
		}
	}
	return nil
}

func (e *Engine) close(ctx context.Context, at time.Time, o order.Order, price decimal.Decimal, reason string) error {
	r, err := e.rules(o.Pair)
	if err != nil {
		return err
	}
	f, err := r.Fee(rules.OnClose, o.FilledVolume, price, o.Margin)
	if err != nil {
		return err
	}
	next, err := o.Close(at, price, f, reason)
	if err != nil {
		return err
	}

	label := fmt.Sprintf("#%d %s %s @ %s (%s)", o.Number, o.Pair, o.Direction, price, reason)
	err = e.commit(ctx, at, next,
		fee(ledger.FeeClose, "close fee "+label, f),
		release("release margin "+label, o.Margin),
		entry{typ: ledger.ClosePnL, desc: "pnl " + label, avail: next.GrossPnL},
	)
	if err != nil {
		return err
	}
	e.orderLog(next).WithFields(logrus.Fields{
		"price":  price.String(),
		"reason": reason,
		"net":    next.NetPnL.String(),
	}).Debug("order closed")
	return nil
}

func (e *Engine) cancel(ctx context.Context, at time.Time, o order.Order) error {
	r, err := e.rules(o.Pair)
	if err != nil {
		return err
	}
	f, err := r.Fee(rules.OnCancel, o.RemainingVolume, o.CreatePrice, o.Margin)
	if err != nil {
		return err
	}
	next, err := o.Cancel(at, decimal.Zero, f)
	if err != nil {
		return err
	}

	label := fmt.Sprintf("#%d %s %s %s", o.Number, o.Pair, o.Direction, o.RemainingVolume)
	err = e.commit(ctx, at, next,
		fee(ledger.FeeCancel, "cancel fee "+label, f),
		release("release reserve "+label, o.Margin),
	)
	if err != nil {
		return err
	}
	if o.Kind == order.Spot && o.Direction == order.Short {
		e.committed[o.Pair] = e.committed[o.Pair].Sub(next.CancelledVolume)
	}
	e.orderLog(next).Debug("order cancelled")
	return nil
}

// handleIntent is step 4 for a single intent. Rejections are reported to
// the strategy; only catalog misconfiguration and ledger failures abort.
func (e *Engine) handleIntent(ctx context.Context, bar market.Bar, in strategies.Intent, strat strategies.Strategy, sctx *strategies.Context) error {
	var err error
	switch in.Action {
	case strategies.ActionOpen, "":
		err = e.create(ctx, bar, in)
	case strategies.ActionClose, strategies.ActionCancel:
		err = e.manual(ctx, bar, in)
	default:
		err = fmt.Errorf("%w: unknown action %q", order.ErrInvalidTransition, in.Action)
	}
	if err == nil {
		return nil
	}

	var rej *rules.Rejection
	switch {
	case errors.As(err, &rej):
		for _, v := range rej.Violations {
			e.metrics.Rejection(e.cfg.RunID, v.Code)
		}
	case isolated(err):
		e.metrics.Rejection(e.cfg.RunID, "INVALID_TRANSITION")
	default:
		return err
	}

	e.res.Rejections++
	e.log.WithField("intent", in.String()).WithError(err).Warn("intent rejected")
	if l, ok := strat.(strategies.RejectionListener); ok {
		l.OnRejected(sctx, in, err)
	}
	return nil
}

func (e *Engine) create(ctx context.Context, bar market.Bar, in strategies.Intent) error {
	r, err := e.rules(in.Pair)
	if errors.Is(err, rules.ErrRulesNotFound) {
		return rules.NotFound(err)
	}
	if err != nil {
		return err
	}

	ref := bar.Close
	if in.LimitPrice.Valid {
		ref = in.LimitPrice.Decimal
	}
	bal, err := ledger.Current(ctx, e.ledger, e.cfg.AccountID, e.cfg.RunID, bar.Time)
	if err != nil {
		return err
	}

	dec, err := rules.Evaluate(r, rules.Request{
		Kind:       in.Kind,
		Direction:  in.Direction,
		Volume:     in.Volume,
		LimitPrice: in.LimitPrice,
		StopLoss:   in.StopLoss,
		TakeProfit: in.TakeProfit,
		Leverage:   in.Leverage,
		Price:      ref,
		Available:  bal.Available,
		Holdings:   e.holdings[in.Pair].Sub(e.committed[in.Pair]),
	})
	if err != nil {
		return err
	}
	if err := dec.Err(); err != nil {
		return err
	}

	e.number++
	o, err := order.New(order.Params{
		ID:           id.NewAt(bar.Time),
		Number:       e.number,
		AgentID:      e.cfg.AgentID,
		AccountID:    e.cfg.AccountID,
		BrokerID:     e.cfg.BrokerID,
		RunID:        e.cfg.RunID,
		Kind:         in.Kind,
		Pair:         in.Pair,
		Direction:    in.Direction,
		Volume:       in.Volume,
		LimitPrice:   in.LimitPrice,
		Leverage:     in.Leverage,
		StopLoss:     in.StopLoss,
		TakeProfit:   in.TakeProfit,
		ContractSize: r.Contract(),
		CreatePrice:  ref,
		CreatedAt:    bar.Time,
		CreateFee:    dec.CreateFee,
		Margin:       dec.Reserve,
	})
	if err != nil {
		return err
	}

	label := fmt.Sprintf("#%d %s %s %s", o.Number, o.Pair, o.Direction, o.Volume)
	err = e.commit(ctx, bar.Time, o,
		fee(ledger.FeeCreate, "create fee "+label, dec.CreateFee),
		reserve("reserve "+label, dec.Reserve),
	)
	if err != nil {
		return err
	}
	if o.Kind == order.Spot && o.Direction == order.Short {
		e.committed[o.Pair] = e.committed[o.Pair].Add(o.Volume)
	}
	e.orderLog(o).WithField("tag", in.Tag).Debug("order created")
	return nil
}

// manual handles close and cancel intents. A manual close executes at the
// close of the bar the strategy just saw.
func (e *Engine) manual(ctx context.Context, bar market.Bar, in strategies.Intent) error {
	o, ok := e.orders.Get(in.OrderID)
	if !ok {
		return fmt.Errorf("%w: unknown order %q", order.ErrInvalidTransition, in.OrderID)
	}
	if in.Action == strategies.ActionCancel {
		return e.cancel(ctx, bar.Time, o)
	}
	return e.close(ctx, bar.Time, o, bar.Close, ReasonManual)
}

// accrueOvernight is step 5. It charges every open order held across a
// charge instant between the previous bar and this one.
func (e *Engine) accrueOvernight(ctx context.Context, bar market.Bar) error {
	for _, o := range e.open() {
		timing := rules.OnOvernightPending
		since := o.CreatedAt
		volume, price := o.RemainingVolume, o.CreatePrice
		if o.Status == order.Filled {
			timing = rules.OnOvernightFilled
			since = o.FilledAt
			volume, price = o.FilledVolume, bar.Close
		}
		if since.After(e.prev.Time) {
			continue
		}

		r, err := e.rules(o.Pair)
		if err != nil {
			return err
		}
		rule := r.Fees.For(timing)
		if rule == nil {
			continue
		}
		offset, err := r.ChargeOffset()
		if err != nil {
			return err
		}
		n := Crossings(e.prev.Time, bar.Time, offset, e.cfg.Location)
		if n == 0 {
			continue
		}
		amount, err := r.Fee(timing, volume, price, o.Margin)
		if err != nil {
			return err
		}
		if !amount.IsPositive() {
			continue
		}

		next := o
		entries := make([]entry, 0, n)
		for i := 0; i < n; i++ {
			next, err = next.AddOvernightFee(bar.Time, amount)
			if err != nil {
				break
			}
			entries = append(entries, fee(ledger.OvernightFee,
				fmt.Sprintf("overnight fee #%d %s (%s)", o.Number, o.Pair, timing), amount))
		}
		if err != nil {
			if !isolated(err) {
				return err
			}
			e.orderLog(o).WithError(err).Error("overnight fee failed")
			continue
		}
		if err := e.commit(ctx, bar.Time, next, entries...); err != nil {
			return err
		}
	}
	return nil
}

// closeOut runs after the last bar when CloseOnEnd is set.
func (e *Engine) closeOut(ctx context.Context) error {
	for _, o := range e.open() {
		var err error
		if o.Status == order.Pending {
			err = e.cancel(ctx, e.last.Time, o)
		} else {
			err = e.close(ctx, e.last.Time, o, e.last.Close, ReasonEnd)
		}
		if err != nil && !isolated(err) {
			return err
		}
	}
	return e.snapshot(ctx, e.last.Time)
}
