package strategies

import (
	"fmt"

	"github.com/rustyeddy/barledger/indicators"
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/order"
	"github.com/shopspring/decimal"
)

// SMACross trades a fast/slow moving average crossover. The averages are
// simple for sma-cross and exponential for ema-cross.
//   - Enters only on cross
//   - Trading kind: reverses on the opposite cross (close then open)
//   - Spot kind: buys on a bull cross, sells all holdings on a bear cross
type SMACross struct {
	Params

	kind string
	fast indicators.Indicator
	slow indicators.Indicator

	lastDiff     decimal.Decimal
	haveLastDiff bool
}

func NewSMACross(p Params) (*SMACross, error) {
	if err := checkCross("sma-cross", p); err != nil {
		return nil, err
	}
	return &SMACross{
		Params: p,
		kind:   "sma-cross",
		fast:   indicators.NewMA(p.Fast),
		slow:   indicators.NewMA(p.Slow),
	}, nil
}

func NewEMACross(p Params) (*SMACross, error) {
	if err := checkCross("ema-cross", p); err != nil {
		return nil, err
	}
	return &SMACross{
		Params: p,
		kind:   "ema-cross",
		fast:   indicators.NewEMA(p.Fast),
		slow:   indicators.NewEMA(p.Slow),
	}, nil
}

func checkCross(name string, p Params) error {
	if p.Fast <= 0 || p.Slow <= 0 || p.Fast >= p.Slow {
		return fmt.Errorf("%s: need 0 < fast < slow, got %d/%d", name, p.Fast, p.Slow)
	}
	if !p.Volume.IsPositive() {
		return fmt.Errorf("%s: volume must be positive", name)
	}
	return nil
}

func (s *SMACross) Name() string { return fmt.Sprintf("%s(%d,%d)", s.kind, s.Fast, s.Slow) }

func (s *SMACross) OnStart(*Context) error {
	s.fast.Reset()
	s.slow.Reset()
	s.haveLastDiff = false
	return nil
}

func (s *SMACross) OnBar(ctx *Context, bar market.Bar) ([]Intent, error) {
	s.fast.Update(bar)
	s.slow.Update(bar)
	if !s.fast.Ready() || !s.slow.Ready() {
		return nil, nil
	}

	diff := s.fast.Value().Sub(s.slow.Value())
	if !s.haveLastDiff {
		s.lastDiff = diff
		s.haveLastDiff = true
		return nil, nil
	}

	bullCross := diff.IsPositive() && !s.lastDiff.IsPositive()
	bearCross := diff.IsNegative() && !s.lastDiff.IsNegative()
	s.lastDiff = diff

	switch {
	case bullCross:
		return s.onSignal(ctx, bar, order.Long), nil
	case bearCross:
		return s.onSignal(ctx, bar, order.Short), nil
	}
	return nil, nil
}

func (s *SMACross) onSignal(ctx *Context, bar market.Bar, dir order.Direction) []Intent {
	if s.Kind == order.Spot {
		return s.spotSignal(ctx, dir)
	}

	var out []Intent
	for _, o := range ctx.OpenOrders(s.Pair) {
		if o.Direction == dir {
			// already positioned this way
			return nil
		}
		if o.Status == order.Pending {
			out = append(out, Cancel(o.ID))
		} else {
			out = append(out, Close(o.ID))
		}
	}

	in := Open(order.Trading, s.Pair, dir, s.Volume)
	in.StopLoss, in.TakeProfit = brackets(s.Params, dir, bar.Close)
	in.Tag = s.kind
	return append(out, in)
}

func (s *SMACross) spotSignal(ctx *Context, dir order.Direction) []Intent {
	if dir == order.Long {
		in := Open(order.Spot, s.Pair, order.Long, s.Volume)
		in.Tag = s.kind
		return []Intent{in}
	}
	held := ctx.Holdings[s.Pair]
	if !held.IsPositive() {
		return nil
	}
	in := Open(order.Spot, s.Pair, order.Short, held)
	in.Tag = s.kind
	return []Intent{in}
}

func (s *SMACross) OnEnd(*Context) error { return nil }
