package strategies

import (
	"github.com/rustyeddy/barledger/market"
)

// OpenOnce opens a single market order on the first bar and then holds it.
// If the intent is rejected it tries again on the next bar.
type OpenOnce struct {
	Params

	opened bool
}

func (s *OpenOnce) Name() string { return "open-once" }

func (s *OpenOnce) OnStart(*Context) error { return nil }

func (s *OpenOnce) OnBar(ctx *Context, bar market.Bar) ([]Intent, error) {
	if s.opened {
		return nil, nil
	}
	s.opened = true

	in := Open(s.Kind, s.Pair, s.Direction, s.Volume)
	in.StopLoss, in.TakeProfit = brackets(s.Params, s.Direction, bar.Close)
	in.Tag = "open-once"
	return []Intent{in}, nil
}

func (s *OpenOnce) OnRejected(ctx *Context, in Intent, err error) {
	s.opened = false
}

func (s *OpenOnce) OnEnd(*Context) error { return nil }
