package strategies

import "github.com/rustyeddy/barledger/market"

// Noop does nothing.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) OnStart(*Context) error { return nil }

func (Noop) OnBar(*Context, market.Bar) ([]Intent, error) { return nil, nil }

func (Noop) OnEnd(*Context) error { return nil }
