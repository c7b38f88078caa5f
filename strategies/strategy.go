// Package strategies defines the strategy contract driven by the engine and
// a few built-in strategies.
package strategies

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/order"
	"github.com/shopspring/decimal"
)

// Strategy turns bars into order intents. OnStart and OnEnd are each called
// exactly once, before the first and after the last bar.
type Strategy interface {
	Name() string
	OnStart(ctx *Context) error
	OnBar(ctx *Context, bar market.Bar) ([]Intent, error)
	OnEnd(ctx *Context) error
}

// RejectionListener is an optional interface for strategies that want to
// hear about intents the engine refused.
type RejectionListener interface {
	OnRejected(ctx *Context, in Intent, err error)
}

type Action string

const (
	ActionOpen   Action = "OPEN"
	ActionClose  Action = "CLOSE"
	ActionCancel Action = "CANCEL"
)

// Intent asks the engine to open, close or cancel an order. Close and
// cancel only need OrderID.
type Intent struct {
	Action     Action
	Kind       order.Kind
	Pair       string
	Direction  order.Direction
	Volume     decimal.Decimal
	LimitPrice decimal.NullDecimal
	StopLoss   decimal.NullDecimal
	TakeProfit decimal.NullDecimal
	Leverage   decimal.NullDecimal

	OrderID string
	Tag     string
}

func (in Intent) String() string {
	if in.Action != ActionOpen {
		return fmt.Sprintf("%s %s", in.Action, in.OrderID)
	}
	s := fmt.Sprintf("%s %s %s %s %s", in.Action, in.Kind, in.Pair, in.Direction, in.Volume)
	if in.LimitPrice.Valid {
		s += " @" + in.LimitPrice.Decimal.String()
	}
	return s
}

// Open builds a market order intent.
func Open(kind order.Kind, pair string, dir order.Direction, volume decimal.Decimal) Intent {
	return Intent{Action: ActionOpen, Kind: kind, Pair: pair, Direction: dir, Volume: volume}
}

func Close(orderID string) Intent { return Intent{Action: ActionClose, OrderID: orderID} }

func Cancel(orderID string) Intent { return Intent{Action: ActionCancel, OrderID: orderID} }

// Context is the engine state visible to a strategy on a bar.
type Context struct {
	RunID     string
	AccountID string
	AgentID   string
	BrokerID  string

	// Index is the 0-based index of the current bar.
	Index int
	Time  time.Time

	// Balance is reconciled after fills and exits of the current bar.
	Balance ledger.Balance
	// Orders are the open orders (PENDING, or FILLED trading) by number.
	Orders []order.Order
	// Holdings is the spot quantity per pair that is filled and not yet
	// committed to a pending sell.
	Holdings map[string]decimal.Decimal
}

// OpenOrders returns the open orders on pair.
func (c *Context) OpenOrders(pair string) []order.Order {
	var out []order.Order
	for _, o := range c.Orders {
		if o.Pair == pair {
			out = append(out, o)
		}
	}
	return out
}

// Position returns the first FILLED trading order on pair.
func (c *Context) Position(pair string) (order.Order, bool) {
	for _, o := range c.Orders {
		if o.Pair == pair && o.Kind == order.Trading && o.Status == order.Filled {
			return o, true
		}
	}
	return order.Order{}, false
}

// Params configures the built-in strategies.
type Params struct {
	Pair      string          `yaml:"pair" json:"pair"`
	Kind      order.Kind      `yaml:"kind" json:"kind"`
	Direction order.Direction `yaml:"direction" json:"direction"`
	Volume    decimal.Decimal `yaml:"volume" json:"volume"`
	Fast      int             `yaml:"fast" json:"fast"`
	Slow      int             `yaml:"slow" json:"slow"`
	// StopPct and TakePct place stop-loss and take-profit at a fraction
	// of the reference price (0.02 = 2%). Zero disables them.
	StopPct decimal.Decimal `yaml:"stop_pct" json:"stop_pct"`
	TakePct decimal.Decimal `yaml:"take_pct" json:"take_pct"`
}

// Names lists the built-in strategies.
func Names() []string { return []string{"noop", "open-once", "sma-cross", "ema-cross"} }

// ByName returns a fresh instance of a built-in strategy.
func ByName(name string, p Params) (Strategy, error) {
	if p.Kind == "" {
		p.Kind = order.Trading
	}
	if p.Direction == "" {
		p.Direction = order.Long
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "noop", "none":
		return Noop{}, nil

	case "open-once":
		if !p.Volume.IsPositive() {
			return nil, fmt.Errorf("open-once: volume must be positive")
		}
		return &OpenOnce{Params: p}, nil

	case "sma-cross", "smacross":
		return NewSMACross(p)

	case "ema-cross", "emacross":
		return NewEMACross(p)

	default:
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
}

// brackets returns stop-loss and take-profit around price for dir.
func brackets(p Params, dir order.Direction, price decimal.Decimal) (sl, tp decimal.NullDecimal) {
	if p.Kind != order.Trading {
		return
	}
	one := decimal.NewFromInt(1)
	sign := dir.Sign()
	if p.StopPct.IsPositive() {
		sl = decimal.NewNullDecimal(price.Mul(one.Sub(p.StopPct.Mul(sign))))
	}
	if p.TakePct.IsPositive() {
		tp = decimal.NewNullDecimal(price.Mul(one.Add(p.TakePct.Mul(sign))))
	}
	return
}
