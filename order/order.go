// Package order implements the order lifecycle: PENDING -> FILLED -> CLOSED,
// with PENDING -> CANCELLED as the alternate branch.
//
// Orders are values. Every transition returns a new Order and leaves the
// receiver untouched, so earlier versions remain valid history.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition  = errors.New("invalid order transition")
	ErrVolumeExceeded     = errors.New("volume exceeds remaining volume")
	ErrInsufficientVolume = errors.New("insufficient volume")
	ErrNegativeFee        = errors.New("negative fee")
)

// Kind selects the settlement semantics of an order.
type Kind string

const (
	// Spot orders settle by exchange of the asset and may fill partially.
	Spot Kind = "SPOT"
	// Trading orders settle by P&L against reserved margin and fill atomically.
	Trading Kind = "TRADING"
)

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign is +1 for LONG and -1 for SHORT.
func (d Direction) Sign() decimal.Decimal {
	if d == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type Status string

const (
	Pending   Status = "PENDING"
	Filled    Status = "FILLED"
	Closed    Status = "CLOSED"
	Cancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == Closed || s == Cancelled }

// Fill is one execution against a bar.
type Fill struct {
	Time   time.Time       `json:"time"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// Fees accumulates fees per lifecycle stage.
type Fees struct {
	Create    decimal.Decimal `json:"create"`
	Fill      decimal.Decimal `json:"fill"`
	Close     decimal.Decimal `json:"close"`
	Cancel    decimal.Decimal `json:"cancel"`
	Overnight decimal.Decimal `json:"overnight"`
}

func (f Fees) Total() decimal.Decimal {
	return f.Create.Add(f.Fill).Add(f.Close).Add(f.Cancel).Add(f.Overnight)
}

type Order struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	RootID   string `json:"root_id"`
	Number   int64  `json:"number"`
	Version  int    `json:"version"`

	AgentID   string `json:"agent_id"`
	AccountID string `json:"account_id"`
	BrokerID  string `json:"broker_id"`
	RunID     string `json:"run_id"`

	Kind         Kind                `json:"kind"`
	Pair         string              `json:"pair"`
	Direction    Direction           `json:"direction"`
	Volume       decimal.Decimal     `json:"volume"`
	LimitPrice   decimal.NullDecimal `json:"limit_price"`
	Leverage     decimal.NullDecimal `json:"leverage"`
	StopLoss     decimal.NullDecimal `json:"stop_loss"`
	TakeProfit   decimal.NullDecimal `json:"take_profit"`
	ContractSize decimal.Decimal     `json:"contract_size"`

	// CreatePrice is the reference price at acceptance: the limit price for
	// limit orders, otherwise the close of the acceptance bar.
	CreatePrice decimal.Decimal `json:"create_price"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Status          Status          `json:"status"`
	FilledVolume    decimal.Decimal `json:"filled_volume"`
	RemainingVolume decimal.Decimal `json:"remaining_volume"`
	CancelledVolume decimal.Decimal `json:"cancelled_volume"`
	Fills           []Fill          `json:"fills,omitempty"`

	// FillPrice is the volume weighted average of Fills.
	FillPrice   decimal.NullDecimal `json:"fill_price"`
	FilledAt    time.Time           `json:"filled_at"`
	ClosePrice  decimal.NullDecimal `json:"close_price"`
	ClosedAt    time.Time           `json:"closed_at"`
	CloseReason string              `json:"close_reason,omitempty"`
	CancelledAt time.Time           `json:"cancelled_at"`

	Fees Fees `json:"fees"`

	// Margin is the amount currently held unavailable for this order.
	Margin   decimal.Decimal `json:"margin"`
	GrossPnL decimal.Decimal `json:"gross_pnl"`
	NetPnL   decimal.Decimal `json:"net_pnl"`
}

// Params are the static terms of a new order.
type Params struct {
	ID        string
	ParentID  string
	RootID    string
	Number    int64
	AgentID   string
	AccountID string
	BrokerID  string
	RunID     string

	Kind         Kind
	Pair         string
	Direction    Direction
	Volume       decimal.Decimal
	LimitPrice   decimal.NullDecimal
	Leverage     decimal.NullDecimal
	StopLoss     decimal.NullDecimal
	TakeProfit   decimal.NullDecimal
	ContractSize decimal.Decimal

	CreatePrice decimal.Decimal
	CreatedAt   time.Time
	CreateFee   decimal.Decimal
	Margin      decimal.Decimal
}

// New returns a PENDING order.
func New(p Params) (Order, error) {
	if p.ID == "" {
		return Order{}, errors.New("order id is required")
	}
	switch p.Kind {
	case Spot, Trading:
	default:
		return Order{}, fmt.Errorf("unknown order kind %q", p.Kind)
	}
	switch p.Direction {
	case Long, Short:
	default:
		return Order{}, fmt.Errorf("unknown direction %q", p.Direction)
	}
	if !p.Volume.IsPositive() {
		return Order{}, fmt.Errorf("%w: volume %s must be positive", ErrInsufficientVolume, p.Volume)
	}
	if p.CreateFee.IsNegative() {
		return Order{}, ErrNegativeFee
	}
	if p.Margin.IsNegative() {
		return Order{}, fmt.Errorf("negative margin %s", p.Margin)
	}

	cs := p.ContractSize
	if !cs.IsPositive() {
		cs = decimal.NewFromInt(1)
	}
	root := p.RootID
	if root == "" {
		root = p.ID
	}

	return Order{
		ID:              p.ID,
		ParentID:        p.ParentID,
		RootID:          root,
		Number:          p.Number,
		Version:         1,
		AgentID:         p.AgentID,
		AccountID:       p.AccountID,
		BrokerID:        p.BrokerID,
		RunID:           p.RunID,
		Kind:            p.Kind,
		Pair:            p.Pair,
		Direction:       p.Direction,
		Volume:          p.Volume,
		LimitPrice:      p.LimitPrice,
		Leverage:        p.Leverage,
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		ContractSize:    cs,
		CreatePrice:     p.CreatePrice,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.CreatedAt,
		Status:          Pending,
		RemainingVolume: p.Volume,
		Fees:            Fees{Create: p.CreateFee},
		Margin:          p.Margin,
	}, nil
}

// IsLimit reports whether the order carries a limit price.
func (o Order) IsLimit() bool { return o.LimitPrice.Valid }

// Open reports whether the order still holds balance: PENDING, or a FILLED
// trading position.
func (o Order) Open() bool {
	return o.Status == Pending || (o.Status == Filled && o.Kind == Trading)
}

func (o Order) TotalFees() decimal.Decimal { return o.Fees.Total() }

// Notional is volume * price * contract size.
func (o Order) Notional(volume, price decimal.Decimal) decimal.Decimal {
	return volume.Mul(price).Mul(o.ContractSize)
}

// FillNotional is the exact notional of all fills.
func (o Order) FillNotional() decimal.Decimal {
	sum := decimal.Zero
	for _, f := range o.Fills {
		sum = sum.Add(o.Notional(f.Volume, f.Price))
	}
	return sum
}

// next copies o for a transition. Fills gets its own backing array so the
// receiver's history can never be reached through the new version.
func (o Order) next(at time.Time) Order {
	n := o
	n.Fills = append([]Fill(nil), o.Fills...)
	n.Version++
	n.UpdatedAt = at
	return n
}

func (o Order) String() string {
	return fmt.Sprintf("%s #%d %s %s %s %s %s", o.ID, o.Number, o.Kind, o.Pair, o.Direction, o.Volume, o.Status)
}
