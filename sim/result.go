package sim

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/order"
)

// Result summarizes a run. The ledger holds the full detail.
type Result struct {
	RunID    string
	Strategy string

	Bars  int
	Start time.Time
	End   time.Time

	// Balance is the last stored snapshot.
	Balance ledger.Balance

	Orders       map[order.Status]int
	Transactions int
	Rejections   int

	// NetPnL sums the net P&L of closed and cancelled orders.
	NetPnL decimal.Decimal

	// Warnings holds negative-balance violations under the warn policy.
	Warnings []string
}
