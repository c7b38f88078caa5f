package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a snapshot derived from the transaction log. LastSeq is the
// sequence of the last transaction folded into it.
type Balance struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	RunID       string          `json:"run_id"`
	Time        time.Time       `json:"time"`
	Available   decimal.Decimal `json:"available"`
	Unavailable decimal.Decimal `json:"unavailable"`
	LastSeq     int64           `json:"last_seq"`
}

func (b Balance) Total() decimal.Decimal { return b.Available.Add(b.Unavailable) }

// UtilizationRate is the unavailable share of total balance in percent.
func (b Balance) UtilizationRate() decimal.Decimal {
	total := b.Total()
	if !total.IsPositive() {
		return decimal.Zero
	}
	return b.Unavailable.Div(total).Mul(decimal.NewFromInt(100))
}

// Check reports a negative available or unavailable balance.
func (b Balance) Check() error {
	if b.Available.IsNegative() || b.Unavailable.IsNegative() {
		return fmt.Errorf("%w: available %s unavailable %s", ErrNegativeBalance, b.Available, b.Unavailable)
	}
	return nil
}

// Equal compares amounts and position in the log, ignoring ID and Time.
func (b Balance) Equal(o Balance) bool {
	return b.AccountID == o.AccountID && b.RunID == o.RunID &&
		b.Available.Equal(o.Available) && b.Unavailable.Equal(o.Unavailable) &&
		b.LastSeq == o.LastSeq
}

// Reconcile folds txs onto base. Transactions are applied in timestamp
// order with ties broken by sequence. The result is stamped with the last
// transaction's time, or at when txs is empty.
//
// Reconcile never looks past the transactions themselves; it does not
// check the result for negative amounts.
func Reconcile(base Balance, txs []Transaction, at time.Time) (Balance, error) {
	sorted := slices.Clone(txs)
	sortTx(sorted)

	out := base
	out.ID = ""
	out.Time = at
	for _, tx := range sorted {
		if tx.AccountID != base.AccountID || tx.RunID != base.RunID {
			return Balance{}, fmt.Errorf("%w: tx %s is %s/%s, balance is %s/%s",
				ErrRunMismatch, tx.ID, tx.AccountID, tx.RunID, base.AccountID, base.RunID)
		}
		out.Available = out.Available.Add(tx.AvailableChange)
		out.Unavailable = out.Unavailable.Add(tx.UnavailableChange)
		out.Time = tx.Time
		if tx.Seq > out.LastSeq {
			out.LastSeq = tx.Seq
		}
	}
	return out, nil
}

// Zero is the empty balance every account starts from.
func Zero(accountID, runID string) Balance {
	return Balance{AccountID: accountID, RunID: runID}
}
