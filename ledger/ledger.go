package ledger

import (
	"context"
	"slices"
	"time"

	"github.com/rustyeddy/barledger/order"
	"github.com/rustyeddy/barledger/store"
)

// Ledger stores transactions, balance snapshots and order versions. Nothing
// appended is ever updated or removed.
type Ledger interface {
	// Append assigns ID (when empty) and Seq and stores tx.
	Append(ctx context.Context, tx Transaction) (Transaction, error)
	// SaveBalance stores a snapshot and assigns its ID when empty.
	SaveBalance(ctx context.Context, b Balance) (Balance, error)
	// RecordOrder stores one version of an order.
	RecordOrder(ctx context.Context, o order.Order) error

	// Transactions returns matching transactions ordered by (Time, Seq). The time
	// window is half-open: Since is inclusive, Until exclusive. Use
	// AfterSeq for a strictly-after cursor.
	Transactions(ctx context.Context, q TxQuery) ([]Transaction, error)
	LatestBalance(ctx context.Context, accountID, runID string) (Balance, bool, error)
	Balances(ctx context.Context, accountID, runID string) ([]Balance, error)
	// Orders returns the latest version of each matching order by number.
	Orders(ctx context.Context, q OrderQuery) ([]order.Order, error)
	// OrderHistory returns every recorded version of one order.
	OrderHistory(ctx context.Context, orderID string) ([]order.Order, error)

	Close() error
}

// TxQuery filters transactions. Zero fields do not filter.
type TxQuery struct {
	AccountID string
	RunID     string
	OrderID   string
	// AfterSeq keeps transactions appended after that sequence.
	AfterSeq int64
	// Since and Until bound the timestamp to [Since, Until); a transaction
	// stamped exactly at Since is included.
	Since time.Time
	Until time.Time
	Types []TxType
}

func (q TxQuery) preds() []store.Pred[Transaction] {
	return []store.Pred[Transaction]{
		func(t Transaction) bool { return q.AccountID == "" || t.AccountID == q.AccountID },
		func(t Transaction) bool { return q.RunID == "" || t.RunID == q.RunID },
		func(t Transaction) bool { return q.OrderID == "" || t.OrderID == q.OrderID },
		func(t Transaction) bool { return t.Seq > q.AfterSeq },
		func(t Transaction) bool { return q.Since.IsZero() || !t.Time.Before(q.Since) },
		func(t Transaction) bool { return q.Until.IsZero() || t.Time.Before(q.Until) },
		func(t Transaction) bool { return len(q.Types) == 0 || slices.Contains(q.Types, t.Type) },
	}
}

// OrderQuery filters orders. Zero fields do not filter.
type OrderQuery struct {
	AgentID  string
	RunID    string
	Statuses []order.Status
	Kind     order.Kind
	Pair     string
}

func (q OrderQuery) preds() []store.Pred[order.Order] {
	return []store.Pred[order.Order]{
		order.ByAgent(q.AgentID),
		order.ByRun(q.RunID),
		order.ByStatus(q.Statuses...),
		order.ByKind(q.Kind),
		order.ByPair(q.Pair),
	}
}

// sortTx puts transactions in reconcile order.
func sortTx(txs []Transaction) {
	slices.SortStableFunc(txs, func(a, b Transaction) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
}

// Replay folds the full history of an account/run from zero.
func Replay(ctx context.Context, l Ledger, accountID, runID string, at time.Time) (Balance, error) {
	txs, err := l.Transactions(ctx, TxQuery{AccountID: accountID, RunID: runID})
	if err != nil {
		return Balance{}, err
	}
	return Reconcile(Zero(accountID, runID), txs, at)
}

// Current folds the transactions appended since the latest snapshot onto
// it. The result is not stored.
func Current(ctx context.Context, l Ledger, accountID, runID string, at time.Time) (Balance, error) {
	base, ok, err := l.LatestBalance(ctx, accountID, runID)
	if err != nil {
		return Balance{}, err
	}
	if !ok {
		base = Zero(accountID, runID)
	}
	txs, err := l.Transactions(ctx, TxQuery{AccountID: accountID, RunID: runID, AfterSeq: base.LastSeq})
	if err != nil {
		return Balance{}, err
	}
	return Reconcile(base, txs, at)
}

// Snapshot computes Current and stores it.
func Snapshot(ctx context.Context, l Ledger, accountID, runID string, at time.Time) (Balance, error) {
	b, err := Current(ctx, l, accountID, runID, at)
	if err != nil {
		return Balance{}, err
	}
	return l.SaveBalance(ctx, b)
}
