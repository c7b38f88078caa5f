package ledger

import (
	"context"
	"errors"
	"slices"

	"github.com/rustyeddy/barledger/id"
	"github.com/rustyeddy/barledger/order"
	"github.com/rustyeddy/barledger/store"
)

// Memory is an in-process Ledger. It is safe for concurrent use.
type Memory struct {
	txs      *store.Log[Transaction]
	balances *store.Log[Balance]
	versions *store.Log[order.Order]
	latest   *store.Keyed[string, order.Order]
}

func NewMemory() *Memory {
	return &Memory{
		txs:      store.NewLog[Transaction](),
		balances: store.NewLog[Balance](),
		versions: store.NewLog[order.Order](),
		latest:   store.NewKeyed[string, order.Order](),
	}
}

func (m *Memory) Append(ctx context.Context, tx Transaction) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	if tx.ID == "" {
		tx.ID = id.NewAt(tx.Time)
	}
	return m.txs.AppendWith(func(pos int64) (Transaction, error) {
		tx.Seq = pos
		return tx, nil
	})
}

func (m *Memory) SaveBalance(ctx context.Context, b Balance) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	if b.AccountID == "" || b.RunID == "" {
		return Balance{}, errors.New("balance account and run are required")
	}
	if b.ID == "" {
		b.ID = id.NewAt(b.Time)
	}
	m.balances.Append(b)
	return b, nil
}

func (m *Memory) RecordOrder(ctx context.Context, o order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.versions.Append(o)
	m.latest.Put(o.ID, o)
	return nil
}

func (m *Memory) Transactions(ctx context.Context, q TxQuery) ([]Transaction, error) {
	out := m.txs.Find(q.preds()...)
	sortTx(out)
	return out, ctx.Err()
}

func (m *Memory) LatestBalance(ctx context.Context, accountID, runID string) (Balance, bool, error) {
	b, ok := m.balances.Last(func(b Balance) bool {
		return b.AccountID == accountID && b.RunID == runID
	})
	return b, ok, ctx.Err()
}

func (m *Memory) Balances(ctx context.Context, accountID, runID string) ([]Balance, error) {
	return m.balances.Find(func(b Balance) bool {
		return b.AccountID == accountID && b.RunID == runID
	}), ctx.Err()
}

func (m *Memory) Orders(ctx context.Context, q OrderQuery) ([]order.Order, error) {
	return m.latest.Sorted(order.ByNumber, q.preds()...), ctx.Err()
}

func (m *Memory) OrderHistory(ctx context.Context, orderID string) ([]order.Order, error) {
	out := m.versions.Find(func(o order.Order) bool { return o.ID == orderID })
	slices.SortStableFunc(out, func(a, b order.Order) int { return a.Version - b.Version })
	return out, ctx.Err()
}

func (m *Memory) Close() error { return nil }
