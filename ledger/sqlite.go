package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/barledger/id"
	"github.com/rustyeddy/barledger/order"
)

// SQLite is a Ledger backed by a sqlite3 database file.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps Seq assignment and readers consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, tx Transaction) (Transaction, error) {
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	if tx.ID == "" {
		tx.ID = id.NewAt(tx.Time)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, account_id, run_id, order_id, ts, type, description, available_change, unavailable_change)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.RunID, tx.OrderID, tx.Time.UTC().UnixNano(),
		string(tx.Type), tx.Description, tx.AvailableChange, tx.UnavailableChange,
	)
	if err != nil {
		return Transaction{}, fmt.Errorf("append transaction: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Transaction{}, err
	}
	tx.Seq = seq
	return tx, nil
}

func (s *SQLite) SaveBalance(ctx context.Context, b Balance) (Balance, error) {
	if b.AccountID == "" || b.RunID == "" {
		return Balance{}, errors.New("balance account and run are required")
	}
	if b.ID == "" {
		b.ID = id.NewAt(b.Time)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances
		(id, account_id, run_id, ts, available, unavailable, last_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AccountID, b.RunID, b.Time.UTC().UnixNano(), b.Available, b.Unavailable, b.LastSeq,
	)
	if err != nil {
		return Balance{}, fmt.Errorf("save balance: %w", err)
	}
	return b, nil
}

func (s *SQLite) RecordOrder(ctx context.Context, o order.Order) error {
	body, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO order_versions
		(id, version, number, agent_id, run_id, kind, pair, status, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Version, o.Number, o.AgentID, o.RunID, string(o.Kind), o.Pair, string(o.Status), string(body),
	)
	if err != nil {
		return fmt.Errorf("record order %s v%d: %w", o.ID, o.Version, err)
	}
	return nil
}

func (s *SQLite) Transactions(ctx context.Context, q TxQuery) ([]Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if q.AccountID != "" {
		add("account_id = ?", q.AccountID)
	}
	if q.RunID != "" {
		add("run_id = ?", q.RunID)
	}
	if q.OrderID != "" {
		add("order_id = ?", q.OrderID)
	}
	if q.AfterSeq > 0 {
		add("seq > ?", q.AfterSeq)
	}
	if !q.Since.IsZero() {
		add("ts >= ?", q.Since.UTC().UnixNano())
	}
	if !q.Until.IsZero() {
		add("ts < ?", q.Until.UTC().UnixNano())
	}
	if len(q.Types) > 0 {
		marks := make([]string, len(q.Types))
		for i, t := range q.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(marks, ", ")+")")
	}

	query := `
		SELECT seq, id, account_id, run_id, order_id, ts, type, description, available_change, unavailable_change
		FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			tx Transaction
			ts int64
			tt string
		)
		if err := rows.Scan(
			&tx.Seq,
			&tx.ID,
			&tx.AccountID,
			&tx.RunID,
			&tx.OrderID,
			&ts,
			&tt,
			&tx.Description,
			&tx.AvailableChange,
			&tx.UnavailableChange,
		); err != nil {
			return nil, err
		}
		tx.Time = time.Unix(0, ts).UTC()
		tx.Type = TxType(tt)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const balanceCols = `id, account_id, run_id, ts, available, unavailable, last_seq`

func scanBalance(sc interface{ Scan(...any) error }) (Balance, error) {
	var (
		b  Balance
		ts int64
	)
	if err := sc.Scan(&b.ID, &b.AccountID, &b.RunID, &ts, &b.Available, &b.Unavailable, &b.LastSeq); err != nil {
		return Balance{}, err
	}
	b.Time = time.Unix(0, ts).UTC()
	return b, nil
}

func (s *SQLite) LatestBalance(ctx context.Context, accountID, runID string) (Balance, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+balanceCols+`
		FROM balances
		WHERE account_id = ? AND run_id = ?
		ORDER BY pos DESC
		LIMIT 1`, accountID, runID)

	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	return b, true, nil
}

func (s *SQLite) Balances(ctx context.Context, accountID, runID string) ([]Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+balanceCols+`
		FROM balances
		WHERE account_id = ? AND run_id = ?
		ORDER BY pos ASC`, accountID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) Orders(ctx context.Context, q OrderQuery) ([]order.Order, error) {
	// latest version per order id
	query := `
		SELECT v.body FROM order_versions v
		JOIN (SELECT id, MAX(version) AS version FROM order_versions GROUP BY id) m
		ON v.id = m.id AND v.version = m.version`

	var (
		where []string
		args  []any
	)
	if q.AgentID != "" {
		where = append(where, "v.agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.RunID != "" {
		where = append(where, "v.run_id = ?")
		args = append(args, q.RunID)
	}
	if q.Kind != "" {
		where = append(where, "v.kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Pair != "" {
		where = append(where, "v.pair = ?")
		args = append(args, q.Pair)
	}
	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "v.status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY v.number ASC, v.pos ASC"

	return s.queryOrders(ctx, query, args...)
}

func (s *SQLite) OrderHistory(ctx context.Context, orderID string) ([]order.Order, error) {
	return s.queryOrders(ctx, `
		SELECT body FROM order_versions
		WHERE id = ?
		ORDER BY version ASC`, orderID)
}

func (s *SQLite) queryOrders(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var o order.Order
		if err := json.Unmarshal([]byte(body), &o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
