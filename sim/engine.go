// Package sim drives orders through a bar sequence and records every
// balance change in a ledger.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/barledger/id"
	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/metrics"
	"github.com/rustyeddy/barledger/order"
	"github.com/rustyeddy/barledger/rules"
	"github.com/rustyeddy/barledger/store"
	"github.com/rustyeddy/barledger/strategies"
)

// Engine runs one backtest. Each bar is processed to completion in five
// fixed steps:
//
//  1. fill PENDING orders
//  2. close FILLED trading orders on stop-loss / take-profit
//  3. hand the bar to the strategy
//  4. validate intents and create orders
//  5. accrue overnight fees
//
// An Engine is not reusable; build a new one per run.
type Engine struct {
	cfg     Config
	catalog rules.Catalog
	ledger  ledger.Ledger
	log     logrus.FieldLogger
	metrics *metrics.Recorder

	orders    *store.Keyed[string, order.Order]
	number    int64
	holdings  map[string]decimal.Decimal
	committed map[string]decimal.Decimal

	seq   market.Sequence
	index int
	prev  market.Bar
	last  market.Bar

	res Result
	ran bool
}

type Option func(*Engine)

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

func NewEngine(cfg Config, catalog rules.Catalog, l ledger.Ledger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if catalog == nil || l == nil {
		return nil, errors.New("catalog and ledger are required")
	}
	if cfg.RunID == "" {
		cfg.RunID = id.New()
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	e := &Engine{
		cfg:       cfg,
		catalog:   catalog,
		ledger:    l,
		log:       discard,
		orders:    store.NewKeyed[string, order.Order](),
		holdings:  make(map[string]decimal.Decimal),
		committed: make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithFields(logrus.Fields{"run": cfg.RunID, "account": cfg.AccountID})
	e.res = Result{RunID: cfg.RunID, Orders: make(map[order.Status]int)}
	return e, nil
}

func (e *Engine) RunID() string { return e.cfg.RunID }

// Run drives strat over every bar of feed. OnStart and OnEnd are called
// exactly once each when OnStart succeeds. Cancellation of ctx stops the
// run between bars.
func (e *Engine) Run(ctx context.Context, feed market.Feed, strat strategies.Strategy) (Result, error) {
	if e.ran {
		return Result{}, errors.New("engine already ran")
	}
	e.ran = true
	e.res.Strategy = strat.Name()

	first, ok, err := feed.Next()
	if err != nil {
		return e.res, &RunError{Index: 0, Err: err}
	}
	if ok {
		if err := e.seq.Next(first); err != nil {
			return e.res, &RunError{Index: 0, Time: first.Time, Err: err}
		}
		e.res.Start = first.Time
		if err := e.deposit(ctx, first.Time); err != nil {
			return e.res, &RunError{Index: 0, Time: first.Time, Err: err}
		}
	}

	e.log.WithField("strategy", strat.Name()).Info("run started")

	sctx, err := e.context(ctx, first.Time)
	if err != nil {
		return e.res, &RunError{Index: 0, Time: first.Time, Err: err}
	}
	if err := strat.OnStart(sctx); err != nil {
		return e.res, &RunError{Index: 0, Time: first.Time, Err: fmt.Errorf("strategy start: %w", err)}
	}

	runErr := e.loop(ctx, feed, strat, first, ok)
	if runErr == nil && e.cfg.CloseOnEnd && e.res.Bars > 0 {
		if err := e.closeOut(ctx); err != nil {
			runErr = e.fail(err)
		}
	}

	end, err := e.context(context.WithoutCancel(ctx), e.last.Time)
	if err == nil {
		err = strat.OnEnd(end)
	}
	if err != nil && runErr == nil {
		runErr = e.fail(fmt.Errorf("strategy end: %w", err))
	}

	e.finish()
	if runErr != nil {
		e.log.WithError(runErr).Error("run aborted")
		return e.res, runErr
	}
	e.log.WithFields(logrus.Fields{
		"bars":      e.res.Bars,
		"available": e.res.Balance.Available.String(),
	}).Info("run finished")
	return e.res, nil
}

func (e *Engine) loop(ctx context.Context, feed market.Feed, strat strategies.Strategy, bar market.Bar, ok bool) error {
	// a bar that has started is processed to completion
	barCtx := context.WithoutCancel(ctx)
	for i := 0; ok; i++ {
		if err := ctx.Err(); err != nil {
			return &RunError{Index: i, Time: bar.Time, Err: err}
		}
		if i > 0 {
			if err := e.seq.Next(bar); err != nil {
				return &RunError{Index: i, Time: bar.Time, Err: err}
			}
		}
		e.index = i
		if err := e.step(barCtx, bar, strat); err != nil {
			return e.fail(err)
		}
		e.prev = bar

		var err error
		bar, ok, err = feed.Next()
		if err != nil {
			return &RunError{Index: i + 1, Err: err}
		}
	}
	return nil
}

func (e *Engine) fail(err error) error {
	var re *RunError
	if errors.As(err, &re) {
		return err
	}
	return &RunError{Index: e.index, Time: e.last.Time, Err: err}
}

// step processes one bar. Returned errors abort the run.
func (e *Engine) step(ctx context.Context, bar market.Bar, strat strategies.Strategy) error {
	e.last = bar

	if err := e.fillPending(ctx, bar); err != nil {
		return err
	}
	if err := e.checkExits(ctx, bar); err != nil {
		return err
	}

	sctx, err := e.context(ctx, bar.Time)
	if err != nil {
		return err
	}
	intents, err := strat.OnBar(sctx, bar)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	for _, in := range intents {
		if err := e.handleIntent(ctx, bar, in, strat, sctx); err != nil {
			return err
		}
	}

	if e.index > 0 {
		if err := e.accrueOvernight(ctx, bar); err != nil {
			return err
		}
	}

	e.res.Bars++
	e.metrics.Bar(e.cfg.RunID)
	return e.snapshot(ctx, bar.Time)
}

func (e *Engine) snapshot(ctx context.Context, at time.Time) error {
	b, err := ledger.Snapshot(ctx, e.ledger, e.cfg.AccountID, e.cfg.RunID, at)
	if err != nil {
		return err
	}
	e.res.Balance = b
	e.metrics.Balance(e.cfg.RunID, b.Available, b.Unavailable)

	if err := b.Check(); err != nil {
		if e.cfg.NegativeBalance == Abort {
			return err
		}
		msg := fmt.Sprintf("bar %d (%s): %v", e.index, at.Format(time.RFC3339), err)
		e.res.Warnings = append(e.res.Warnings, msg)
		e.log.WithField("bar", e.index).Warn(err.Error())
	}
	return nil
}

func (e *Engine) deposit(ctx context.Context, at time.Time) error {
	if !e.cfg.InitialBalance.IsPositive() {
		return nil
	}
	return e.post(ctx, at, "", entry{
		typ:   ledger.Adjustment,
		desc:  "initial deposit " + e.cfg.InitialBalance.String(),
		avail: e.cfg.InitialBalance,
	})
}

// context builds the view handed to the strategy. The balance includes
// everything appended so far but is not stored.
func (e *Engine) context(ctx context.Context, at time.Time) (*strategies.Context, error) {
	bal, err := ledger.Current(ctx, e.ledger, e.cfg.AccountID, e.cfg.RunID, at)
	if err != nil {
		return nil, err
	}
	free := make(map[string]decimal.Decimal, len(e.holdings))
	for pair, q := range e.holdings {
		free[pair] = q.Sub(e.committed[pair])
	}
	return &strategies.Context{
		RunID:     e.cfg.RunID,
		AccountID: e.cfg.AccountID,
		AgentID:   e.cfg.AgentID,
		BrokerID:  e.cfg.BrokerID,
		Index:     e.index,
		Time:      at,
		Balance:   bal,
		Orders:    e.open(),
		Holdings:  free,
	}, nil
}

// open returns open orders by ascending number.
func (e *Engine) open() []order.Order {
	return e.orders.Sorted(order.ByNumber, order.IsOpen)
}

func (e *Engine) rules(pair string) (rules.TradingRules, error) {
	return e.catalog.Rules(e.cfg.BrokerID, pair)
}

func (e *Engine) orderLog(o order.Order) logrus.FieldLogger {
	return e.log.WithFields(logrus.Fields{"order": o.ID, "number": o.Number, "pair": o.Pair})
}

// entry is one transaction waiting to be appended.
type entry struct {
	typ   ledger.TxType
	desc  string
	avail decimal.Decimal
	// unavail is the change to unavailable balance
	unavail decimal.Decimal
}

func (e *Engine) post(ctx context.Context, at time.Time, orderID string, en entry) error {
	tx, err := e.ledger.Append(ctx, ledger.Transaction{
		AccountID:         e.cfg.AccountID,
		RunID:             e.cfg.RunID,
		OrderID:           orderID,
		Time:              at,
		Type:              en.typ,
		Description:       en.desc,
		AvailableChange:   en.avail,
		UnavailableChange: en.unavail,
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", en.typ, err)
	}
	e.res.Transactions++
	e.metrics.Transaction(e.cfg.RunID, string(tx.Type))
	e.log.WithFields(logrus.Fields{
		"seq":   tx.Seq,
		"type":  tx.Type,
		"order": orderID,
	}).Debugf("%s avail %s unavail %s", tx.Description, tx.AvailableChange, tx.UnavailableChange)
	return nil
}

// commit appends the transactions of a transition and then records the new
// order version, so no reader sees a version before its balance effects.
// Entries with no effect are skipped.
func (e *Engine) commit(ctx context.Context, at time.Time, next order.Order, entries ...entry) error {
	for _, en := range entries {
		if en.avail.IsZero() && en.unavail.IsZero() {
			continue
		}
		if err := e.post(ctx, at, next.ID, en); err != nil {
			return err
		}
	}
	if err := e.ledger.RecordOrder(ctx, next); err != nil {
		return err
	}
	e.orders.Put(next.ID, next)
	e.metrics.Order(e.cfg.RunID, string(next.Kind), string(next.Status))
	return nil
}

func fee(t ledger.TxType, desc string, amount decimal.Decimal) entry {
	return entry{typ: t, desc: desc, avail: amount.Neg()}
}

func reserve(desc string, amount decimal.Decimal) entry {
	if amount.IsNegative() {
		return release(desc, amount.Neg())
	}
	return entry{typ: ledger.ReserveMargin, desc: desc, avail: amount.Neg(), unavail: amount}
}

func release(desc string, amount decimal.Decimal) entry {
	return entry{typ: ledger.ReturnMargin, desc: desc, avail: amount, unavail: amount.Neg()}
}

// isolated reports order-level failures that must not stop the run.
func isolated(err error) bool {
	return errors.Is(err, order.ErrInvalidTransition) ||
		errors.Is(err, order.ErrVolumeExceeded) ||
		errors.Is(err, order.ErrInsufficientVolume) ||
		errors.Is(err, order.ErrNegativeFee)
}

func (e *Engine) finish() {
	e.res.End = e.last.Time
	for _, o := range e.orders.Find() {
		e.res.Orders[o.Status]++
		if o.Status.Terminal() {
			e.res.NetPnL = e.res.NetPnL.Add(o.NetPnL)
		}
	}
}
