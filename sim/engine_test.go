package sim

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/metrics"
	"github.com/rustyeddy/barledger/order"
	"github.com/rustyeddy/barledger/rules"
	"github.com/rustyeddy/barledger/strategies"
)

func btcLong(sl, tp string) strategies.Intent {
	in := openIntent(order.Trading, "BTCUSD", order.Long, "0.1")
	in.StopLoss = nd(sl)
	in.TakeProfit = nd(tp)
	return in
}

func roundTripBars() []market.Bar {
	return []market.Bar{
		bar(0, "50000", "50200", "49900", "50000"),
		bar(1, "50100", "50500", "50000", "50300"),
		bar(2, "50300", "55500", "50200", "55000"),
	}
}

func TestLongTakeProfitRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.NewMemory()
	e := newTestEngine(t, testConfig(), l)
	strat := &scripted{script: map[int][]strategies.Intent{0: {btcLong("45000", "55000")}}}

	res, err := e.Run(ctx, market.NewSliceFeed(roundTripBars()), strat)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Bars)
	assert.Equal(t, 1, strat.started)
	assert.Equal(t, 1, strat.ended)
	assert.Equal(t, "10479.49", res.Balance.Available.String())
	assert.True(t, res.Balance.Unavailable.IsZero())
	assert.Equal(t, "479.49", res.NetPnL.String())
	assert.Equal(t, 1, res.Orders[order.Closed])

	txs, err := l.Transactions(ctx, ledger.TxQuery{AccountID: "acct-1", RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, []ledger.TxType{
		ledger.Adjustment,
		ledger.ReserveMargin, // 500 at the acceptance close
		ledger.ReserveMargin, // +1 at the fill price
		ledger.FeeFill,
		ledger.FeeClose,
		ledger.ReturnMargin,
		ledger.ClosePnL,
	}, txTypes(txs))
	assert.Equal(t, "-5.01", txs[3].AvailableChange.String())
	assert.Equal(t, "-5.5", txs[4].AvailableChange.String())
	assert.Equal(t, "501", txs[5].AvailableChange.String())
	assert.Equal(t, "490", txs[6].AvailableChange.String())

	orders, err := l.Orders(ctx, ledger.OrderQuery{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, order.Closed, o.Status)
	assert.Equal(t, "50100", o.FillPrice.Decimal.String())
	assert.Equal(t, "55000", o.ClosePrice.Decimal.String())
	assert.Equal(t, ReasonTake, o.CloseReason)
	assert.Equal(t, "490", o.GrossPnL.String())
	assert.Equal(t, "10.51", o.TotalFees().String())
	assert.Equal(t, "479.49", o.NetPnL.String())

	// the strategy sees fills from step 1 and exits from step 2 of the same bar
	require.Len(t, strat.contexts, 3)
	require.Len(t, strat.contexts[1].Orders, 1)
	assert.Equal(t, order.Filled, strat.contexts[1].Orders[0].Status)
	assert.Equal(t, "9493.99", strat.contexts[1].Balance.Available.String())
	assert.Empty(t, strat.contexts[2].Orders)

	balances, err := l.Balances(ctx, "acct-1", "run-1")
	require.NoError(t, err)
	assert.Len(t, balances, 3)

	latest, ok, err := l.LatestBalance(ctx, "acct-1", "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	replayed, err := ledger.Replay(ctx, l, "acct-1", "run-1", time.Time{})
	require.NoError(t, err)
	assert.True(t, replayed.Equal(latest))
}

func TestStopWinsOverTakeOnSameBar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.NewMemory()
	e := newTestEngine(t, testConfig(), l)
	strat := &scripted{script: map[int][]strategies.Intent{0: {btcLong("49000", "52000")}}}

	bars := roundTripBars()
	bars[2] = bar(2, "50300", "53000", "48000", "50000")
	_, err := e.Run(ctx, market.NewSliceFeed(bars), strat)
	require.NoError(t, err)

	orders, err := l.Orders(ctx, ledger.OrderQuery{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "49000", orders[0].ClosePrice.Decimal.String())
	assert.Equal(t, ReasonStopTake, orders[0].CloseReason)
	assert.Equal(t, "-110", orders[0].GrossPnL.String())
}

func TestLimitLongFillsAtLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.NewMemory()
	e := newTestEngine(t, testConfig(), l)

	in := openIntent(order.Trading, "ETHUSD", order.Long, "1")
	in.LimitPrice = nd("2400")
	strat := &scripted{script: map[int][]strategies.Intent{0: {in}}}

	bars := []market.Bar{
		bar(0, "2450", "2460", "2440", "2450"),
		bar(1, "2440", "2450", "2380", "2420"),
	}
	_, err := e.Run(ctx, market.NewSliceFeed(bars), strat)
	require.NoError(t, err)

	orders, err := l.Orders(ctx, ledger.OrderQuery{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.Filled, orders[0].Status)
	assert.Equal(t, "2400", orders[0].FillPrice.Decimal.String())
	assert.Equal(t, "480", orders[0].Margin.String())

	// margin at the limit equals margin at the fill, so no adjustment
	txs, err := l.Transactions(ctx, ledger.TxQuery{Types: []ledger.TxType{ledger.ReserveMargin}})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestCancelReturnsReservedMarginFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := &recording{Memory: ledger.NewMemory()}
	e := newTestEngine(t, testConfig(), l)

	in := openIntent(order.Trading, "ETHUSD", order.Long, "1")
	in.LimitPrice = nd("2000")
	strat := &scripted{fn: func(sc *strategies.Context, b market.Bar) []strategies.Intent {
		switch sc.Index {
		case 0:
			return []strategies.Intent{in}
		case 1:
			return []strategies.Intent{strategies.Cancel(sc.Orders[0].ID)}
		}
		return nil
	}}

	bars := []market.Bar{
		bar(0, "2450", "2460", "2440", "2450"),
		bar(1, "2440", "2450", "2400", "2420"),
	}
	res, err := e.Run(ctx, market.NewSliceFeed(bars), strat)
	require.NoError(t, err)

	n := len(l.events)
	require.GreaterOrEqual(t, n, 3)
	assert.Equal(t, []string{"tx FEE_CANCEL -1", "tx RETURN_MARGIN 400", "order CANCELLED"}, l.events[n-3:])

	assert.Equal(t, "9999", res.Balance.Available.String())
	assert.True(t, res.Balance.Unavailable.IsZero())

	orders, err := l.Orders(ctx, ledger.OrderQuery{Statuses: []order.Status{order.Cancelled}})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "-1", orders[0].NetPnL.String())
	assert.Equal(t, "1", orders[0].CancelledVolume.String())
}

func TestBadBarsAbortBeforeProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("duplicate timestamp", func(t *testing.T) {
		l := ledger.NewMemory()
		e := newTestEngine(t, testConfig(), l)
		strat := &scripted{}
		bars := []market.Bar{
			bar(0, "1", "1", "1", "1"),
			bar(1, "1", "1", "1", "1"),
			bar(1, "1", "1", "1", "1"),
		}
		res, err := e.Run(ctx, market.NewSliceFeed(bars), strat)
		require.Error(t, err)
		assert.ErrorIs(t, err, market.ErrOutOfOrderBarData)

		var re *RunError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, 2, re.Index)
		assert.True(t, re.Time.Equal(bars[2].Time))

		assert.Len(t, strat.bars, 2)
		assert.Equal(t, 1, strat.ended)
		assert.Equal(t, 2, res.Bars)

		balances, err := l.Balances(ctx, "acct-1", "run-1")
		require.NoError(t, err)
		assert.Len(t, balances, 2)
	})

	t.Run("malformed first bar", func(t *testing.T) {
		e := newTestEngine(t, testConfig(), ledger.NewMemory())
		strat := &scripted{}
		_, err := e.Run(ctx, market.NewSliceFeed([]market.Bar{bar(0, "10", "9", "11", "10")}), strat)
		assert.ErrorIs(t, err, market.ErrMalformedBar)
		assert.Zero(t, strat.started)
		assert.Zero(t, strat.ended)
	})
}

func TestRejectedIntentsAreReported(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, testConfig(), ledger.NewMemory(), WithMetrics(metrics.New(reg)))

	strat := &scripted{script: map[int][]strategies.Intent{0: {
		openIntent(order.Trading, "BTCUSD", order.Long, "0.0001"),
		openIntent(order.Trading, "DOGEUSD", order.Long, "1"),
		strategies.Close("missing"),
		openIntent(order.Trading, "BTCUSD", order.Long, "0.1"),
	}}}

	res, err := e.Run(ctx, market.NewSliceFeed(roundTripBars()), strat)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rejections)
	require.Len(t, strat.rejected, 3)
	assert.ErrorIs(t, strat.rejected[0], rules.ErrValidationRejected)
	assert.ErrorIs(t, strat.rejected[1], rules.ErrValidationRejected)
	assert.ErrorIs(t, strat.rejected[2], order.ErrInvalidTransition)

	var rej *rules.Rejection
	require.True(t, errors.As(strat.rejected[1], &rej))
	assert.True(t, rej.Has(rules.CodeRulesNotFound))

	// the valid intent still went through
	assert.Equal(t, 1, res.Orders[order.Filled])

	assert.Equal(t, 1.0, counter(t, reg, "barledger_rejections_total", "code", rules.CodeBelowMinVolume))
	assert.Equal(t, 1.0, counter(t, reg, "barledger_rejections_total", "code", rules.CodeRulesNotFound))
	assert.Equal(t, 3.0, counter(t, reg, "barledger_bars_total", "run", "run-1"))
	assert.Equal(t, 1.0, counter(t, reg, "barledger_transactions_total", "type", string(ledger.FeeFill)))
}

func TestUnknownKindIsRejectedNotFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, testConfig(), ledger.NewMemory(), WithMetrics(metrics.New(reg)))

	strat := &scripted{script: map[int][]strategies.Intent{0: {
		{Action: strategies.ActionOpen, Pair: "BTCUSD", Direction: order.Long, Volume: d("0.1")},
		openIntent(order.Trading, "BTCUSD", order.Long, "0.1"),
	}}}

	res, err := e.Run(ctx, market.NewSliceFeed(roundTripBars()), strat)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Bars)

	assert.Equal(t, 1, res.Rejections)
	require.Len(t, strat.rejected, 1)
	var rej *rules.Rejection
	require.True(t, errors.As(strat.rejected[0], &rej))
	assert.True(t, rej.Has(rules.CodeBadKind))

	assert.Equal(t, 1, res.Orders[order.Filled])
	assert.Equal(t, 1.0, counter(t, reg, "barledger_rejections_total", "code", rules.CodeBadKind))
}

func negativeBars() []market.Bar {
	return []market.Bar{
		bar(0, "900", "900", "900", "900"),
		bar(1, "1200", "1200", "1200", "1200"),
	}
}

func TestNegativeBalancePolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	script := map[int][]strategies.Intent{0: {openIntent(order.Trading, "SOLUSD", order.Long, "1")}}

	t.Run("warn", func(t *testing.T) {
		cfg := testConfig()
		cfg.InitialBalance = d("1000")
		e := newTestEngine(t, cfg, ledger.NewMemory())
		res, err := e.Run(ctx, market.NewSliceFeed(negativeBars()), &scripted{script: script})
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "negative balance")
		assert.Equal(t, "-200.5", res.Balance.Available.String())
	})

	t.Run("abort", func(t *testing.T) {
		cfg := testConfig()
		cfg.InitialBalance = d("1000")
		cfg.NegativeBalance = Abort
		e := newTestEngine(t, cfg, ledger.NewMemory())
		strat := &scripted{script: script}
		_, err := e.Run(ctx, market.NewSliceFeed(negativeBars()), strat)
		require.Error(t, err)
		assert.ErrorIs(t, err, ledger.ErrNegativeBalance)

		var re *RunError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, 1, re.Index)
		assert.Equal(t, 1, strat.ended)
	})
}

func TestSpotPartialFillsAndSell(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.NewMemory()
	cfg := testConfig()
	cfg.SpotParticipation = d("0.5")
	e := newTestEngine(t, cfg, l)

	strat := &scripted{fn: func(sc *strategies.Context, b market.Bar) []strategies.Intent {
		switch sc.Index {
		case 0:
			return []strategies.Intent{openIntent(order.Spot, "SOLUSD", order.Long, "3")}
		case 3:
			held := sc.Holdings["SOLUSD"]
			return []strategies.Intent{strategies.Open(order.Spot, "SOLUSD", order.Short, held)}
		}
		return nil
	}}

	withVolume := func(b market.Bar, v string) market.Bar {
		b.Volume = nd(v)
		return b
	}
	bars := []market.Bar{
		withVolume(bar(0, "100", "100", "100", "100"), "2"),
		withVolume(bar(1, "110", "112", "108", "110"), "2"),
		withVolume(bar(2, "90", "92", "88", "90"), "2"),
		withVolume(bar(3, "100", "101", "99", "100"), "2"),
		withVolume(bar(4, "120", "121", "119", "120"), "10"),
	}
	res, err := e.Run(ctx, market.NewSliceFeed(bars), strat)
	require.NoError(t, err)

	assert.Equal(t, "10058", res.Balance.Available.String())
	assert.True(t, res.Balance.Unavailable.IsZero())
	assert.Equal(t, "3", strat.contexts[3].Holdings["SOLUSD"].String())

	orders, err := l.Orders(ctx, ledger.OrderQuery{Kind: order.Spot})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	buy := orders[0]
	assert.Equal(t, order.Filled, buy.Status)
	assert.Len(t, buy.Fills, 3)
	assert.Equal(t, "100", buy.FillPrice.Decimal.String())
	assert.Equal(t, "1.5", buy.Fees.Fill.String())
	assert.Equal(t, order.Filled, orders[1].Status)

	hist, err := l.OrderHistory(ctx, buy.ID)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, order.Pending, hist[1].Status)
	assert.Equal(t, "2", hist[1].RemainingVolume.String())

	exch, err := l.Transactions(ctx, ledger.TxQuery{Types: []ledger.TxType{ledger.SpotExchange}})
	require.NoError(t, err)
	require.Len(t, exch, 2)
	assert.Equal(t, "-10", exch[0].AvailableChange.String())
	assert.Equal(t, "10", exch[1].AvailableChange.String())

	sells, err := l.Transactions(ctx, ledger.TxQuery{Types: []ledger.TxType{ledger.FillSell}})
	require.NoError(t, err)
	require.Len(t, sells, 1)
	assert.Equal(t, "360", sells[0].AvailableChange.String())
}

func TestOvernightFeePerCrossing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.NewMemory()
	e := newTestEngine(t, testConfig(), l)
	strat := &scripted{script: map[int][]strategies.Intent{0: {openIntent(order.Trading, "AAPLUSD", order.Long, "10")}}}

	at := func(day, hour int, px string) market.Bar {
		p := d(px)
		return market.Bar{Time: time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC), Open: p, High: p, Low: p, Close: p}
	}
	bars := []market.Bar{
		at(1, 20, "180"),
		at(1, 21, "180"),
		at(2, 1, "181"),
		at(4, 1, "182"),
	}
	_, err := e.Run(ctx, market.NewSliceFeed(bars), strat)
	require.NoError(t, err)

	fees, err := l.Transactions(ctx, ledger.TxQuery{Types: []ledger.TxType{ledger.OvernightFee}})
	require.NoError(t, err)
	require.Len(t, fees, 3)
	assert.Equal(t, "-0.181", fees[0].AvailableChange.String())
	assert.Equal(t, "-0.182", fees[2].AvailableChange.String())

	orders, err := l.Orders(ctx, ledger.OrderQuery{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "0.545", orders[0].Fees.Overnight.String())
	assert.Equal(t, "2.5", orders[0].Fees.Fill.String())
}

func TestCancellationStopsBetweenBars(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := ledger.NewMemory()
	e := newTestEngine(t, testConfig(), l)
	strat := &scripted{fn: func(sc *strategies.Context, b market.Bar) []strategies.Intent {
		if sc.Index == 1 {
			cancel()
		}
		return nil
	}}

	res, err := e.Run(ctx, market.NewSliceFeed(roundTripBars()), strat)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 2, re.Index)
	assert.Equal(t, 2, res.Bars)
	assert.Len(t, strat.bars, 2)
	assert.Equal(t, 1, strat.ended)
}

func TestCloseOnEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.NewMemory()
	cfg := testConfig()
	cfg.CloseOnEnd = true
	e := newTestEngine(t, cfg, l)

	far := openIntent(order.Trading, "ETHUSD", order.Long, "1")
	far.LimitPrice = nd("100")
	strat := &scripted{script: map[int][]strategies.Intent{0: {
		openIntent(order.Trading, "BTCUSD", order.Long, "0.1"),
		far,
	}}}

	bars := roundTripBars()[:2]
	res, err := e.Run(ctx, market.NewSliceFeed(bars), strat)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Orders[order.Closed])
	assert.Equal(t, 1, res.Orders[order.Cancelled])
	assert.True(t, res.Balance.Unavailable.IsZero())

	closed, err := l.Orders(ctx, ledger.OrderQuery{Statuses: []order.Status{order.Closed}})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonEnd, closed[0].CloseReason)
	assert.Equal(t, "50300", closed[0].ClosePrice.Decimal.String())
}

func TestManualCloseAndInvalidClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := ledger.NewMemory()
	e := newTestEngine(t, testConfig(), l)

	strat := &scripted{fn: func(sc *strategies.Context, b market.Bar) []strategies.Intent {
		switch sc.Index {
		case 0:
			return []strategies.Intent{openIntent(order.Trading, "BTCUSD", order.Long, "0.1")}
		case 1:
			// filled in step 1 of this bar, so closing is allowed
			return []strategies.Intent{strategies.Close(sc.Orders[0].ID), strategies.Cancel(sc.Orders[0].ID)}
		}
		return nil
	}}

	res, err := e.Run(ctx, market.NewSliceFeed(roundTripBars()), strat)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejections)
	require.Len(t, strat.rejected, 1)
	assert.ErrorIs(t, strat.rejected[0], order.ErrInvalidTransition)

	orders, err := l.Orders(ctx, ledger.OrderQuery{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, ReasonManual, orders[0].CloseReason)
	assert.Equal(t, "50300", orders[0].ClosePrice.Decimal.String())
	assert.Equal(t, "20", orders[0].GrossPnL.String())
}

func TestEngineRunsOnce(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testConfig(), ledger.NewMemory())
	_, err := e.Run(context.Background(), market.NewSliceFeed(nil), &scripted{})
	require.NoError(t, err)
	_, err = e.Run(context.Background(), market.NewSliceFeed(nil), &scripted{})
	assert.Error(t, err)
}

func TestEmptyFeedStillCallsHooks(t *testing.T) {
	t.Parallel()
	strat := &scripted{}
	e := newTestEngine(t, testConfig(), ledger.NewMemory())
	res, err := e.Run(context.Background(), market.NewSliceFeed(nil), strat)
	require.NoError(t, err)
	assert.Zero(t, res.Bars)
	assert.Equal(t, 1, strat.started)
	assert.Equal(t, 1, strat.ended)
}

func TestRunWithSQLiteLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	defer l.Close()

	e := newTestEngine(t, testConfig(), l)
	strat := &scripted{script: map[int][]strategies.Intent{0: {btcLong("45000", "55000")}}}
	res, err := e.Run(ctx, market.NewSliceFeed(roundTripBars()), strat)
	require.NoError(t, err)
	assert.Equal(t, "10479.49", res.Balance.Available.String())

	replayed, err := ledger.Replay(ctx, l, "acct-1", "run-1", time.Time{})
	require.NoError(t, err)
	latest, ok, err := l.LatestBalance(ctx, "acct-1", "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, replayed.Equal(latest))

	hist, err := l.Orders(ctx, ledger.OrderQuery{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "479.49", hist[0].NetPnL.String())
}
