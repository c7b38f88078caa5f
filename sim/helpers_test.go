package sim

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/order"
	"github.com/rustyeddy/barledger/rules"
	"github.com/rustyeddy/barledger/strategies"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func bar(i int, o, h, l, c string) market.Bar {
	return market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: d(o), High: d(h), Low: d(l), Close: d(c)}
}

func testCatalog(t *testing.T) rules.Catalog {
	t.Helper()
	c, err := rules.NewCatalog(
		rules.TradingRules{
			Broker:        "sim",
			Pair:          "BTCUSD",
			LeverageType:  rules.MarginMultiplier,
			LeverageValue: d("10"),
			Fees: rules.Schedule{
				{Type: rules.PercentOfNotional, Timing: rules.OnFill, Amount: d("0.001")},
				{Type: rules.PercentOfNotional, Timing: rules.OnClose, Amount: d("0.001")},
			},
			MinVolume:   d("0.001"),
			MinNotional: d("10"),
			AllowLong:   true,
			AllowShort:  true,
		},
		rules.TradingRules{
			Broker:        "sim",
			Pair:          "ETHUSD",
			LeverageType:  rules.MarginMultiplier,
			LeverageValue: d("5"),
			Fees: rules.Schedule{
				{Type: rules.FlatPerTrade, Timing: rules.OnCancel, Amount: d("1")},
			},
			AllowLong:  true,
			AllowShort: true,
		},
		rules.TradingRules{
			Broker:       "sim",
			Pair:         "AAPLUSD",
			LeverageType: rules.NoLeverage,
			Fees: rules.Schedule{
				{Type: rules.FlatPerTrade, Timing: rules.OnFill, Amount: d("2.50")},
				{Type: rules.PercentOfNotional, Timing: rules.OnOvernightFilled, Amount: d("0.0001")},
			},
			MinVolume: d("1"),
			AllowLong: true,
		},
		rules.TradingRules{
			Broker:       "sim",
			Pair:         "SOLUSD",
			LeverageType: rules.NoLeverage,
			Fees: rules.Schedule{
				{Type: rules.FlatPerTrade, Timing: rules.OnFill, Amount: d("0.5")},
			},
			AllowLong:  true,
			AllowShort: true,
		},
	)
	require.NoError(t, err)
	return c
}

func testConfig() Config {
	return Config{
		RunID:          "run-1",
		AccountID:      "acct-1",
		BrokerID:       "sim",
		InitialBalance: d("10000"),
		FillAt:         market.RefOpen,
	}
}

func newTestEngine(t *testing.T, cfg Config, l ledger.Ledger, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, testCatalog(t), l, opts...)
	require.NoError(t, err)
	return e
}

// scripted replays intents by bar index and records what the engine told it.
type scripted struct {
	script map[int][]strategies.Intent
	fn     func(ctx *strategies.Context, b market.Bar) []strategies.Intent

	started  int
	ended    int
	bars     []time.Time
	contexts []strategies.Context
	rejected []error
	startErr error
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) OnStart(ctx *strategies.Context) error {
	s.started++
	return s.startErr
}

func (s *scripted) OnBar(ctx *strategies.Context, b market.Bar) ([]strategies.Intent, error) {
	s.bars = append(s.bars, b.Time)
	s.contexts = append(s.contexts, *ctx)
	if s.fn != nil {
		return s.fn(ctx, b), nil
	}
	return s.script[ctx.Index], nil
}

func (s *scripted) OnEnd(ctx *strategies.Context) error {
	s.ended++
	return nil
}

func (s *scripted) OnRejected(ctx *strategies.Context, in strategies.Intent, err error) {
	s.rejected = append(s.rejected, err)
}

func openIntent(kind order.Kind, pair string, dir order.Direction, volume string) strategies.Intent {
	return strategies.Open(kind, pair, dir, d(volume))
}

// recording wraps a ledger and logs the order of appends and order versions.
type recording struct {
	*ledger.Memory
	events []string
}

func (r *recording) Append(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	r.events = append(r.events, fmt.Sprintf("tx %s %s", tx.Type, tx.AvailableChange))
	return r.Memory.Append(ctx, tx)
}

func (r *recording) RecordOrder(ctx context.Context, o order.Order) error {
	r.events = append(r.events, "order "+string(o.Status))
	return r.Memory.RecordOrder(ctx, o)
}

func txTypes(txs []ledger.Transaction) []ledger.TxType {
	out := make([]ledger.TxType, len(txs))
	for i, tx := range txs {
		out[i] = tx.Type
	}
	return out
}

// counter sums the samples of a counter family that carry label=value.
func counter(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					sum += m.GetCounter().GetValue()
				}
			}
		}
	}
	return sum
}
