package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/barledger/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func btc() TradingRules {
	return TradingRules{
		Broker:        "binance",
		Pair:          "BTCUSD",
		LeverageType:  MarginMultiplier,
		LeverageValue: d("10"),
		Fees: Schedule{
			{Type: PercentOfNotional, Timing: OnFill, Amount: d("0.001")},
			{Type: PercentOfNotional, Timing: OnClose, Amount: d("0.001")},
		},
		MinVolume:   d("0.001"),
		MinNotional: d("10"),
		AllowLong:   true,
		AllowShort:  true,
	}
}

func aapl() TradingRules {
	return TradingRules{
		Broker:       "xp",
		Pair:         "AAPLUSD",
		LeverageType: NoLeverage,
		Fees: Schedule{
			{Type: FlatPerTrade, Timing: OnFill, Amount: d("2.50")},
			{Type: PercentOfNotional, Timing: OnOvernightFilled, Amount: d("0.0001")},
		},
		MinVolume: d("1"),
		AllowLong: true,
	}
}

func TestComputeFee(t *testing.T) {
	t.Parallel()
	notional, margin, volume := d("5010"), d("501"), d("0.1")

	tests := []struct {
		name string
		fee  *Fee
		want string
	}{
		{"nil", nil, "0"},
		{"no fee", &Fee{Type: NoFee, Amount: d("9")}, "0"},
		{"flat per trade", &Fee{Type: FlatPerTrade, Amount: d("2.5")}, "2.5"},
		{"percent of notional", &Fee{Type: PercentOfNotional, Amount: d("0.001")}, "5.01"},
		{"flat per volume", &Fee{Type: FlatPerVolume, Amount: d("3")}, "0.3"},
		{"percent of margin", &Fee{Type: PercentOfMargin, Amount: d("0.01")}, "5.01"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ComputeFee(tt.fee, notional, margin, volume)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err := ComputeFee(&Fee{Type: "BOGUS"}, notional, margin, volume)
	assert.ErrorIs(t, err, ErrUnknownFeeType)
}

func TestRequiredMargin(t *testing.T) {
	t.Parallel()
	one := decimal.NewFromInt(1)

	m, err := RequiredMargin(NoLeverage, decimal.Zero, d("0.1"), d("50100"), one)
	require.NoError(t, err)
	assert.Equal(t, "5010", m.String())

	m, err = RequiredMargin(MarginMultiplier, d("10"), d("0.1"), d("50100"), one)
	require.NoError(t, err)
	assert.Equal(t, "501", m.String())

	m, err = RequiredMargin(FlatMarginPerVolume, d("250"), d("2"), d("50100"), one)
	require.NoError(t, err)
	assert.Equal(t, "500", m.String())

	m, err = RequiredMargin(NoLeverage, decimal.Zero, d("2"), d("10"), d("100"))
	require.NoError(t, err)
	assert.Equal(t, "2000", m.String())

	_, err = RequiredMargin(MarginMultiplier, decimal.Zero, d("1"), d("1"), one)
	assert.ErrorIs(t, err, ErrInvalidLeverageConfig)
	_, err = RequiredMargin(MarginMultiplier, d("-2"), d("1"), d("1"), one)
	assert.ErrorIs(t, err, ErrInvalidLeverageConfig)
	_, err = RequiredMargin("CROSS", d("1"), d("1"), d("1"), one)
	assert.ErrorIs(t, err, ErrInvalidLeverageConfig)
}

func TestMarginScalesWithVolume(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := decimal.NewFromInt(rapid.Int64Range(1, 1_000_000).Draw(t, "v"))
		p := decimal.NewFromInt(rapid.Int64Range(1, 1_000_000).Draw(t, "p"))
		k := decimal.NewFromInt(rapid.SampledFrom([]int64{1, 2, 4, 5, 8, 10, 20, 25, 50, 100}).Draw(t, "k"))
		one := decimal.NewFromInt(1)

		m1, err := RequiredMargin(MarginMultiplier, k, v, p, one)
		if err != nil {
			t.Fatal(err)
		}
		m2, err := RequiredMargin(MarginMultiplier, k, v.Mul(decimal.NewFromInt(2)), p, one)
		if err != nil {
			t.Fatal(err)
		}
		if !m1.Mul(k).Equal(v.Mul(p)) {
			t.Fatalf("margin %s * %s != notional %s", m1, k, v.Mul(p))
		}
		if !m2.Equal(m1.Mul(decimal.NewFromInt(2))) {
			t.Fatalf("margin not linear: %s vs 2*%s", m2, m1)
		}
	})
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	c, err := NewCatalog(btc(), aapl())
	require.NoError(t, err)

	r, err := c.Rules("binance", "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, MarginMultiplier, r.LeverageType)

	_, err = c.Rules("binance", "ETHUSD")
	assert.ErrorIs(t, err, ErrRulesNotFound)

	_, err = NewCatalog(btc(), btc())
	assert.Error(t, err)

	bad := btc()
	bad.LeverageValue = decimal.Zero
	_, err = NewCatalog(bad)
	assert.ErrorIs(t, err, ErrInvalidLeverageConfig)

	bad = btc()
	bad.Fees = append(bad.Fees, Fee{Type: "WEIRD", Timing: OnCancel})
	_, err = NewCatalog(bad)
	assert.ErrorIs(t, err, ErrUnknownFeeType)

	bad = btc()
	bad.Fees = append(bad.Fees, Fee{Type: FlatPerTrade, Timing: OnFill})
	_, err = NewCatalog(bad)
	assert.Error(t, err)
}

func TestRulesFeeAndLeverage(t *testing.T) {
	t.Parallel()
	r := btc()

	fee, err := r.Fee(OnFill, d("0.1"), d("50100"), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "5.01", fee.String())

	fee, err = r.Fee(OnClose, d("0.1"), d("55000"), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "5.5", fee.String())

	fee, err = r.Fee(OnCancel, d("0.1"), d("55000"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, fee.IsZero())

	assert.Equal(t, "5", r.Leverage(nd("5")).String())
	assert.Equal(t, "10", r.Leverage(decimal.NullDecimal{}).String())
	assert.Equal(t, "0", aapl().Leverage(nd("5")).String())
}

func TestChargeOffset(t *testing.T) {
	t.Parallel()
	r := aapl()
	off, err := r.ChargeOffset()
	require.NoError(t, err)
	assert.Zero(t, off)

	r.OvernightTiming = OnFixedTime
	r.ChargeTime = "22:30"
	off, err = r.ChargeOffset()
	require.NoError(t, err)
	assert.Equal(t, 22*time.Hour+30*time.Minute, off)

	r.ChargeTime = "late"
	assert.Error(t, r.Validate())
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	base := Request{
		Kind:      order.Trading,
		Direction: order.Long,
		Volume:    d("0.1"),
		Price:     d("50100"),
		Available: d("10000"),
	}

	tests := []struct {
		name   string
		rules  TradingRules
		mutate func(*Request)
		codes  []string
	}{
		{"ok", btc(), func(*Request) {}, nil},
		{"zero volume", btc(), func(r *Request) { r.Volume = decimal.Zero }, []string{CodeBadVolume}},
		{"below min volume", btc(), func(r *Request) { r.Volume = d("0.0001") }, []string{CodeBelowMinVolume, CodeBelowMinNotional}},
		{"short not allowed", aapl(), func(r *Request) { r.Direction = order.Short; r.Volume = d("1"); r.Price = d("180") }, []string{CodeDirectionNotAllowed}},
		{"leverage too high", btc(), func(r *Request) { r.Leverage = nd("20") }, []string{CodeLeverageTooHigh}},
		{"stop above entry", btc(), func(r *Request) { r.StopLoss = nd("51000") }, []string{CodeInvalidStop}},
		{"target below entry", btc(), func(r *Request) { r.TakeProfit = nd("49000") }, []string{CodeInvalidTarget}},
		{"short stop below entry", btc(), func(r *Request) { r.Direction = order.Short; r.StopLoss = nd("49000") }, []string{CodeInvalidStop}},
		{"insufficient funds", btc(), func(r *Request) { r.Available = d("500") }, []string{CodeInsufficientFunds}},
		{"bad limit", btc(), func(r *Request) { r.LimitPrice = nd("0") }, []string{CodeBadPrice}},
		{"spot sell without holdings", btc(), func(r *Request) { r.Kind = order.Spot; r.Direction = order.Short }, []string{CodeInsufficientHoldings}},
		{"spot stop", btc(), func(r *Request) { r.Kind = order.Spot; r.StopLoss = nd("1") }, []string{CodeInvalidStop}},
		{"missing kind", btc(), func(r *Request) { r.Kind = "" }, []string{CodeBadKind}},
		{"unknown kind", btc(), func(r *Request) { r.Kind = "FUTURE" }, []string{CodeBadKind}},
		{"spot buy needs full notional", btc(), func(r *Request) { r.Kind = order.Spot; r.Available = d("5000") }, []string{CodeInsufficientFunds}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := base
			tt.mutate(&req)
			dec, err := Evaluate(tt.rules, req)
			require.NoError(t, err)

			var codes []string
			for _, v := range dec.Violations {
				codes = append(codes, v.Code)
			}
			assert.Equal(t, tt.codes, codes)
			assert.Equal(t, len(tt.codes) == 0, dec.Allowed)
		})
	}
}

func TestEvaluateComputesReserve(t *testing.T) {
	t.Parallel()
	r := btc()
	r.Fees = append(r.Fees, Fee{Type: FlatPerTrade, Timing: OnCreate, Amount: d("1")})

	dec, err := Evaluate(r, Request{
		Kind: order.Trading, Direction: order.Long, Volume: d("0.1"),
		Price: d("50100"), Available: d("502"),
	})
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, "501", dec.Margin.String())
	assert.Equal(t, "501", dec.Reserve.String())
	assert.Equal(t, "1", dec.CreateFee.String())
	assert.Equal(t, "5010", dec.Notional.String())
}

func TestRejectionMatchesSentinel(t *testing.T) {
	t.Parallel()
	dec := Decision{Allowed: true}
	assert.NoError(t, dec.Err())

	dec.add(CodeBadVolume, "nope")
	err := dec.Err()
	assert.ErrorIs(t, err, ErrValidationRejected)

	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.True(t, rej.Has(CodeBadVolume))
	assert.Contains(t, err.Error(), "BAD_VOLUME")

	nf := NotFound(ErrRulesNotFound)
	assert.True(t, nf.Has(CodeRulesNotFound))
}
