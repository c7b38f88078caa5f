package rules

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/barledger/order"
	"github.com/shopspring/decimal"
)

// Violation codes.
const (
	CodeRulesNotFound        = "RULES_NOT_FOUND"
	CodeBadKind              = "BAD_KIND"
	CodeBadVolume            = "BAD_VOLUME"
	CodeBadPrice             = "BAD_PRICE"
	CodeDirectionNotAllowed  = "DIRECTION_NOT_ALLOWED"
	CodeBelowMinVolume       = "BELOW_MIN_VOLUME"
	CodeBelowMinNotional     = "BELOW_MIN_NOTIONAL"
	CodeBelowMinMargin       = "BELOW_MIN_MARGIN"
	CodeLeverageTooHigh      = "LEVERAGE_TOO_HIGH"
	CodeInvalidStop          = "INVALID_STOP"
	CodeInvalidTarget        = "INVALID_TARGET"
	CodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	CodeInsufficientHoldings = "INSUFFICIENT_HOLDINGS"
)

type Violation struct {
	Code string
	Msg  string
}

// Decision is the outcome of checking an order request against rules.
// Margin, Notional and CreateFee are filled in even when not Allowed.
type Decision struct {
	Allowed    bool
	Violations []Violation

	Notional  decimal.Decimal
	Margin    decimal.Decimal
	CreateFee decimal.Decimal
	Reserve   decimal.Decimal
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Err returns a *Rejection when the decision is not allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &Rejection{Violations: d.Violations}
}

// Rejection is returned for an order request that fails trading rules.
// It matches ErrValidationRejected with errors.Is.
type Rejection struct {
	Violations []Violation
}

func (r *Rejection) Error() string {
	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		parts = append(parts, v.Code+": "+v.Msg)
	}
	return ErrValidationRejected.Error() + ": " + strings.Join(parts, "; ")
}

func (r *Rejection) Unwrap() error { return ErrValidationRejected }

// Has reports whether the rejection carries code.
func (r *Rejection) Has(code string) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// NotFound builds the rejection for an intent whose pair has no rules.
func NotFound(err error) *Rejection {
	return &Rejection{Violations: []Violation{{Code: CodeRulesNotFound, Msg: err.Error()}}}
}

// Request is an order about to be created.
type Request struct {
	Kind       order.Kind
	Direction  order.Direction
	Volume     decimal.Decimal
	LimitPrice decimal.NullDecimal
	StopLoss   decimal.NullDecimal
	TakeProfit decimal.NullDecimal
	Leverage   decimal.NullDecimal

	// Price is the reference price: the limit price when set, otherwise
	// the close of the current bar.
	Price decimal.Decimal

	// Available is the account's available balance.
	Available decimal.Decimal
	// Holdings is the spot quantity free to sell.
	Holdings decimal.Decimal
}

// Evaluate checks a request against r. The returned error is reserved for
// catalog misconfiguration; rule failures are reported as violations.
func Evaluate(r TradingRules, req Request) (Decision, error) {
	d := Decision{Allowed: true}

	if !req.Volume.IsPositive() {
		d.add(CodeBadVolume, fmt.Sprintf("volume %s must be positive", req.Volume))
		return d, nil
	}
	if req.LimitPrice.Valid && !req.LimitPrice.Decimal.IsPositive() {
		d.add(CodeBadPrice, fmt.Sprintf("limit price %s must be positive", req.LimitPrice.Decimal))
		return d, nil
	}
	if !req.Price.IsPositive() {
		d.add(CodeBadPrice, fmt.Sprintf("reference price %s must be positive", req.Price))
		return d, nil
	}

	switch req.Direction {
	case order.Long:
		if !r.AllowLong {
			d.add(CodeDirectionNotAllowed, fmt.Sprintf("long not allowed on %s", r.Pair))
		}
	case order.Short:
		if !r.AllowShort {
			d.add(CodeDirectionNotAllowed, fmt.Sprintf("short not allowed on %s", r.Pair))
		}
	default:
		d.add(CodeDirectionNotAllowed, fmt.Sprintf("unknown direction %q", req.Direction))
	}

	if req.Volume.LessThan(r.MinVolume) {
		d.add(CodeBelowMinVolume, fmt.Sprintf("volume %s below minimum %s", req.Volume, r.MinVolume))
	}

	d.Notional = req.Volume.Mul(req.Price).Mul(r.Contract())
	if d.Notional.LessThan(r.MinNotional) {
		d.add(CodeBelowMinNotional, fmt.Sprintf("notional %s below minimum %s", d.Notional, r.MinNotional))
	}

	if req.Leverage.Valid && r.LeverageType == MarginMultiplier {
		lev := req.Leverage.Decimal
		if !lev.IsPositive() || lev.GreaterThan(r.LeverageValue) {
			d.add(CodeLeverageTooHigh, fmt.Sprintf("leverage %s outside (0, %s]", lev, r.LeverageValue))
			return d, nil
		}
	}

	checkTriggers(&d, req)

	var err error
	switch req.Kind {
	case order.Trading:
		d.Margin, err = r.Margin(req.Leverage, req.Volume, req.Price)
		if err != nil {
			return d, err
		}
		if d.Margin.LessThan(r.MinMargin) {
			d.add(CodeBelowMinMargin, fmt.Sprintf("margin %s below minimum %s", d.Margin, r.MinMargin))
		}
		d.Reserve = d.Margin
	case order.Spot:
		if req.Direction == order.Long {
			d.Reserve = d.Notional
		} else if req.Volume.GreaterThan(req.Holdings) {
			d.add(CodeInsufficientHoldings, fmt.Sprintf("sell %s exceeds holdings %s", req.Volume, req.Holdings))
		}
	default:
		d.add(CodeBadKind, fmt.Sprintf("unknown order kind %q", req.Kind))
		return d, nil
	}

	d.CreateFee, err = r.Fee(OnCreate, req.Volume, req.Price, d.Margin)
	if err != nil {
		return d, err
	}

	if need := d.Reserve.Add(d.CreateFee); need.GreaterThan(req.Available) {
		d.add(CodeInsufficientFunds, fmt.Sprintf("needs %s, available %s", need, req.Available))
	}
	return d, nil
}

// checkTriggers requires stop-loss and take-profit on the losing and winning
// side of the reference price. Spot orders carry neither.
func checkTriggers(d *Decision, req Request) {
	if req.Kind == order.Spot {
		if req.StopLoss.Valid {
			d.add(CodeInvalidStop, "spot orders do not take a stop-loss")
		}
		if req.TakeProfit.Valid {
			d.add(CodeInvalidTarget, "spot orders do not take a take-profit")
		}
		return
	}

	long := req.Direction == order.Long
	if sl := req.StopLoss; sl.Valid {
		bad := !sl.Decimal.IsPositive() ||
			(long && sl.Decimal.GreaterThanOrEqual(req.Price)) ||
			(!long && sl.Decimal.LessThanOrEqual(req.Price))
		if bad {
			d.add(CodeInvalidStop, fmt.Sprintf("stop-loss %s on wrong side of %s", sl.Decimal, req.Price))
		}
	}
	if tp := req.TakeProfit; tp.Valid {
		bad := !tp.Decimal.IsPositive() ||
			(long && tp.Decimal.LessThanOrEqual(req.Price)) ||
			(!long && tp.Decimal.GreaterThanOrEqual(req.Price))
		if bad {
			d.add(CodeInvalidTarget, fmt.Sprintf("take-profit %s on wrong side of %s", tp.Decimal, req.Price))
		}
	}
}
