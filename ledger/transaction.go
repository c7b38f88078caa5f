// Package ledger is the append-only record of every balance change and the
// reconciler that derives balances from it.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeBalance  = errors.New("negative balance")
	ErrEmptyDescription = errors.New("transaction description is required")
	ErrRunMismatch      = errors.New("transaction belongs to another account or run")
)

type TxType string

const (
	ReserveMargin TxType = "RESERVE_MARGIN"
	ReturnMargin  TxType = "RETURN_MARGIN"
	FeeCreate     TxType = "FEE_CREATE"
	FeeFill       TxType = "FEE_FILL"
	FeeClose      TxType = "FEE_CLOSE"
	FeeCancel     TxType = "FEE_CANCEL"
	FillBuy       TxType = "FILL_BUY"
	FillSell      TxType = "FILL_SELL"
	ClosePnL      TxType = "CLOSE_PNL"
	SpotExchange  TxType = "SPOT_EXCHANGE"
	OvernightFee  TxType = "OVERNIGHT_FEE"
	Adjustment    TxType = "ADJUSTMENT"
)

// TxTypes lists every transaction type.
var TxTypes = []TxType{
	ReserveMargin, ReturnMargin,
	FeeCreate, FeeFill, FeeClose, FeeCancel,
	FillBuy, FillSell, ClosePnL, SpotExchange,
	OvernightFee, Adjustment,
}

func (t TxType) Valid() bool {
	for _, v := range TxTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Transaction is one balance-affecting event. Seq is assigned by the ledger
// on append and breaks timestamp ties in insertion order.
type Transaction struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	AccountID string `json:"account_id"`
	RunID     string `json:"run_id"`
	// OrderID is empty for account-level events such as deposits.
	OrderID string    `json:"order_id,omitempty"`
	Time    time.Time `json:"time"`
	Type    TxType    `json:"type"`

	Description       string          `json:"description"`
	AvailableChange   decimal.Decimal `json:"available_change"`
	UnavailableChange decimal.Decimal `json:"unavailable_change"`
}

// Validate checks a transaction before it is appended.
func (t Transaction) Validate() error {
	if t.AccountID == "" || t.RunID == "" {
		return errors.New("transaction account and run are required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("unknown transaction type %q", t.Type)
	}
	if t.Description == "" {
		return ErrEmptyDescription
	}
	if t.Time.IsZero() {
		return errors.New("transaction timestamp is required")
	}
	return nil
}

// TotalChange is the net effect on total balance.
func (t Transaction) TotalChange() decimal.Decimal {
	return t.AvailableChange.Add(t.UnavailableChange)
}

// Before orders by timestamp, then by insertion.
func (t Transaction) Before(o Transaction) bool {
	if !t.Time.Equal(o.Time) {
		return t.Time.Before(o.Time)
	}
	return t.Seq < o.Seq
}
