package register

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
)

// Status enumerates the register session lifecycle. CLOSED is terminal.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// MethodTotals accumulates amounts per payment method during a session.
type MethodTotals struct {
	Dinheiro decimal.Decimal `json:"dinheiro"`
	Debito   decimal.Decimal `json:"debito"`
	Credito  decimal.Decimal `json:"credito"`
	Pix      decimal.Decimal `json:"pix"`
}

// Add accumulates amount under the given method.
func (t *MethodTotals) Add(method ledger.PaymentMethod, amount decimal.Decimal) {
	switch method {
	case ledger.MethodDinheiro:
		t.Dinheiro = t.Dinheiro.Add(amount)
	case ledger.MethodDebito:
		t.Debito = t.Debito.Add(amount)
	case ledger.MethodCredito:
		t.Credito = t.Credito.Add(amount)
	case ledger.MethodPix:
		t.Pix = t.Pix.Add(amount)
	}
}

// Get returns the accumulated amount for a method.
func (t MethodTotals) Get(method ledger.PaymentMethod) decimal.Decimal {
	switch method {
	case ledger.MethodDinheiro:
		return t.Dinheiro
	case ledger.MethodDebito:
		return t.Debito
	case ledger.MethodCredito:
		return t.Credito
	case ledger.MethodPix:
		return t.Pix
	default:
		return decimal.Zero
	}
}

// Session is one bounded operator shift.
type Session struct {
	ID             string           `json:"id"`
	OperatorID     string           `json:"operatorId"`
	OpenedAt       time.Time        `json:"openedAt"`
	ClosedAt       *time.Time       `json:"closedAt,omitempty"`
	OpeningBalance decimal.Decimal  `json:"openingBalance"`
	ClosingBalance *decimal.Decimal `json:"closingBalance,omitempty"`
	Status         Status           `json:"status"`
	Totals         MethodTotals     `json:"totals"`
	SalesCount     int              `json:"salesCount"`
	ExchangeCashIn decimal.Decimal  `json:"exchangeCashIn"`
	ExchangeCount  int              `json:"exchangeCount"`
}

// ExpectedCash is the opening balance plus everything received in cash:
// cash sales and cash exchange differences land in the DINHEIRO total.
func (s Session) ExpectedCash() decimal.Decimal {
	return s.OpeningBalance.Add(s.Totals.Dinheiro)
}

// CloseResult pairs the closed session with the reconciliation figures. The
// variance is recorded, never rejected.
type CloseResult struct {
	Session      Session         `json:"session"`
	ExpectedCash decimal.Decimal `json:"expectedCash"`
	Variance     decimal.Decimal `json:"variance"`
}

// PaymentSplit is one method/amount pair of a sale.
type PaymentSplit struct {
	Method ledger.PaymentMethod
	Amount decimal.Decimal
}
