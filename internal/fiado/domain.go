// Package fiado settles deferred (pay-later) orders: partial or full payments
// applied against an order's remaining balance, mirrored onto the client's
// running balance and the financial ledger.
package fiado

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// DeferredOrder is the settlement-relevant slice of an order row.
type DeferredOrder struct {
	ID              string          `json:"id"`
	ClientID        string          `json:"clientId"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	AmountPaid      decimal.Decimal `json:"amountPaid"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	IsPaidLater     bool            `json:"isPaidLater"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
}

// Input carries a settlement request. The token comes from the
// X-Idempotency-Key header, never the body, so it stays out of the
// request hash.
type Input struct {
	ClientID string               `json:"clientId"`
	OrderID  string               `json:"orderId"`
	Amount   decimal.Decimal      `json:"amount"`
	Method   ledger.PaymentMethod `json:"method"`

	IdempotencyToken string `json:"-"`
}

// Validate checks the static shape of the request.
func (in Input) Validate(actor shared.Actor) error {
	if !actor.CanSell() {
		return shared.ErrForbidden
	}
	if in.ClientID == "" || in.OrderID == "" {
		return shared.ErrNotFound
	}
	if !in.Amount.IsPositive() {
		return shared.ErrInvalidAmount
	}
	if !ledger.ValidMethod(in.Method) {
		return shared.ErrPaymentMethodRequired
	}
	if in.IdempotencyToken == "" {
		return shared.ErrMissingIdempotencyToken
	}
	return nil
}

// Receipt reports the settlement outcome. AppliedAmount may be lower than the
// requested amount: overpayment is clamped to the remaining balance.
type Receipt struct {
	OrderID         string               `json:"orderId"`
	ClientID        string               `json:"clientId"`
	AppliedAmount   decimal.Decimal      `json:"appliedAmount"`
	AmountPaid      decimal.Decimal      `json:"amountPaid"`
	RemainingAmount decimal.Decimal      `json:"remainingAmount"`
	Method          ledger.PaymentMethod `json:"method"`
	Settled         bool                 `json:"settled"`
	PaidAt          *time.Time           `json:"paidAt,omitempty"`
	RecordedAt      time.Time            `json:"recordedAt"`
}
