package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// CartItem is one requested line of a sale.
type CartItem struct {
	ProductID string `json:"productId" validate:"required"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

// Payment is one method/amount pair settling a sale.
type Payment struct {
	Method ledger.PaymentMethod `json:"method"`
	Amount decimal.Decimal      `json:"amount"`
}

// PaymentEntry is one recorded fiado installment.
type PaymentEntry struct {
	Amount decimal.Decimal      `json:"amount"`
	Method ledger.PaymentMethod `json:"method"`
	At     time.Time            `json:"at"`
}

// Input carries everything a checkout needs. The idempotency token is
// client-supplied and mandatory for every mutating call.
type Input struct {
	Items            []CartItem      `json:"items" validate:"min=1,dive"`
	Payments         []Payment       `json:"payments"`
	Discount         decimal.Decimal `json:"discount"`
	ClientID         string          `json:"clientId,omitempty"`
	PayLater         bool            `json:"payLater,omitempty"`
	IdempotencyToken string          `json:"-"`
}

// OrderItem is one immutable sold line.
type OrderItem struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"orderId"`
	ProductID    string          `json:"productId"`
	Size         string          `json:"size,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unitCost"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TotalCost    decimal.Decimal `json:"totalCost"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	Profit       decimal.Decimal `json:"profit"`
}

// Order is the committed sale. Items and totals are immutable after
// creation; only fiado settlement may touch the payment fields later.
type Order struct {
	ID              string          `json:"id"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	TotalCost       decimal.Decimal `json:"totalCost"`
	Payments        []Payment       `json:"payments,omitempty"`
	Items           []OrderItem     `json:"items,omitempty"`
	OperatorID      string          `json:"operatorId"`
	ClientID        string          `json:"clientId,omitempty"`
	IsPaidLater     bool            `json:"isPaidLater"`
	AmountPaid      decimal.Decimal `json:"amountPaid"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	PaymentHistory  []PaymentEntry  `json:"paymentHistory,omitempty"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Validate checks the static shape of the request before any state is read.
func (in Input) Validate(actor shared.Actor) error {
	if !actor.CanSell() {
		return shared.ErrForbidden
	}
	if in.IdempotencyToken == "" {
		return shared.ErrMissingIdempotencyToken
	}
	if len(in.Items) == 0 {
		return shared.ErrInvalidQuantity
	}
	for _, item := range in.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return shared.ErrInvalidQuantity
		}
	}
	if in.Discount.IsNegative() {
		return shared.ErrInvalidAmount
	}
	if in.Discount.IsPositive() && !actor.IsAdmin() {
		return shared.ErrForbidden
	}
	if in.PayLater {
		if !actor.IsAdmin() {
			return shared.ErrForbidden
		}
		if in.ClientID == "" {
			return shared.ErrNotFound
		}
		if len(in.Payments) > 0 {
			return shared.ErrInvalidAmount
		}
		return nil
	}
	if len(in.Payments) == 0 {
		return shared.ErrInvalidAmount
	}
	for _, p := range in.Payments {
		if !ledger.ValidMethod(p.Method) || !p.Amount.IsPositive() {
			return shared.ErrInvalidAmount
		}
	}
	return nil
}

// PaymentsTotal sums the payment splits.
func (in Input) PaymentsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range in.Payments {
		total = total.Add(p.Amount)
	}
	return total
}
