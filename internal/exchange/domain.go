package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// ItemDirection marks whether an item returns to stock or leaves with the
// customer.
type ItemDirection string

const (
	DirectionIn  ItemDirection = "IN"
	DirectionOut ItemDirection = "OUT"
)

// ItemInput is one requested exchange line.
type ItemInput struct {
	ProductID string        `json:"productId" validate:"required"`
	Size      string        `json:"size,omitempty"`
	Quantity  int           `json:"quantity" validate:"min=1"`
	Direction ItemDirection `json:"direction" validate:"oneof=IN OUT"`
}

// Input carries an exchange request.
type Input struct {
	Items            []ItemInput          `json:"items" validate:"min=1,dive"`
	DocumentNumber   string               `json:"documentNumber,omitempty"`
	CustomerName     string               `json:"customerName,omitempty"`
	Notes            string               `json:"notes,omitempty"`
	PaymentMethod    ledger.PaymentMethod `json:"paymentMethod,omitempty"`
	RegisterID       string               `json:"registerId,omitempty"`
	IdempotencyToken string               `json:"-"`
}

// Item is one committed exchange line, priced at the product's sale price.
type Item struct {
	ProductID string          `json:"productId"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity"`
	Direction ItemDirection   `json:"direction"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineValue decimal.Decimal `json:"lineValue"`
}

// Record is the immutable committed exchange.
type Record struct {
	ID             string               `json:"id"`
	DocumentNumber string               `json:"documentNumber"`
	CustomerName   string               `json:"customerName,omitempty"`
	Notes          string               `json:"notes,omitempty"`
	Items          []Item               `json:"items"`
	TotalInValue   decimal.Decimal      `json:"totalInValue"`
	TotalOutValue  decimal.Decimal      `json:"totalOutValue"`
	Difference     decimal.Decimal      `json:"difference"`
	CashInAmount   decimal.Decimal      `json:"cashInAmount"`
	PaymentMethod  ledger.PaymentMethod `json:"paymentMethod,omitempty"`
	RegisterID     string               `json:"registerId,omitempty"`
	CreatedBy      string               `json:"createdBy"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// Validate checks the static shape of the request.
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
		if item.Direction != DirectionIn && item.Direction != DirectionOut {
			return shared.ErrInvalidQuantity
		}
	}
	if in.PaymentMethod != "" && !ledger.ValidMethod(in.PaymentMethod) {
		return shared.ErrPaymentMethodRequired
	}
	return nil
}
