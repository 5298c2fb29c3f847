package ledger

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates the money events recorded in the ledger.
type MovementType string

const (
	MovementSaleRevenue        MovementType = "SALE_REVENUE"
	MovementCOGS               MovementType = "COGS"
	MovementStockPurchase      MovementType = "STOCK_PURCHASE"
	MovementOperatingExpense   MovementType = "OPERATING_EXPENSE"
	MovementFiadoPayment       MovementType = "FIADO_PAYMENT"
	MovementExchangeDifference MovementType = "EXCHANGE_DIFFERENCE"
	MovementRefund             MovementType = "REFUND"
	MovementAdjustment         MovementType = "ADJUSTMENT"
)

// Direction marks whether money flowed into or out of the store.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// PaymentMethod enumerates accepted settlement methods.
type PaymentMethod string

const (
	MethodDinheiro PaymentMethod = "DINHEIRO"
	MethodDebito   PaymentMethod = "DEBITO"
	MethodCredito  PaymentMethod = "CREDITO"
	MethodPix      PaymentMethod = "PIX"
)

// ValidMethod reports whether m is one of the accepted payment methods.
func ValidMethod(m PaymentMethod) bool {
	switch m {
	case MethodDinheiro, MethodDebito, MethodCredito, MethodPix:
		return true
	default:
		return false
	}
}

// Movement is one append-only money event tagged with its competency month.
type Movement struct {
	ID         string          `json:"id"`
	Type       MovementType    `json:"type"`
	Direction  Direction       `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method,omitempty"`
	RefKind    string          `json:"refKind,omitempty"`
	RefID      string          `json:"refId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Month      string          `json:"month"`
	CreatedBy  string          `json:"createdBy"`
	Meta       map[string]any  `json:"meta,omitempty"`
}

// MonthSummary aggregates movements of a single competency month.
type MonthSummary struct {
	Month    string          `json:"month"`
	Revenue  decimal.Decimal `json:"revenue"`
	COGS     decimal.Decimal `json:"cogs"`
	Expenses decimal.Decimal `json:"expenses"`
	CashIn   decimal.Decimal `json:"cashIn"`
	CashOut  decimal.Decimal `json:"cashOut"`
}

// GrossProfit is revenue minus cost of goods sold.
func (s MonthSummary) GrossProfit() decimal.Decimal {
	return s.Revenue.Sub(s.COGS)
}

// NetResult is gross profit minus operating expenses.
func (s MonthSummary) NetResult() decimal.Decimal {
	return s.GrossProfit().Sub(s.Expenses)
}

// CompetencyMonth derives the YYYY-MM accounting month of a UTC instant.
func CompetencyMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ValidMonth reports whether month matches the YYYY-MM pattern.
func ValidMonth(month string) bool {
	return monthPattern.MatchString(month)
}

// ListFilter narrows movement listings.
type ListFilter struct {
	Month string
	Type  MovementType
	Limit int
}

// RecordInput describes a manual ledger posting (stock purchases, operating
// expenses, refunds, adjustments).
type RecordInput struct {
	Type       MovementType    `json:"type" validate:"required"`
	Direction  Direction       `json:"direction" validate:"oneof=IN OUT"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method,omitempty"`
	RefKind    string          `json:"refKind,omitempty"`
	RefID      string          `json:"refId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt,omitempty"`
	Meta       map[string]any  `json:"meta,omitempty"`
}
