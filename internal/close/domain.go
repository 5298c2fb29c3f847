// Package close freezes competency months. A closure row is the lock: once
// it exists, no financial movement dated inside that month may be written.
package close

import (
	"time"

	"github.com/shopspring/decimal"
)

// Closure is the immutable snapshot taken when a month is locked.
type Closure struct {
	Month            string          `json:"month"`
	Revenue          decimal.Decimal `json:"revenue"`
	COGS             decimal.Decimal `json:"cogs"`
	GrossProfit      decimal.Decimal `json:"grossProfit"`
	Expenses         decimal.Decimal `json:"expenses"`
	NetResult        decimal.Decimal `json:"netResult"`
	CashIn           decimal.Decimal `json:"cashIn"`
	CashOut          decimal.Decimal `json:"cashOut"`
	InventoryValue   decimal.Decimal `json:"inventoryValue"`
	FiadoOutstanding decimal.Decimal `json:"fiadoOutstanding"`
	ClosedBy         string          `json:"closedBy"`
	ClosedAt         time.Time       `json:"closedAt"`
}
