// Package reporting rolls up orders, ledger movements and register sessions
// into read-only period reports. It mutates nothing.
package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// DRE is the monthly profit-and-loss statement.
type DRE struct {
	Month         string          `json:"month"`
	Revenue       decimal.Decimal `json:"revenue"`
	COGS          decimal.Decimal `json:"cogs"`
	GrossProfit   decimal.Decimal `json:"grossProfit"`
	Expenses      decimal.Decimal `json:"expenses"`
	NetResult     decimal.Decimal `json:"netResult"`
	OrdersCount   int             `json:"ordersCount"`
	AverageTicket decimal.Decimal `json:"averageTicket"`
}

// CashFlowPoint is one month of cash movement.
type CashFlowPoint struct {
	Month string          `json:"month"`
	In    decimal.Decimal `json:"in"`
	Out   decimal.Decimal `json:"out"`
	Net   decimal.Decimal `json:"net"`
}

// InventoryTurnover relates a month's cost of goods sold to the stock on hand.
type InventoryTurnover struct {
	Month          string          `json:"month"`
	COGS           decimal.Decimal `json:"cogs"`
	InventoryValue decimal.Decimal `json:"inventoryValue"`
	Ratio          decimal.Decimal `json:"ratio"`
	UnitsSold      int             `json:"unitsSold"`
}

// RegisterVarianceRow is one closed session's declared-vs-expected cash.
type RegisterVarianceRow struct {
	RegisterID     string          `json:"registerId"`
	OperatorID     string          `json:"operatorId"`
	OpenedAt       time.Time       `json:"openedAt"`
	ClosedAt       time.Time       `json:"closedAt"`
	ExpectedCash   decimal.Decimal `json:"expectedCash"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	Variance       decimal.Decimal `json:"variance"`
}

// Overview bundles the month's reports for the dashboard endpoint.
type Overview struct {
	DRE       DRE                   `json:"dre"`
	CashFlow  []CashFlowPoint       `json:"cashFlow"`
	Turnover  InventoryTurnover     `json:"turnover"`
	Registers []RegisterVarianceRow `json:"registers"`
}
