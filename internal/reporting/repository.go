package reporting

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/platform/db"
)

// Repository runs the read-only aggregation queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// OrderStats counts a month's orders and their summed totals.
func (r *Repository) OrderStats(ctx context.Context, month string) (count int, total decimal.Decimal, err error) {
	var sum pgtype.Numeric
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_amount), 0)
		 FROM orders WHERE to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM') = $1`, month).Scan(&count, &sum)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return count, db.NumericToDecimal(sum), nil
}

// UnitsSold sums item quantities across a month's orders.
func (r *Repository) UnitsSold(ctx context.Context, month string) (int, error) {
	var units int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(oi.quantity), 0)
		 FROM order_items oi JOIN orders o ON o.id = oi.order_id
		 WHERE to_char(o.created_at AT TIME ZONE 'UTC', 'YYYY-MM') = $1`, month).Scan(&units)
	return units, err
}

// InventoryValue is the current stock-at-cost value across all products.
func (r *Repository) InventoryValue(ctx context.Context) (decimal.Decimal, error) {
	var value pgtype.Numeric
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(stock * cost_price), 0) FROM products`).Scan(&value)
	if err != nil {
		return decimal.Zero, err
	}
	return db.NumericToDecimal(value), nil
}

// CashFlow groups ledger movements per month between from and to inclusive.
func (r *Repository) CashFlow(ctx context.Context, from, to string) ([]CashFlowPoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT month,
			COALESCE(SUM(amount) FILTER (WHERE direction = 'IN'), 0),
			COALESCE(SUM(amount) FILTER (WHERE direction = 'OUT'), 0)
		 FROM financial_movements
		 WHERE month BETWEEN $1 AND $2
		 GROUP BY month ORDER BY month`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	points := []CashFlowPoint{}
	for rows.Next() {
		var p CashFlowPoint
		var in, out pgtype.Numeric
		if err := rows.Scan(&p.Month, &in, &out); err != nil {
			return nil, err
		}
		p.In = db.NumericToDecimal(in)
		p.Out = db.NumericToDecimal(out)
		p.Net = p.In.Sub(p.Out)
		points = append(points, p)
	}
	return points, rows.Err()
}

// RegisterVariances lists a month's closed sessions with their expected cash
// (opening balance plus cash totals) against the declared closing balance.
func (r *Repository) RegisterVariances(ctx context.Context, month string) ([]RegisterVarianceRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, operator_id, opened_at, closed_at, opening_balance, total_dinheiro, closing_balance
		 FROM cash_registers
		 WHERE status = 'CLOSED' AND to_char(closed_at AT TIME ZONE 'UTC', 'YYYY-MM') = $1
		 ORDER BY closed_at`, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	variances := []RegisterVarianceRow{}
	for rows.Next() {
		var row RegisterVarianceRow
		var opening, dinheiro, closing pgtype.Numeric
		if err := rows.Scan(&row.RegisterID, &row.OperatorID, &row.OpenedAt, &row.ClosedAt,
			&opening, &dinheiro, &closing); err != nil {
			return nil, err
		}
		row.ExpectedCash = db.NumericToDecimal(opening).Add(db.NumericToDecimal(dinheiro))
		row.ClosingBalance = db.NumericToDecimal(closing)
		row.Variance = row.ClosingBalance.Sub(row.ExpectedCash)
		variances = append(variances, row)
	}
	return variances, rows.Err()
}
