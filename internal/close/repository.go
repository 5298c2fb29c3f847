package close

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/catalog"
	"github.com/balcao-erp/balcao-erp/internal/clients"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/platform/db"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Repository persists financial closures in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the close inside a transaction so the aggregation
// and the closure insert see one consistent instant.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

// LockMonth takes the exclusive advisory lock on the month. Engine postings
// hold the same key in shared mode, so the close waits for in-flight
// transactions to finish and blocks new ones until it commits.
func (r *txRepo) LockMonth(ctx context.Context, month string) error {
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, month)
	return err
}

func (r *txRepo) AggregateMonth(ctx context.Context, month string) (ledger.MonthSummary, error) {
	return ledger.AggregateMonthTx(ctx, r.tx, month)
}

func (r *txRepo) TotalInventoryValue(ctx context.Context) (decimal.Decimal, error) {
	value, err := catalog.TotalInventoryValueTx(ctx, r.tx)
	if err != nil {
		return decimal.Zero, err
	}
	return db.NumericToDecimal(value), nil
}

func (r *txRepo) FiadoOutstanding(ctx context.Context) (decimal.Decimal, error) {
	return clients.FiadoOutstandingTx(ctx, r.tx)
}

// InsertClosure writes the lock row. The primary key on month makes a repeat
// close fail as AlreadyClosed.
func (r *txRepo) InsertClosure(ctx context.Context, c Closure) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO financial_closures (month, revenue, cogs, gross_profit, expenses, net_result,
			cash_in, cash_out, inventory_value, fiado_outstanding, closed_by, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.Month, db.DecimalToNumeric(c.Revenue), db.DecimalToNumeric(c.COGS),
		db.DecimalToNumeric(c.GrossProfit), db.DecimalToNumeric(c.Expenses),
		db.DecimalToNumeric(c.NetResult), db.DecimalToNumeric(c.CashIn),
		db.DecimalToNumeric(c.CashOut), db.DecimalToNumeric(c.InventoryValue),
		db.DecimalToNumeric(c.FiadoOutstanding), c.ClosedBy, c.ClosedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrAlreadyClosed
	}
	return err
}

const closureColumns = `month, revenue, cogs, gross_profit, expenses, net_result,
	cash_in, cash_out, inventory_value, fiado_outstanding, closed_by, closed_at`

// Get loads one closure.
func (r *Repository) Get(ctx context.Context, month string) (Closure, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+closureColumns+` FROM financial_closures WHERE month = $1`, month)
	c, err := scanClosure(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Closure{}, shared.ErrNotFound
		}
		return Closure{}, err
	}
	return c, nil
}

// List returns all closures, most recent month first.
func (r *Repository) List(ctx context.Context) ([]Closure, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+closureColumns+` FROM financial_closures ORDER BY month DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	closures := []Closure{}
	for rows.Next() {
		c, err := scanClosure(rows)
		if err != nil {
			return nil, err
		}
		closures = append(closures, c)
	}
	return closures, rows.Err()
}

func scanClosure(row pgx.Row) (Closure, error) {
	var c Closure
	var revenue, cogs, gross, expenses, net, cashIn, cashOut, inventory, fiado pgtype.Numeric
	err := row.Scan(&c.Month, &revenue, &cogs, &gross, &expenses, &net,
		&cashIn, &cashOut, &inventory, &fiado, &c.ClosedBy, &c.ClosedAt)
	if err != nil {
		return Closure{}, err
	}
	c.Revenue = db.NumericToDecimal(revenue)
	c.COGS = db.NumericToDecimal(cogs)
	c.GrossProfit = db.NumericToDecimal(gross)
	c.Expenses = db.NumericToDecimal(expenses)
	c.NetResult = db.NumericToDecimal(net)
	c.CashIn = db.NumericToDecimal(cashIn)
	c.CashOut = db.NumericToDecimal(cashOut)
	c.InventoryValue = db.NumericToDecimal(inventory)
	c.FiadoOutstanding = db.NumericToDecimal(fiado)
	return c, nil
}
