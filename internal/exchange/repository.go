package exchange

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/catalog"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/platform/db"
	"github.com/balcao-erp/balcao-erp/internal/register"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Repository persists exchange records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the exchange commit inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) EnsureMonthOpen(ctx context.Context, month string) error {
	return ledger.EnsureMonthOpenTx(ctx, r.tx, month)
}

func (r *txRepo) GetProductForUpdate(ctx context.Context, productID string) (catalog.Product, error) {
	return catalog.GetProductForUpdateTx(ctx, r.tx, productID)
}

func (r *txRepo) ApplyStockDelta(ctx context.Context, productID, size string, delta int) error {
	return catalog.ApplyStockDeltaTx(ctx, r.tx, productID, size, delta)
}

func (r *txRepo) GetRegisterForUpdate(ctx context.Context, registerID string) (register.Session, error) {
	return register.GetForUpdateTx(ctx, r.tx, registerID)
}

func (r *txRepo) AddRegisterExchangeDifference(ctx context.Context, registerID string, method ledger.PaymentMethod, amount decimal.Decimal) error {
	return register.AddExchangeDifferenceTx(ctx, r.tx, registerID, method, amount)
}

func (r *txRepo) InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error) {
	return ledger.InsertMovementTx(ctx, r.tx, mv)
}

func (r *txRepo) InsertRecord(ctx context.Context, rec Record) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO exchange_records (id, document_number, customer_name, notes, total_in, total_out,
			difference, cash_in_amount, payment_method, register_id, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12)`,
		rec.ID, rec.DocumentNumber, rec.CustomerName, rec.Notes,
		db.DecimalToNumeric(rec.TotalInValue), db.DecimalToNumeric(rec.TotalOutValue),
		db.DecimalToNumeric(rec.Difference), db.DecimalToNumeric(rec.CashInAmount),
		string(rec.PaymentMethod), rec.RegisterID, rec.CreatedBy, rec.CreatedAt)
	if err != nil {
		return err
	}
	for i, item := range rec.Items {
		_, err := r.tx.Exec(ctx,
			`INSERT INTO exchange_items (exchange_id, position, product_id, size, quantity, direction, unit_price, line_value)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, i, item.ProductID, item.Size, item.Quantity, string(item.Direction),
			db.DecimalToNumeric(item.UnitPrice), db.DecimalToNumeric(item.LineValue))
		if err != nil {
			return err
		}
	}
	return nil
}

// GetRecord loads one exchange with its items.
func (r *Repository) GetRecord(ctx context.Context, id string) (Record, error) {
	var rec Record
	var totalIn, totalOut, difference, cashIn pgtype.Numeric
	var method, registerID pgtype.Text
	err := r.pool.QueryRow(ctx,
		`SELECT id, document_number, customer_name, notes, total_in, total_out, difference,
			cash_in_amount, payment_method, register_id, created_by, created_at
		 FROM exchange_records WHERE id = $1`, id).Scan(
		&rec.ID, &rec.DocumentNumber, &rec.CustomerName, &rec.Notes, &totalIn, &totalOut,
		&difference, &cashIn, &method, &registerID, &rec.CreatedBy, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	rec.TotalInValue = db.NumericToDecimal(totalIn)
	rec.TotalOutValue = db.NumericToDecimal(totalOut)
	rec.Difference = db.NumericToDecimal(difference)
	rec.CashInAmount = db.NumericToDecimal(cashIn)
	if method.Valid {
		rec.PaymentMethod = ledger.PaymentMethod(method.String)
	}
	if registerID.Valid {
		rec.RegisterID = registerID.String
	}

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, size, quantity, direction, unit_price, line_value
		 FROM exchange_items WHERE exchange_id = $1 ORDER BY position`, id)
	if err != nil {
		return Record{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		var direction string
		var unitPrice, lineValue pgtype.Numeric
		if err := rows.Scan(&item.ProductID, &item.Size, &item.Quantity, &direction, &unitPrice, &lineValue); err != nil {
			return Record{}, err
		}
		item.Direction = ItemDirection(direction)
		item.UnitPrice = db.NumericToDecimal(unitPrice)
		item.LineValue = db.NumericToDecimal(lineValue)
		rec.Items = append(rec.Items, item)
	}
	return rec, rows.Err()
}
