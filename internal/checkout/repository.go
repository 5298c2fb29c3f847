package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/balcao-erp/balcao-erp/internal/catalog"
	"github.com/balcao-erp/balcao-erp/internal/clients"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/platform/db"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the checkout commit inside a transaction.
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

func (r *txRepo) ClientExists(ctx context.Context, clientID string) error {
	return clients.ExistsTx(ctx, r.tx, clientID)
}

func (r *txRepo) InsertOrder(ctx context.Context, order Order) error {
	var paidAt *time.Time
	if order.PaidAt != nil {
		paidAt = order.PaidAt
	}
	_, err := r.tx.Exec(ctx,
		`INSERT INTO orders (id, subtotal, discount, total_amount, total_cost, operator_id, client_id,
			is_paid_later, amount_paid, remaining_amount, paid_at, balance_applied, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, FALSE, $12)`,
		order.ID, db.DecimalToNumeric(order.Subtotal), db.DecimalToNumeric(order.Discount),
		db.DecimalToNumeric(order.TotalAmount), db.DecimalToNumeric(order.TotalCost),
		order.OperatorID, order.ClientID, order.IsPaidLater,
		db.DecimalToNumeric(order.AmountPaid), db.DecimalToNumeric(order.RemainingAmount),
		paidAt, order.CreatedAt)
	if err != nil {
		return err
	}
	for _, p := range order.Payments {
		_, err := r.tx.Exec(ctx,
			`INSERT INTO order_payments (order_id, method, amount, recorded_at) VALUES ($1, $2, $3, $4)`,
			order.ID, string(p.Method), db.DecimalToNumeric(p.Amount), order.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) InsertOrderItems(ctx context.Context, items []OrderItem) error {
	for _, item := range items {
		_, err := r.tx.Exec(ctx,
			`INSERT INTO order_items (id, order_id, product_id, size, quantity, unit_cost, unit_price,
				total_cost, total_revenue, profit)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			item.ID, item.OrderID, item.ProductID, item.Size, item.Quantity,
			db.DecimalToNumeric(item.UnitCost), db.DecimalToNumeric(item.UnitPrice),
			db.DecimalToNumeric(item.TotalCost), db.DecimalToNumeric(item.TotalRevenue),
			db.DecimalToNumeric(item.Profit))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error) {
	return ledger.InsertMovementTx(ctx, r.tx, mv)
}

// GetOrder loads one order with payments, items and fiado history.
func (r *Repository) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var order Order
	var subtotal, discount, total, cost, paid, remaining pgtype.Numeric
	var clientID pgtype.Text
	var paidAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx,
		`SELECT id, subtotal, discount, total_amount, total_cost, operator_id, client_id,
			is_paid_later, amount_paid, remaining_amount, paid_at, created_at
		 FROM orders WHERE id = $1`, orderID).Scan(
		&order.ID, &subtotal, &discount, &total, &cost, &order.OperatorID, &clientID,
		&order.IsPaidLater, &paid, &remaining, &paidAt, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.ErrNotFound
		}
		return Order{}, err
	}
	order.Subtotal = db.NumericToDecimal(subtotal)
	order.Discount = db.NumericToDecimal(discount)
	order.TotalAmount = db.NumericToDecimal(total)
	order.TotalCost = db.NumericToDecimal(cost)
	order.AmountPaid = db.NumericToDecimal(paid)
	order.RemainingAmount = db.NumericToDecimal(remaining)
	if clientID.Valid {
		order.ClientID = clientID.String
	}
	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}

	rows, err := r.pool.Query(ctx,
		`SELECT method, amount, recorded_at FROM order_payments WHERE order_id = $1 ORDER BY recorded_at`, orderID)
	if err != nil {
		return Order{}, err
	}
	for rows.Next() {
		var method string
		var amount pgtype.Numeric
		var at time.Time
		if err := rows.Scan(&method, &amount, &at); err != nil {
			rows.Close()
			return Order{}, err
		}
		order.Payments = append(order.Payments, Payment{
			Method: ledger.PaymentMethod(method),
			Amount: db.NumericToDecimal(amount),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Order{}, err
	}

	rows, err = r.pool.Query(ctx,
		`SELECT id, product_id, size, quantity, unit_cost, unit_price, total_cost, total_revenue, profit
		 FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item := OrderItem{OrderID: orderID}
		var unitCost, unitPrice, totalCost, totalRevenue, profit pgtype.Numeric
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Size, &item.Quantity,
			&unitCost, &unitPrice, &totalCost, &totalRevenue, &profit); err != nil {
			return Order{}, err
		}
		item.UnitCost = db.NumericToDecimal(unitCost)
		item.UnitPrice = db.NumericToDecimal(unitPrice)
		item.TotalCost = db.NumericToDecimal(totalCost)
		item.TotalRevenue = db.NumericToDecimal(totalRevenue)
		item.Profit = db.NumericToDecimal(profit)
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Order{}, err
	}

	if order.IsPaidLater {
		history, err := loadPaymentHistory(ctx, r.pool, orderID)
		if err != nil {
			return Order{}, err
		}
		order.PaymentHistory = history
	}
	return order, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadPaymentHistory(ctx context.Context, q querier, orderID string) ([]PaymentEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT amount, method, paid_at FROM fiado_payments WHERE order_id = $1 ORDER BY paid_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	history := []PaymentEntry{}
	for rows.Next() {
		var entry PaymentEntry
		var amount pgtype.Numeric
		var method string
		if err := rows.Scan(&amount, &method, &entry.At); err != nil {
			return nil, err
		}
		entry.Amount = db.NumericToDecimal(amount)
		entry.Method = ledger.PaymentMethod(method)
		history = append(history, entry)
	}
	return history, rows.Err()
}
