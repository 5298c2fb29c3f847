package fiado

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/clients"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/platform/db"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Repository persists fiado settlements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the settlement inside a transaction.
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

func (r *txRepo) GetOrderForUpdate(ctx context.Context, orderID string) (DeferredOrder, error) {
	var order DeferredOrder
	var total, paid, remaining pgtype.Numeric
	var clientID pgtype.Text
	var paidAt pgtype.Timestamptz
	err := r.tx.QueryRow(ctx,
		`SELECT id, client_id, total_amount, amount_paid, remaining_amount, is_paid_later, paid_at
		 FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(
		&order.ID, &clientID, &total, &paid, &remaining, &order.IsPaidLater, &paidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeferredOrder{}, shared.ErrNotFound
		}
		return DeferredOrder{}, err
	}
	if clientID.Valid {
		order.ClientID = clientID.String
	}
	order.TotalAmount = db.NumericToDecimal(total)
	order.AmountPaid = db.NumericToDecimal(paid)
	order.RemainingAmount = db.NumericToDecimal(remaining)
	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}
	return order, nil
}

func (r *txRepo) ApplySettlement(ctx context.Context, orderID string, amountPaid, remaining decimal.Decimal, paidAt *time.Time) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE orders SET amount_paid = $2, remaining_amount = $3, paid_at = COALESCE($4, paid_at)
		 WHERE id = $1`,
		orderID, db.DecimalToNumeric(amountPaid), db.DecimalToNumeric(remaining), paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertPaymentEntry(ctx context.Context, orderID string, amount decimal.Decimal, method ledger.PaymentMethod, at time.Time) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO fiado_payments (order_id, amount, method, paid_at) VALUES ($1, $2, $3, $4)`,
		orderID, db.DecimalToNumeric(amount), string(method), at)
	return err
}

func (r *txRepo) DecrementClientBalance(ctx context.Context, clientID string, amount decimal.Decimal) error {
	return clients.DecrementBalanceTx(ctx, r.tx, clientID, amount)
}

func (r *txRepo) InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error) {
	return ledger.InsertMovementTx(ctx, r.tx, mv)
}

// ListOutstanding returns a client's unpaid deferred orders, oldest first.
func (r *Repository) ListOutstanding(ctx context.Context, clientID string) ([]DeferredOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, client_id, total_amount, amount_paid, remaining_amount, is_paid_later, paid_at
		 FROM orders
		 WHERE client_id = $1 AND is_paid_later AND remaining_amount > 0
		 ORDER BY created_at`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []DeferredOrder{}
	for rows.Next() {
		var order DeferredOrder
		var total, paid, remaining pgtype.Numeric
		var paidAt pgtype.Timestamptz
		if err := rows.Scan(&order.ID, &order.ClientID, &total, &paid, &remaining, &order.IsPaidLater, &paidAt); err != nil {
			return nil, err
		}
		order.TotalAmount = db.NumericToDecimal(total)
		order.AmountPaid = db.NumericToDecimal(paid)
		order.RemainingAmount = db.NumericToDecimal(remaining)
		if paidAt.Valid {
			t := paidAt.Time
			order.PaidAt = &t
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
