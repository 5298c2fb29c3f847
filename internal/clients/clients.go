// Package clients owns the per-client running balance used by deferred
// (fiado) sales. Client directory maintenance lives outside the ledger core;
// only balance reads and balance mutations pass through here.
package clients

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/platform/db"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Client carries the fields the ledger core needs. Balance is positive when
// the client owes the store.
type Client struct {
	ID      string
	Name    string
	Balance decimal.Decimal
}

// Repository persists client balances in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one client.
func (r *Repository) Get(ctx context.Context, clientID string) (Client, error) {
	var c Client
	var balance pgtype.Numeric
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, balance FROM clients WHERE id = $1`, clientID).Scan(&c.ID, &c.Name, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, shared.ErrNotFound
		}
		return Client{}, err
	}
	c.Balance = db.NumericToDecimal(balance)
	return c, nil
}

// ExistsTx checks the client inside a transaction.
func ExistsTx(ctx context.Context, tx pgx.Tx, clientID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, clientID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return shared.ErrNotFound
	}
	return nil
}

// DecrementBalanceTx lowers the client balance inside the caller's
// transaction, used by fiado settlement.
func DecrementBalanceTx(ctx context.Context, tx pgx.Tx, clientID string, amount decimal.Decimal) error {
	tag, err := tx.Exec(ctx,
		`UPDATE clients SET balance = balance - $2 WHERE id = $1`, clientID, db.DecimalToNumeric(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ApplyDeferredSale increments the client balance for a pay-later order
// exactly once. The order row carries a balance_applied marker so retried
// projection tasks cannot double-apply the increment.
func (r *Repository) ApplyDeferredSale(ctx context.Context, orderID, clientID string, amount decimal.Decimal) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE orders SET balance_applied = TRUE WHERE id = $1 AND client_id = $2 AND balance_applied = FALSE`,
			orderID, clientID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// Already applied or unknown order; either way nothing to do.
			return nil
		}
		tag, err = tx.Exec(ctx,
			`UPDATE clients SET balance = balance + $2 WHERE id = $1`, clientID, db.DecimalToNumeric(amount))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// FiadoOutstandingTx sums remaining amounts of unpaid deferred orders inside
// a transaction, for the monthly close snapshot.
func FiadoOutstandingTx(ctx context.Context, tx pgx.Tx) (decimal.Decimal, error) {
	var total pgtype.Numeric
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(remaining_amount), 0) FROM orders WHERE is_paid_later AND remaining_amount > 0`).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return db.NumericToDecimal(total), nil
}
