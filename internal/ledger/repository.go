package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/balcao-erp/balcao-erp/internal/platform/db"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Repository persists financial movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("ledger: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// EnsureMonthOpenTx verifies the competency month has no financial closure.
// It must run inside the same transaction as the movement write so a close
// racing a late-arriving movement cannot slip through. The shared advisory
// lock on the month lets postings proceed concurrently with each other while
// blocking behind the exclusive lock the monthly close takes on the same key.
func EnsureMonthOpenTx(ctx context.Context, tx pgx.Tx, month string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared(hashtext($1))`, month); err != nil {
		return fmt.Errorf("ledger: lock month: %w", err)
	}
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM financial_closures WHERE month = $1)`, month).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ledger: check closure: %w", err)
	}
	if exists {
		return shared.ErrPeriodClosed
	}
	return nil
}

// InsertMovementTx appends one movement after verifying its month is open.
// The id and competency month are derived here when absent.
func InsertMovementTx(ctx context.Context, tx pgx.Tx, mv Movement) (Movement, error) {
	if !mv.Amount.IsPositive() {
		return Movement{}, shared.ErrInvalidAmount
	}
	if mv.OccurredAt.IsZero() {
		mv.OccurredAt = time.Now().UTC()
	}
	if mv.Month == "" {
		mv.Month = CompetencyMonth(mv.OccurredAt)
	}
	if mv.ID == "" {
		mv.ID = uuid.NewString()
	}
	if err := EnsureMonthOpenTx(ctx, tx, mv.Month); err != nil {
		return Movement{}, err
	}
	metaJSON, err := json.Marshal(mv.Meta)
	if err != nil {
		return Movement{}, err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO financial_movements (id, movement_type, direction, amount, method, ref_kind, ref_id, occurred_at, month, created_by, meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		mv.ID, string(mv.Type), string(mv.Direction), db.DecimalToNumeric(mv.Amount), string(mv.Method),
		mv.RefKind, mv.RefID, mv.OccurredAt, mv.Month, mv.CreatedBy, metaJSON)
	if err != nil {
		return Movement{}, fmt.Errorf("ledger: insert movement: %w", err)
	}
	return mv, nil
}

// List returns movements matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, movement_type, direction, amount, method, ref_kind, ref_id, occurred_at, month, created_by, meta
		 FROM financial_movements
		 WHERE ($1 = '' OR month = $1) AND ($2 = '' OR movement_type = $2)
		 ORDER BY occurred_at DESC
		 LIMIT $3`,
		filter.Month, string(filter.Type), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// AggregateMonthTx rolls up all movements of a month inside a transaction.
// Used by the monthly close so the snapshot and the closure row commit as one.
func AggregateMonthTx(ctx context.Context, tx pgx.Tx, month string) (MonthSummary, error) {
	rows, err := tx.Query(ctx,
		`SELECT movement_type, direction, amount FROM financial_movements WHERE month = $1`, month)
	if err != nil {
		return MonthSummary{}, err
	}
	defer rows.Close()

	summary := MonthSummary{Month: month}
	for rows.Next() {
		var mvType, direction string
		var amount pgtype.Numeric
		if err := rows.Scan(&mvType, &direction, &amount); err != nil {
			return MonthSummary{}, err
		}
		amt := db.NumericToDecimal(amount)
		switch MovementType(mvType) {
		case MovementSaleRevenue:
			summary.Revenue = summary.Revenue.Add(amt)
		case MovementCOGS:
			summary.COGS = summary.COGS.Add(amt)
		case MovementOperatingExpense, MovementStockPurchase:
			summary.Expenses = summary.Expenses.Add(amt)
		}
		switch Direction(direction) {
		case DirectionIn:
			summary.CashIn = summary.CashIn.Add(amt)
		case DirectionOut:
			summary.CashOut = summary.CashOut.Add(amt)
		}
	}
	return summary, rows.Err()
}

// AggregateMonth rolls up a month outside a transaction, for reporting reads.
func (r *Repository) AggregateMonth(ctx context.Context, month string) (MonthSummary, error) {
	var summary MonthSummary
	err := r.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var e error
		summary, e = AggregateMonthTx(ctx, tx, month)
		return e
	})
	return summary, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (Movement, error) {
	var mv Movement
	var mvType, direction, method string
	var amount pgtype.Numeric
	var meta []byte
	err := row.Scan(&mv.ID, &mvType, &direction, &amount, &method, &mv.RefKind, &mv.RefID,
		&mv.OccurredAt, &mv.Month, &mv.CreatedBy, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, shared.ErrNotFound
		}
		return Movement{}, err
	}
	mv.Type = MovementType(mvType)
	mv.Direction = Direction(direction)
	mv.Method = PaymentMethod(method)
	mv.Amount = db.NumericToDecimal(amount)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &mv.Meta)
	}
	return mv, nil
}
