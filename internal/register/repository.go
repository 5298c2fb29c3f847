package register

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/platform/db"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Repository persists register sessions in PostgreSQL. At most one OPEN
// session per operator is enforced by a partial unique index on
// (operator_id) WHERE status = 'OPEN'.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, operator_id, opened_at, closed_at, opening_balance, closing_balance, status,
	total_dinheiro, total_debito, total_credito, total_pix, sales_count, exchange_cash_in, exchange_count`

// Insert creates a new OPEN session with zeroed totals.
func (r *Repository) Insert(ctx context.Context, operatorID string, openingBalance decimal.Decimal, openedAt time.Time) (Session, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cash_registers (id, operator_id, opened_at, opening_balance, status,
			total_dinheiro, total_debito, total_credito, total_pix, sales_count, exchange_cash_in, exchange_count)
		 VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0, 0, 0, 0)`,
		id, operatorID, openedAt, db.DecimalToNumeric(openingBalance), string(StatusOpen))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Session{}, shared.ErrAlreadyOpen
		}
		return Session{}, err
	}
	return r.Get(ctx, id)
}

// Get loads one session.
func (r *Repository) Get(ctx context.Context, id string) (Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM cash_registers WHERE id = $1`, id)
	return scanSession(row)
}

// OpenForOperator resolves the operator's current OPEN session, if any.
func (r *Repository) OpenForOperator(ctx context.Context, operatorID string) (Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM cash_registers WHERE operator_id = $1 AND status = $2`,
		operatorID, string(StatusOpen))
	return scanSession(row)
}

// ListOpen returns every OPEN session, for the reconciliation sweep.
func (r *Repository) ListOpen(ctx context.Context) ([]Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM cash_registers WHERE status = $1 ORDER BY opened_at`,
		string(StatusOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// WithTx executes fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// GetForUpdateTx locks and loads a session row.
func GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Session, error) {
	row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM cash_registers WHERE id = $1 FOR UPDATE`, id)
	return scanSession(row)
}

// CloseTx finalises a session. The caller has already verified status.
func CloseTx(ctx context.Context, tx pgx.Tx, id string, closingBalance decimal.Decimal, closedAt time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE cash_registers SET status = $2, closed_at = $3, closing_balance = $4 WHERE id = $1`,
		id, string(StatusClosed), closedAt, db.DecimalToNumeric(closingBalance))
	return err
}

// AddSaleTx increments the per-method total and the sales counter of an OPEN
// session. Zero rows affected means the session is not open.
func AddSaleTx(ctx context.Context, tx pgx.Tx, id string, method ledger.PaymentMethod, amount decimal.Decimal) error {
	column, ok := methodColumn(method)
	if !ok {
		return errors.New("register: unknown payment method")
	}
	tag, err := tx.Exec(ctx,
		`UPDATE cash_registers SET `+column+` = `+column+` + $2 WHERE id = $1 AND status = 'OPEN'`,
		id, db.DecimalToNumeric(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrRegisterNotOpen
	}
	return nil
}

// BumpSalesCountTx increments the sales counter once per order.
func BumpSalesCountTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE cash_registers SET sales_count = sales_count + 1 WHERE id = $1 AND status = 'OPEN'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrRegisterNotOpen
	}
	return nil
}

// AddExchangeDifferenceTx posts an exchange cash-in to an OPEN session:
// per-method total plus the exchange counters.
func AddExchangeDifferenceTx(ctx context.Context, tx pgx.Tx, id string, method ledger.PaymentMethod, amount decimal.Decimal) error {
	column, ok := methodColumn(method)
	if !ok {
		return errors.New("register: unknown payment method")
	}
	tag, err := tx.Exec(ctx,
		`UPDATE cash_registers SET `+column+` = `+column+` + $2,
			exchange_cash_in = exchange_cash_in + $2, exchange_count = exchange_count + 1
		 WHERE id = $1 AND status = 'OPEN'`,
		id, db.DecimalToNumeric(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrRegisterNotOpen
	}
	return nil
}

// SetTotalsTx overwrites the per-method totals, used by reconciliation.
func SetTotalsTx(ctx context.Context, tx pgx.Tx, id string, totals MethodTotals) error {
	_, err := tx.Exec(ctx,
		`UPDATE cash_registers SET total_dinheiro = $2, total_debito = $3, total_credito = $4, total_pix = $5 WHERE id = $1`,
		id, db.DecimalToNumeric(totals.Dinheiro), db.DecimalToNumeric(totals.Debito),
		db.DecimalToNumeric(totals.Credito), db.DecimalToNumeric(totals.Pix))
	return err
}

// Finalize closes an OPEN session under a row lock.
func (r *Repository) Finalize(ctx context.Context, id string, closingBalance decimal.Decimal, closedAt time.Time) (Session, error) {
	var sess Session
	err := r.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusOpen {
			return shared.ErrRegisterNotOpen
		}
		if err := CloseTx(ctx, tx, id, closingBalance, closedAt); err != nil {
			return err
		}
		sess = current
		sess.Status = StatusClosed
		sess.ClosedAt = &closedAt
		sess.ClosingBalance = &closingBalance
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ApplySale increments per-method totals and the sales counter in one
// transaction.
func (r *Repository) ApplySale(ctx context.Context, id string, splits []PaymentSplit) error {
	return r.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, split := range splits {
			if err := AddSaleTx(ctx, tx, id, split.Method, split.Amount); err != nil {
				return err
			}
		}
		return BumpSalesCountTx(ctx, tx, id)
	})
}

// ReconcileTotals recomputes per-method totals from committed orders and
// exchange cash-ins attributed to this session.
func (r *Repository) ReconcileTotals(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := r.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusOpen {
			return shared.ErrRegisterNotOpen
		}
		until := time.Now().UTC()
		var totals MethodTotals

		rows, err := tx.Query(ctx,
			`SELECT op.method, COALESCE(SUM(op.amount), 0)
			 FROM orders o JOIN order_payments op ON op.order_id = o.id
			 WHERE o.operator_id = $1 AND NOT o.is_paid_later AND o.created_at BETWEEN $2 AND $3
			 GROUP BY op.method`,
			current.OperatorID, current.OpenedAt, until)
		if err != nil {
			return err
		}
		for rows.Next() {
			var method string
			var amount pgtype.Numeric
			if err := rows.Scan(&method, &amount); err != nil {
				rows.Close()
				return err
			}
			totals.Add(ledger.PaymentMethod(method), db.NumericToDecimal(amount))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.Query(ctx,
			`SELECT payment_method, COALESCE(SUM(cash_in_amount), 0)
			 FROM exchange_records
			 WHERE register_id = $1 AND cash_in_amount > 0
			 GROUP BY payment_method`, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			var method string
			var amount pgtype.Numeric
			if err := rows.Scan(&method, &amount); err != nil {
				rows.Close()
				return err
			}
			totals.Add(ledger.PaymentMethod(method), db.NumericToDecimal(amount))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if err := SetTotalsTx(ctx, tx, id, totals); err != nil {
			return err
		}
		sess = current
		sess.Totals = totals
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func methodColumn(method ledger.PaymentMethod) (string, bool) {
	switch method {
	case ledger.MethodDinheiro:
		return "total_dinheiro", true
	case ledger.MethodDebito:
		return "total_debito", true
	case ledger.MethodCredito:
		return "total_credito", true
	case ledger.MethodPix:
		return "total_pix", true
	default:
		return "", false
	}
}

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	var closedAt pgtype.Timestamptz
	var opening, closing, dinheiro, debito, credito, pix, exchangeCashIn pgtype.Numeric
	var status string
	err := row.Scan(&s.ID, &s.OperatorID, &s.OpenedAt, &closedAt, &opening, &closing, &status,
		&dinheiro, &debito, &credito, &pix, &s.SalesCount, &exchangeCashIn, &s.ExchangeCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, shared.ErrNotFound
		}
		return Session{}, err
	}
	s.Status = Status(status)
	s.OpeningBalance = db.NumericToDecimal(opening)
	if closing.Valid {
		cb := db.NumericToDecimal(closing)
		s.ClosingBalance = &cb
	}
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	s.Totals = MethodTotals{
		Dinheiro: db.NumericToDecimal(dinheiro),
		Debito:   db.NumericToDecimal(debito),
		Credito:  db.NumericToDecimal(credito),
		Pix:      db.NumericToDecimal(pix),
	}
	s.ExchangeCashIn = db.NumericToDecimal(exchangeCashIn)
	return s, nil
}
