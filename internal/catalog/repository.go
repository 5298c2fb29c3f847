package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/platform/db"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional product operations.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, productID string) (Product, error)
	ApplyStockDelta(ctx context.Context, productID, size string, delta int) error
	InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error)
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

// GetProductForUpdateTx locks and loads one product row with its sizes.
// Shared with the checkout and exchange engines so every stock mutation
// validates against the freshly read value inside its own transaction.
func GetProductForUpdateTx(ctx context.Context, tx pgx.Tx, productID string) (Product, error) {
	var p Product
	var cost, sale pgtype.Numeric
	err := tx.QueryRow(ctx,
		`SELECT id, name, sku, cost_price, sale_price, stock FROM products WHERE id = $1 FOR UPDATE`,
		productID).Scan(&p.ID, &p.Name, &p.SKU, &cost, &sale, &p.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	p.CostPrice = db.NumericToDecimal(cost)
	p.SalePrice = db.NumericToDecimal(sale)

	rows, err := tx.Query(ctx,
		`SELECT label, stock FROM product_sizes WHERE product_id = $1 ORDER BY position FOR UPDATE`, productID)
	if err != nil {
		return Product{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var s SizeStock
		if err := rows.Scan(&s.Label, &s.Stock); err != nil {
			return Product{}, err
		}
		p.Sizes = append(p.Sizes, s)
	}
	return p, rows.Err()
}

// ApplyStockDeltaTx adjusts aggregate stock and, when a size is given, the
// matching per-size row. The conditional updates refuse to drive any count
// negative even if validation was skipped.
func ApplyStockDeltaTx(ctx context.Context, tx pgx.Tx, productID, size string, delta int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE products SET stock = stock + $2 WHERE id = $1 AND stock + $2 >= 0`, productID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.InsufficientStockError{ProductID: productID, Requested: -delta}
	}
	if size != "" {
		tag, err = tx.Exec(ctx,
			`UPDATE product_sizes SET stock = stock + $3 WHERE product_id = $1 AND label = $2 AND stock + $3 >= 0`,
			productID, size, delta)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return &shared.InsufficientStockError{ProductID: productID, Size: size, Requested: -delta}
		}
	}
	return nil
}

func (r *txRepo) GetProductForUpdate(ctx context.Context, productID string) (Product, error) {
	return GetProductForUpdateTx(ctx, r.tx, productID)
}

func (r *txRepo) ApplyStockDelta(ctx context.Context, productID, size string, delta int) error {
	return ApplyStockDeltaTx(ctx, r.tx, productID, size, delta)
}

func (r *txRepo) InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error) {
	return ledger.InsertMovementTx(ctx, r.tx, mv)
}

// Get loads one product with its sizes.
func (r *Repository) Get(ctx context.Context, productID string) (Product, error) {
	var p Product
	var cost, sale pgtype.Numeric
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, sku, cost_price, sale_price, stock FROM products WHERE id = $1`,
		productID).Scan(&p.ID, &p.Name, &p.SKU, &cost, &sale, &p.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	p.CostPrice = db.NumericToDecimal(cost)
	p.SalePrice = db.NumericToDecimal(sale)

	rows, err := r.pool.Query(ctx,
		`SELECT label, stock FROM product_sizes WHERE product_id = $1 ORDER BY position`, productID)
	if err != nil {
		return Product{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var s SizeStock
		if err := rows.Scan(&s.Label, &s.Stock); err != nil {
			return Product{}, err
		}
		p.Sizes = append(p.Sizes, s)
	}
	return p, rows.Err()
}

// List returns products ordered by name.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, sku, cost_price, sale_price, stock FROM products ORDER BY name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		var cost, sale pgtype.Numeric
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &cost, &sale, &p.Stock); err != nil {
			return nil, err
		}
		p.CostPrice = db.NumericToDecimal(cost)
		p.SalePrice = db.NumericToDecimal(sale)
		products = append(products, p)
	}
	return products, rows.Err()
}

// Create inserts a product with its sizes. SKU uniqueness is enforced by
// the unique index; violations surface as shared.ErrDuplicateSKU.
func (r *Repository) Create(ctx context.Context, in CreateProductInput) (Product, error) {
	id := uuid.NewString()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO products (id, name, sku, cost_price, sale_price, stock) VALUES ($1, $2, $3, $4, $5, $6)`,
			id, in.Name, in.SKU, db.DecimalToNumeric(in.CostPrice), db.DecimalToNumeric(in.SalePrice), in.Stock)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return shared.ErrDuplicateSKU
			}
			return err
		}
		for i, s := range in.Sizes {
			_, err := tx.Exec(ctx,
				`INSERT INTO product_sizes (product_id, label, stock, position) VALUES ($1, $2, $3, $4)`,
				id, s.Label, s.Stock, i)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return r.Get(ctx, id)
}

// TotalInventoryValueTx sums stock times cost across all products inside a
// transaction, for the monthly close snapshot.
func TotalInventoryValueTx(ctx context.Context, tx pgx.Tx) (value pgtype.Numeric, err error) {
	err = tx.QueryRow(ctx, `SELECT COALESCE(SUM(stock * cost_price), 0) FROM products`).Scan(&value)
	if err != nil {
		err = fmt.Errorf("catalog: inventory value: %w", err)
	}
	return value, err
}
