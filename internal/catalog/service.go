package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, productID string) (Product, error)
	List(ctx context.Context, limit, offset int) ([]Product, error)
	Create(ctx context.Context, in CreateProductInput) (Product, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns product records and stock replenishment. Stock deductions
// belong to the checkout and exchange engines.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get loads one product.
func (s *Service) Get(ctx context.Context, productID string) (Product, error) {
	return s.repo.Get(ctx, productID)
}

// List returns products.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Product, error) {
	return s.repo.List(ctx, limit, offset)
}

// Create registers a new product. ADMIN only.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateProductInput) (Product, error) {
	if !actor.IsAdmin() {
		return Product{}, shared.ErrForbidden
	}
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.SKU) == "" {
		return Product{}, errors.New("catalog: name and sku required")
	}
	if in.CostPrice.IsNegative() || in.SalePrice.IsNegative() {
		return Product{}, errors.New("catalog: prices must be non-negative")
	}
	if in.Stock < 0 {
		return Product{}, shared.ErrInvalidQuantity
	}
	if len(in.Sizes) > 0 {
		sum := 0
		for _, sz := range in.Sizes {
			if sz.Stock < 0 {
				return Product{}, shared.ErrInvalidQuantity
			}
			sum += sz.Stock
		}
		// Aggregate stock mirrors the per-size total when sizes are used.
		in.Stock = sum
	}
	return s.repo.Create(ctx, in)
}

// Replenish records an inbound stock purchase: stock goes up and a
// STOCK_PURCHASE movement is posted, both in one transaction. ADMIN only.
func (s *Service) Replenish(ctx context.Context, actor shared.Actor, in ReplenishInput) (Product, error) {
	if !actor.IsAdmin() {
		return Product{}, shared.ErrForbidden
	}
	if in.Quantity <= 0 {
		return Product{}, shared.ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return Product{}, errors.New("catalog: unit cost must be non-negative")
	}
	if in.Method != "" && !ledger.ValidMethod(ledger.PaymentMethod(in.Method)) {
		return Product{}, fmt.Errorf("catalog: invalid payment method %q", in.Method)
	}
	now := s.now().UTC()
	var product Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProductForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if p.HasSizes() {
			if in.Size == "" {
				return fmt.Errorf("catalog: size required for product %s", p.ID)
			}
			i := p.SizeIndex(in.Size)
			if i < 0 {
				return fmt.Errorf("catalog: product %s has no size %q", p.ID, in.Size)
			}
			// Stock rows match the label exactly; take the catalog's casing.
			in.Size = p.Sizes[i].Label
		}
		unitCost := in.UnitCost
		if unitCost.IsZero() {
			unitCost = p.CostPrice
		}
		if err := tx.ApplyStockDelta(ctx, p.ID, in.Size, in.Quantity); err != nil {
			return err
		}
		total := unitCost.Mul(decimal.NewFromInt(int64(in.Quantity)))
		if total.IsPositive() {
			_, err = tx.InsertMovement(ctx, ledger.Movement{
				Type:       ledger.MovementStockPurchase,
				Direction:  ledger.DirectionOut,
				Amount:     total,
				Method:     ledger.PaymentMethod(in.Method),
				RefKind:    "product",
				RefID:      p.ID,
				OccurredAt: now,
				CreatedBy:  actor.ID,
				Meta:       map[string]any{"quantity": in.Quantity, "note": in.Note},
			})
			if err != nil {
				return err
			}
		}
		product = p
		product.Stock += in.Quantity
		if i := product.SizeIndex(in.Size); i >= 0 {
			product.Sizes[i].Stock += in.Quantity
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "catalog:replenish",
			Entity:   "product",
			EntityID: product.ID,
			Meta:     map[string]any{"quantity": in.Quantity, "size": in.Size},
		})
	}
	return product, nil
}
