package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/catalog"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/register"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Scope is the idempotency scope of checkout operations.
const Scope = "checkout"

// TxRepository exposes the transactional operations of one checkout commit.
type TxRepository interface {
	EnsureMonthOpen(ctx context.Context, month string) error
	GetProductForUpdate(ctx context.Context, productID string) (catalog.Product, error)
	ApplyStockDelta(ctx context.Context, productID, size string, delta int) error
	ClientExists(ctx context.Context, clientID string) error
	InsertOrder(ctx context.Context, order Order) error
	InsertOrderItems(ctx context.Context, items []OrderItem) error
	InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
}

// IdempotencyPort guards retried requests.
type IdempotencyPort interface {
	Begin(ctx context.Context, scope, actorID, token, requestHash string) (shared.BeginResult, error)
	Complete(ctx context.Context, scope, actorID, token string, response []byte) error
	Abort(ctx context.Context, scope, actorID, token string) error
}

// ProjectionPort enqueues the best-effort post-commit updates. Failures here
// are logged, never fatal: the committed order and its ledger movements are
// the source of truth.
type ProjectionPort interface {
	EnqueueRegisterSale(ctx context.Context, operatorID, orderID string, splits []register.PaymentSplit) error
	EnqueueClientBalance(ctx context.Context, orderID, clientID string, amount decimal.Decimal) error
}

// Service is the checkout engine.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	projections ProjectionPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service. projections may be nil.
func NewService(repo RepositoryPort, idem IdempotencyPort, projections ProjectionPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, idempotency: idem, projections: projections, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Checkout validates the cart, commits the sale atomically (order, items,
// stock decrement, SALE_REVENUE and COGS movements) and schedules the
// post-commit register/client-balance projections. A retried request with
// the same token and payload returns the stored order without re-executing.
func (s *Service) Checkout(ctx context.Context, actor shared.Actor, in Input) (Order, error) {
	if err := in.Validate(actor); err != nil {
		return Order{}, err
	}

	hash, err := requestHash(in)
	if err != nil {
		return Order{}, err
	}
	begin, err := s.idempotency.Begin(ctx, Scope, actor.ID, in.IdempotencyToken, hash)
	if err != nil {
		return Order{}, err
	}
	if !begin.Fresh {
		var stored Order
		if err := json.Unmarshal(begin.Response, &stored); err != nil {
			return Order{}, fmt.Errorf("checkout: decode stored response: %w", err)
		}
		return stored, nil
	}

	order, err := s.commit(ctx, actor, in)
	if err != nil {
		if abortErr := s.idempotency.Abort(ctx, Scope, actor.ID, in.IdempotencyToken); abortErr != nil {
			s.logger.Error("abort idempotency key", slog.Any("error", abortErr))
		}
		return Order{}, err
	}

	s.enqueueProjections(ctx, order)

	response, err := json.Marshal(order)
	if err == nil {
		err = s.idempotency.Complete(ctx, Scope, actor.ID, in.IdempotencyToken, response)
	}
	if err != nil {
		// The sale is committed; a failed completion only costs the client
		// one AlreadyProcessing round on retry.
		s.logger.Error("complete idempotency key", slog.String("order_id", order.ID), slog.Any("error", err))
	}
	return order, nil
}

// GetOrder loads a committed order with its items.
func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

func (s *Service) commit(ctx context.Context, actor shared.Actor, in Input) (Order, error) {
	now := s.now().UTC()
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.EnsureMonthOpen(ctx, ledger.CompetencyMonth(now)); err != nil {
			return err
		}
		if in.PayLater {
			if err := tx.ClientExists(ctx, in.ClientID); err != nil {
				return err
			}
		}

		products := make(map[string]catalog.Product)
		for _, item := range in.Items {
			if _, ok := products[item.ProductID]; ok {
				continue
			}
			p, err := tx.GetProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return err
			}
			products[item.ProductID] = p
		}

		orderID := uuid.NewString()
		subtotal := decimal.Zero
		totalCost := decimal.Zero
		items := make([]OrderItem, 0, len(in.Items))
		requested := make(map[string]int)
		for _, item := range in.Items {
			p := products[item.ProductID]
			size := item.Size
			if !p.HasSizes() {
				size = ""
			} else {
				i := p.SizeIndex(size)
				if i < 0 {
					return fmt.Errorf("checkout: product %s has no size %q: %w", p.ID, size, shared.ErrNotFound)
				}
				// The lookup tolerates casing; stock rows do not. Carry the
				// catalog's label from here on.
				size = p.Sizes[i].Label
			}
			key := item.ProductID + "|" + size
			requested[key] += item.Quantity
			if available := p.Available(size); requested[key] > available {
				return &shared.InsufficientStockError{
					ProductID: p.ID,
					Size:      size,
					Available: available,
					Requested: requested[key],
				}
			}
			qty := decimal.NewFromInt(int64(item.Quantity))
			lineCost := p.CostPrice.Mul(qty)
			lineRevenue := p.SalePrice.Mul(qty)
			items = append(items, OrderItem{
				ID:           uuid.NewString(),
				OrderID:      orderID,
				ProductID:    p.ID,
				Size:         size,
				Quantity:     item.Quantity,
				UnitCost:     p.CostPrice,
				UnitPrice:    p.SalePrice,
				TotalCost:    lineCost,
				TotalRevenue: lineRevenue,
				Profit:       lineRevenue.Sub(lineCost),
			})
			subtotal = subtotal.Add(lineRevenue)
			totalCost = totalCost.Add(lineCost)
		}

		totalAmount := subtotal.Sub(in.Discount)
		if totalAmount.IsNegative() {
			totalAmount = decimal.Zero
		}
		if !in.PayLater && !in.PaymentsTotal().Equal(totalAmount) {
			return fmt.Errorf("checkout: payments total %s does not match order total %s: %w",
				in.PaymentsTotal().StringFixed(2), totalAmount.StringFixed(2), shared.ErrInvalidAmount)
		}

		order = Order{
			ID:          orderID,
			Subtotal:    subtotal,
			Discount:    in.Discount,
			TotalAmount: totalAmount,
			TotalCost:   totalCost,
			Payments:    in.Payments,
			Items:       items,
			OperatorID:  actor.ID,
			ClientID:    in.ClientID,
			IsPaidLater: in.PayLater,
			AmountPaid:  decimal.Zero,
			CreatedAt:   now,
		}
		if in.PayLater {
			order.RemainingAmount = totalAmount
			order.PaymentHistory = []PaymentEntry{}
		}

		for key, qty := range requested {
			productID, size := splitKey(key)
			if err := tx.ApplyStockDelta(ctx, productID, size, -qty); err != nil {
				return err
			}
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.InsertOrderItems(ctx, items); err != nil {
			return err
		}

		if totalAmount.IsPositive() {
			_, err := tx.InsertMovement(ctx, ledger.Movement{
				Type:       ledger.MovementSaleRevenue,
				Direction:  ledger.DirectionIn,
				Amount:     totalAmount,
				Method:     singleMethod(in.Payments),
				RefKind:    "order",
				RefID:      orderID,
				OccurredAt: now,
				CreatedBy:  actor.ID,
			})
			if err != nil {
				return err
			}
		}
		if totalCost.IsPositive() {
			_, err := tx.InsertMovement(ctx, ledger.Movement{
				Type:       ledger.MovementCOGS,
				Direction:  ledger.DirectionOut,
				Amount:     totalCost,
				RefKind:    "order",
				RefID:      orderID,
				OccurredAt: now,
				CreatedBy:  actor.ID,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *Service) enqueueProjections(ctx context.Context, order Order) {
	if s.projections == nil {
		return
	}
	if order.IsPaidLater {
		if err := s.projections.EnqueueClientBalance(ctx, order.ID, order.ClientID, order.TotalAmount); err != nil {
			s.logger.Error("enqueue client balance projection",
				slog.String("order_id", order.ID), slog.Any("error", err))
		}
		return
	}
	if len(order.Payments) == 0 {
		return
	}
	splits := make([]register.PaymentSplit, 0, len(order.Payments))
	for _, p := range order.Payments {
		splits = append(splits, register.PaymentSplit{Method: p.Method, Amount: p.Amount})
	}
	if err := s.projections.EnqueueRegisterSale(ctx, order.OperatorID, order.ID, splits); err != nil {
		s.logger.Error("enqueue register projection",
			slog.String("order_id", order.ID), slog.Any("error", err))
	}
}

func requestHash(in Input) (string, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func singleMethod(payments []Payment) ledger.PaymentMethod {
	if len(payments) == 1 {
		return payments[0].Method
	}
	return ""
}

func splitKey(key string) (productID, size string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
