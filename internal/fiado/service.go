package fiado

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Scope is the idempotency scope of fiado settlements.
const Scope = "fiado"

// TxRepository exposes the transactional operations of one settlement. The
// order row is locked for the whole transaction so concurrent payments
// against the same order serialize and re-read the updated remaining balance.
type TxRepository interface {
	EnsureMonthOpen(ctx context.Context, month string) error
	GetOrderForUpdate(ctx context.Context, orderID string) (DeferredOrder, error)
	ApplySettlement(ctx context.Context, orderID string, amountPaid, remaining decimal.Decimal, paidAt *time.Time) error
	InsertPaymentEntry(ctx context.Context, orderID string, amount decimal.Decimal, method ledger.PaymentMethod, at time.Time) error
	DecrementClientBalance(ctx context.Context, clientID string, amount decimal.Decimal) error
	InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListOutstanding(ctx context.Context, clientID string) ([]DeferredOrder, error)
}

// IdempotencyPort guards retried requests.
type IdempotencyPort interface {
	Begin(ctx context.Context, scope, actorID, token, requestHash string) (shared.BeginResult, error)
	Complete(ctx context.Context, scope, actorID, token string, response []byte) error
	Abort(ctx context.Context, scope, actorID, token string) error
}

// Service is the fiado settlement engine.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, idempotency: idem, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ApplyPayment applies a payment against one deferred order. The applied
// amount is clamped to the remaining balance; overpayment is capped, never
// carried over. Order fields, payment history, client balance and the
// FIADO_PAYMENT movement commit as one transaction. A retried request with
// the same token and payload returns the stored receipt without paying twice.
func (s *Service) ApplyPayment(ctx context.Context, actor shared.Actor, in Input) (Receipt, error) {
	if err := in.Validate(actor); err != nil {
		return Receipt{}, err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return Receipt{}, err
	}
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	begin, err := s.idempotency.Begin(ctx, Scope, actor.ID, in.IdempotencyToken, hash)
	if err != nil {
		return Receipt{}, err
	}
	if !begin.Fresh {
		var stored Receipt
		if err := json.Unmarshal(begin.Response, &stored); err != nil {
			return Receipt{}, fmt.Errorf("fiado: decode stored response: %w", err)
		}
		return stored, nil
	}

	receipt, err := s.commit(ctx, actor, in)
	if err != nil {
		if abortErr := s.idempotency.Abort(ctx, Scope, actor.ID, in.IdempotencyToken); abortErr != nil {
			s.logger.Error("abort idempotency key", slog.Any("error", abortErr))
		}
		return Receipt{}, err
	}

	response, err := json.Marshal(receipt)
	if err == nil {
		err = s.idempotency.Complete(ctx, Scope, actor.ID, in.IdempotencyToken, response)
	}
	if err != nil {
		s.logger.Error("complete idempotency key", slog.String("order_id", receipt.OrderID), slog.Any("error", err))
	}

	s.logger.Info("fiado payment applied",
		slog.String("order_id", receipt.OrderID),
		slog.String("client_id", receipt.ClientID),
		slog.String("applied", receipt.AppliedAmount.StringFixed(2)),
		slog.Bool("settled", receipt.Settled))
	return receipt, nil
}

func (s *Service) commit(ctx context.Context, actor shared.Actor, in Input) (Receipt, error) {
	now := s.now().UTC()
	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.EnsureMonthOpen(ctx, ledger.CompetencyMonth(now)); err != nil {
			return err
		}

		order, err := tx.GetOrderForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if !order.IsPaidLater {
			return shared.ErrNotFound
		}
		if order.ClientID != in.ClientID {
			return shared.ErrOwnershipMismatch
		}
		if !order.RemainingAmount.IsPositive() {
			return shared.ErrAlreadySettled
		}

		applied := in.Amount
		if applied.GreaterThan(order.RemainingAmount) {
			applied = order.RemainingAmount
		}
		amountPaid := order.AmountPaid.Add(applied)
		remaining := order.RemainingAmount.Sub(applied)
		var paidAt *time.Time
		if remaining.IsZero() {
			paidAt = &now
		}

		if err := tx.ApplySettlement(ctx, order.ID, amountPaid, remaining, paidAt); err != nil {
			return err
		}
		if err := tx.InsertPaymentEntry(ctx, order.ID, applied, in.Method, now); err != nil {
			return err
		}
		if err := tx.DecrementClientBalance(ctx, in.ClientID, applied); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, ledger.Movement{
			Type:       ledger.MovementFiadoPayment,
			Direction:  ledger.DirectionIn,
			Amount:     applied,
			Method:     in.Method,
			RefKind:    "order",
			RefID:      order.ID,
			OccurredAt: now,
			CreatedBy:  actor.ID,
		}); err != nil {
			return err
		}

		receipt = Receipt{
			OrderID:         order.ID,
			ClientID:        in.ClientID,
			AppliedAmount:   applied,
			AmountPaid:      amountPaid,
			RemainingAmount: remaining,
			Method:          in.Method,
			Settled:         remaining.IsZero(),
			PaidAt:          paidAt,
			RecordedAt:      now,
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// Outstanding lists the client's unpaid deferred orders.
func (s *Service) Outstanding(ctx context.Context, clientID string) ([]DeferredOrder, error) {
	if clientID == "" {
		return nil, shared.ErrNotFound
	}
	return s.repo.ListOutstanding(ctx, clientID)
}
