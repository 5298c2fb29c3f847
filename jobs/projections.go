package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/balcao-erp/balcao-erp/internal/clients"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/register"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Projector owns the task handlers. Register updates go through the register
// service so snapshot caches invalidate; balance updates go through the
// marker-guarded client repository so retries never double-apply.
type Projector struct {
	registers *register.Service
	clients   *clients.Repository
	logger    *slog.Logger
}

// NewProjector builds Projector.
func NewProjector(registers *register.Service, clientRepo *clients.Repository, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{registers: registers, clients: clientRepo, logger: logger}
}

// HandleRegisterSale applies a sale's payment breakdown to the operator's
// open register. If the register closed between commit and delivery the task
// is dropped; the reconciliation sweep catches the session's final totals.
func (p *Projector) HandleRegisterSale(ctx context.Context, t *asynq.Task) error {
	var payload RegisterSalePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	sess, err := p.registers.OpenForOperator(ctx, payload.OperatorID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			p.logger.Warn("register projection dropped: no open session",
				slog.String("order_id", payload.OrderID), slog.String("operator_id", payload.OperatorID))
			return asynq.SkipRetry
		}
		return err
	}
	splits := make([]register.PaymentSplit, 0, len(payload.Splits))
	for _, s := range payload.Splits {
		splits = append(splits, register.PaymentSplit{Method: ledger.PaymentMethod(s.Method), Amount: s.Amount})
	}
	if err := p.registers.RecordSale(ctx, sess.ID, splits); err != nil {
		if errors.Is(err, shared.ErrRegisterNotOpen) {
			p.logger.Warn("register projection dropped: session closed",
				slog.String("order_id", payload.OrderID), slog.String("register_id", sess.ID))
			return asynq.SkipRetry
		}
		return err
	}
	return nil
}

// HandleClientBalance applies a deferred sale to the client balance exactly
// once. Redelivery is harmless: the balance_applied marker makes a repeat
// apply a no-op.
func (p *Projector) HandleClientBalance(ctx context.Context, t *asynq.Task) error {
	var payload ClientBalancePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return p.clients.ApplyDeferredSale(ctx, payload.OrderID, payload.ClientID, payload.Amount)
}

// ListOpenPort lists sessions for the reconciliation sweep.
type ListOpenPort interface {
	ListOpen(ctx context.Context) ([]register.Session, error)
}

// HandleRegisterReconcile recomputes totals for every open session.
func (p *Projector) HandleRegisterReconcile(repo ListOpenPort) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		sessions, err := repo.ListOpen(ctx)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			if _, err := p.registers.Reconcile(ctx, sess.ID); err != nil {
				p.logger.Error("reconcile register", slog.String("register_id", sess.ID), slog.Any("error", err))
				continue
			}
		}
		p.logger.Info("register reconciliation sweep done", slog.Int("sessions", len(sessions)))
		return nil
	}
}
