package close

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// TxRepository exposes the transactional operations of one monthly close.
type TxRepository interface {
	LockMonth(ctx context.Context, month string) error
	AggregateMonth(ctx context.Context, month string) (ledger.MonthSummary, error)
	TotalInventoryValue(ctx context.Context) (decimal.Decimal, error)
	FiadoOutstanding(ctx context.Context) (decimal.Decimal, error)
	InsertClosure(ctx context.Context, c Closure) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, month string) (Closure, error)
	List(ctx context.Context) ([]Closure, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service locks competency months.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CloseMonth aggregates every movement of the month, snapshots inventory
// value and fiado outstanding, and writes the closure row in one transaction.
// The exclusive month lock taken up front serializes the close against
// in-flight postings: a movement racing the close either lands before the
// aggregation or fails the period guard.
func (s *Service) CloseMonth(ctx context.Context, actor shared.Actor, month string) (Closure, error) {
	if !actor.IsAdmin() {
		return Closure{}, shared.ErrForbidden
	}
	if !ledger.ValidMonth(month) {
		return Closure{}, fmt.Errorf("close: invalid month %q: %w", month, shared.ErrInvalidMonth)
	}
	now := s.now().UTC()
	if month >= ledger.CompetencyMonth(now) {
		return Closure{}, shared.ErrCannotCloseCurrentMonth
	}

	var closure Closure
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockMonth(ctx, month); err != nil {
			return err
		}
		summary, err := tx.AggregateMonth(ctx, month)
		if err != nil {
			return err
		}
		inventory, err := tx.TotalInventoryValue(ctx)
		if err != nil {
			return err
		}
		fiado, err := tx.FiadoOutstanding(ctx)
		if err != nil {
			return err
		}
		closure = Closure{
			Month:            month,
			Revenue:          summary.Revenue,
			COGS:             summary.COGS,
			GrossProfit:      summary.GrossProfit(),
			Expenses:         summary.Expenses,
			NetResult:        summary.NetResult(),
			CashIn:           summary.CashIn,
			CashOut:          summary.CashOut,
			InventoryValue:   inventory,
			FiadoOutstanding: fiado,
			ClosedBy:         actor.ID,
			ClosedAt:         now,
		}
		return tx.InsertClosure(ctx, closure)
	})
	if err != nil {
		return Closure{}, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "close:month",
			Entity:   "financial_closure",
			EntityID: month,
			Meta: map[string]any{
				"net_result":      closure.NetResult.StringFixed(2),
				"inventory_value": closure.InventoryValue.StringFixed(2),
			},
		}); err != nil {
			s.logger.Error("record close audit entry", slog.String("month", month), slog.Any("error", err))
		}
	}
	s.logger.Info("month closed", slog.String("month", month), slog.String("closed_by", actor.ID))
	return closure, nil
}

// Get loads one closure.
func (s *Service) Get(ctx context.Context, month string) (Closure, error) {
	if !ledger.ValidMonth(month) {
		return Closure{}, fmt.Errorf("close: invalid month %q: %w", month, shared.ErrInvalidMonth)
	}
	return s.repo.Get(ctx, month)
}

// List returns all closures.
func (s *Service) List(ctx context.Context) ([]Closure, error) {
	return s.repo.List(ctx)
}
