package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records manual ledger postings and serves movement listings.
// Sale, exchange and fiado movements are written by their own engines inside
// their transactions; this service covers the remaining movement types.
type Service struct {
	repo  *Repository
	audit AuditPort
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo *Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Validate checks a manual posting before it reaches the ledger.
func (in RecordInput) Validate() error {
	switch in.Type {
	case MovementStockPurchase, MovementOperatingExpense, MovementRefund, MovementAdjustment:
	default:
		return fmt.Errorf("ledger: movement type %q cannot be posted manually", in.Type)
	}
	if in.Direction != DirectionIn && in.Direction != DirectionOut {
		return fmt.Errorf("ledger: direction must be IN or OUT")
	}
	if !in.Amount.IsPositive() {
		return shared.ErrInvalidAmount
	}
	if in.Method != "" && !ValidMethod(in.Method) {
		return fmt.Errorf("ledger: unknown payment method %q", in.Method)
	}
	return nil
}

// Record posts a manual movement. ADMIN only; the competency month of the
// occurred-at instant must be open.
func (s *Service) Record(ctx context.Context, actor shared.Actor, in RecordInput) (Movement, error) {
	if !actor.IsAdmin() {
		return Movement{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Movement{}, err
	}
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}
	var mv Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var e error
		mv, e = InsertMovementTx(ctx, tx, Movement{
			Type:       in.Type,
			Direction:  in.Direction,
			Amount:     in.Amount,
			Method:     in.Method,
			RefKind:    in.RefKind,
			RefID:      in.RefID,
			OccurredAt: occurredAt,
			CreatedBy:  actor.ID,
			Meta:       in.Meta,
		})
		return e
	})
	if err != nil {
		return Movement{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   fmt.Sprintf("ledger:%s", in.Type),
			Entity:   "financial_movement",
			EntityID: mv.ID,
			Meta:     map[string]any{"amount": mv.Amount.StringFixed(2), "month": mv.Month},
		})
	}
	return mv, nil
}

// List returns movements matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Movement, error) {
	if filter.Month != "" && !ValidMonth(filter.Month) {
		return nil, fmt.Errorf("ledger: invalid month %q: %w", filter.Month, shared.ErrInvalidMonth)
	}
	return s.repo.List(ctx, filter)
}

// Summary aggregates one month for reporting reads.
func (s *Service) Summary(ctx context.Context, month string) (MonthSummary, error) {
	if !ValidMonth(month) {
		return MonthSummary{}, fmt.Errorf("ledger: invalid month %q: %w", month, shared.ErrInvalidMonth)
	}
	return s.repo.AggregateMonth(ctx, month)
}
