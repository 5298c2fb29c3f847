package register

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Insert(ctx context.Context, operatorID string, openingBalance decimal.Decimal, openedAt time.Time) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	OpenForOperator(ctx context.Context, operatorID string) (Session, error)
	Finalize(ctx context.Context, id string, closingBalance decimal.Decimal, closedAt time.Time) (Session, error)
	ApplySale(ctx context.Context, id string, splits []PaymentSplit) error
	ReconcileTotals(ctx context.Context, id string) (Session, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const snapshotTTL = 30 * time.Second

// Service runs the register session lifecycle and serves cached snapshots.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache *redis.Client
	now   func() time.Time
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cache *redis.Client) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Open starts a session for the acting operator. Fails with ErrAlreadyOpen
// when one is still open; the partial unique index backs this up under
// concurrent opens.
func (s *Service) Open(ctx context.Context, actor shared.Actor, openingBalance decimal.Decimal) (Session, error) {
	if !actor.CanSell() {
		return Session{}, shared.ErrForbidden
	}
	if openingBalance.IsNegative() {
		return Session{}, shared.ErrInvalidAmount
	}
	if _, err := s.repo.OpenForOperator(ctx, actor.ID); err == nil {
		return Session{}, shared.ErrAlreadyOpen
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Session{}, err
	}
	sess, err := s.repo.Insert(ctx, actor.ID, openingBalance, s.now().UTC())
	if err != nil {
		return Session{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "register:open",
			Entity:   "cash_register",
			EntityID: sess.ID,
			Meta:     map[string]any{"opening_balance": openingBalance.StringFixed(2)},
		})
	}
	return sess, nil
}

// Close finalises the session and reports declared-vs-expected cash. The
// variance is informational; a mismatch never blocks the close.
func (s *Service) Close(ctx context.Context, actor shared.Actor, registerID string, closingBalance decimal.Decimal) (CloseResult, error) {
	if closingBalance.IsNegative() {
		return CloseResult{}, shared.ErrInvalidAmount
	}
	current, err := s.repo.Get(ctx, registerID)
	if err != nil {
		return CloseResult{}, err
	}
	if current.OperatorID != actor.ID && !actor.IsAdmin() {
		return CloseResult{}, shared.ErrForbidden
	}
	sess, err := s.repo.Finalize(ctx, registerID, closingBalance, s.now().UTC())
	if err != nil {
		return CloseResult{}, err
	}
	s.invalidate(ctx, registerID)
	expected := sess.ExpectedCash()
	result := CloseResult{
		Session:      sess,
		ExpectedCash: expected,
		Variance:     closingBalance.Sub(expected),
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "register:close",
			Entity:   "cash_register",
			EntityID: registerID,
			Meta: map[string]any{
				"expected": expected.StringFixed(2),
				"declared": closingBalance.StringFixed(2),
				"variance": result.Variance.StringFixed(2),
			},
		})
	}
	return result, nil
}

// OpenForOperator resolves the operator's current open session.
func (s *Service) OpenForOperator(ctx context.Context, operatorID string) (Session, error) {
	return s.repo.OpenForOperator(ctx, operatorID)
}

// RecordSale applies a sale's payment breakdown to the register. Invoked by
// the projection worker after a checkout commit; safe to call best-effort.
func (s *Service) RecordSale(ctx context.Context, registerID string, splits []PaymentSplit) error {
	for _, split := range splits {
		if !ledger.ValidMethod(split.Method) {
			return fmt.Errorf("register: unknown payment method %q", split.Method)
		}
		if !split.Amount.IsPositive() {
			return shared.ErrInvalidAmount
		}
	}
	if err := s.repo.ApplySale(ctx, registerID, splits); err != nil {
		return err
	}
	s.invalidate(ctx, registerID)
	return nil
}

// Reconcile recomputes the session totals from committed orders and
// exchanges, repairing any projection update that was lost.
func (s *Service) Reconcile(ctx context.Context, registerID string) (Session, error) {
	sess, err := s.repo.ReconcileTotals(ctx, registerID)
	if err != nil {
		return Session{}, err
	}
	s.invalidate(ctx, registerID)
	return sess, nil
}

// Snapshot returns the session state, served from cache when fresh.
func (s *Service) Snapshot(ctx context.Context, registerID string) (Session, error) {
	key := snapshotKey(registerID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var sess Session
			if json.Unmarshal(raw, &sess) == nil {
				return sess, nil
			}
		}
	}
	sess, err := s.repo.Get(ctx, registerID)
	if err != nil {
		return Session{}, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(sess); err == nil {
			s.cache.Set(ctx, key, raw, snapshotTTL)
		}
	}
	return sess, nil
}

func (s *Service) invalidate(ctx context.Context, registerID string) {
	if s.cache != nil {
		s.cache.Del(ctx, snapshotKey(registerID))
	}
}

func snapshotKey(registerID string) string {
	return fmt.Sprintf("register:%s:snapshot", registerID)
}
