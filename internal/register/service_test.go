package register

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

type memoryRepo struct {
	sessions map[string]Session
	getCalls int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: make(map[string]Session)}
}

func (r *memoryRepo) Insert(ctx context.Context, operatorID string, openingBalance decimal.Decimal, openedAt time.Time) (Session, error) {
	sess := Session{
		ID:             uuid.NewString(),
		OperatorID:     operatorID,
		OpenedAt:       openedAt,
		OpeningBalance: openingBalance,
		Status:         StatusOpen,
	}
	r.sessions[sess.ID] = sess
	return sess, nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (Session, error) {
	r.getCalls++
	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, shared.ErrNotFound
	}
	return sess, nil
}

func (r *memoryRepo) OpenForOperator(ctx context.Context, operatorID string) (Session, error) {
	for _, sess := range r.sessions {
		if sess.OperatorID == operatorID && sess.Status == StatusOpen {
			return sess, nil
		}
	}
	return Session{}, shared.ErrNotFound
}

func (r *memoryRepo) Finalize(ctx context.Context, id string, closingBalance decimal.Decimal, closedAt time.Time) (Session, error) {
	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, shared.ErrNotFound
	}
	if sess.Status != StatusOpen {
		return Session{}, shared.ErrRegisterNotOpen
	}
	sess.Status = StatusClosed
	sess.ClosedAt = &closedAt
	sess.ClosingBalance = &closingBalance
	r.sessions[id] = sess
	return sess, nil
}

func (r *memoryRepo) ApplySale(ctx context.Context, id string, splits []PaymentSplit) error {
	sess, ok := r.sessions[id]
	if !ok {
		return shared.ErrNotFound
	}
	if sess.Status != StatusOpen {
		return shared.ErrRegisterNotOpen
	}
	for _, split := range splits {
		sess.Totals.Add(split.Method, split.Amount)
	}
	sess.SalesCount++
	r.sessions[id] = sess
	return nil
}

func (r *memoryRepo) ReconcileTotals(ctx context.Context, id string) (Session, error) {
	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, shared.ErrNotFound
	}
	return sess, nil
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOpenRejectsSecondSession(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	first, err := svc.Open(context.Background(), actor, money("100.00"))
	require.NoError(t, err)
	require.Equal(t, StatusOpen, first.Status)

	_, err = svc.Open(context.Background(), actor, money("100.00"))
	require.ErrorIs(t, err, shared.ErrAlreadyOpen)

	// A different operator can open in parallel.
	_, err = svc.Open(context.Background(), shared.Actor{ID: "op-2", Role: shared.RoleCashier}, decimal.Zero)
	require.NoError(t, err)
}

func TestOpenValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)

	_, err := svc.Open(context.Background(), shared.Actor{ID: "x"}, decimal.Zero)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Open(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, money("-1.00"))
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestCloseComputesVariance(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	sess, err := svc.Open(context.Background(), actor, money("100.00"))
	require.NoError(t, err)

	require.NoError(t, svc.RecordSale(context.Background(), sess.ID, []PaymentSplit{
		{Method: ledger.MethodDinheiro, Amount: money("50.00")},
		{Method: ledger.MethodPix, Amount: money("80.00")},
	}))

	// Expected cash counts the opening float plus DINHEIRO only.
	result, err := svc.Close(context.Background(), actor, sess.ID, money("140.00"))
	require.NoError(t, err)
	require.True(t, result.ExpectedCash.Equal(money("150.00")))
	require.True(t, result.Variance.Equal(money("-10.00")))
	require.Equal(t, StatusClosed, result.Session.Status)

	// Closing is terminal.
	_, err = svc.Close(context.Background(), actor, sess.ID, money("140.00"))
	require.ErrorIs(t, err, shared.ErrRegisterNotOpen)
}

func TestCloseForeignSessionNeedsAdmin(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	sess, err := svc.Open(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, decimal.Zero)
	require.NoError(t, err)

	_, err = svc.Close(context.Background(), shared.Actor{ID: "op-2", Role: shared.RoleCashier}, sess.ID, decimal.Zero)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Close(context.Background(), shared.Actor{ID: "adm-1", Role: shared.RoleAdmin}, sess.ID, decimal.Zero)
	require.NoError(t, err)
}

func TestRecordSaleValidatesSplits(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	sess, err := svc.Open(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, decimal.Zero)
	require.NoError(t, err)

	err = svc.RecordSale(context.Background(), sess.ID, []PaymentSplit{
		{Method: "CHEQUE", Amount: money("10.00")},
	})
	require.Error(t, err)

	err = svc.RecordSale(context.Background(), sess.ID, []PaymentSplit{
		{Method: ledger.MethodPix, Amount: decimal.Zero},
	})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestSnapshotServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := newMemoryRepo()
	svc := NewService(repo, nil, client)
	sess, err := svc.Open(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, money("100.00"))
	require.NoError(t, err)

	first, err := svc.Snapshot(context.Background(), sess.ID)
	require.NoError(t, err)
	loads := repo.getCalls

	second, err := svc.Snapshot(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, loads, repo.getCalls)

	// A sale invalidates the snapshot so the next read sees fresh totals.
	require.NoError(t, svc.RecordSale(context.Background(), sess.ID, []PaymentSplit{
		{Method: ledger.MethodDinheiro, Amount: money("25.00")},
	}))
	third, err := svc.Snapshot(context.Background(), sess.ID)
	require.NoError(t, err)
	require.True(t, third.Totals.Dinheiro.Equal(money("25.00")))
	require.Greater(t, repo.getCalls, loads)
}

func TestExpectedCashIncludesExchangeDifferences(t *testing.T) {
	sess := Session{
		OpeningBalance: money("100.00"),
	}
	sess.Totals.Add(ledger.MethodDinheiro, money("40.00"))
	sess.Totals.Add(ledger.MethodPix, money("99.00"))
	require.True(t, sess.ExpectedCash().Equal(money("140.00")))
}
