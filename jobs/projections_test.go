package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/register"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

type fakeRegisterRepo struct {
	sessions map[string]register.Session
}

func newFakeRegisterRepo() *fakeRegisterRepo {
	return &fakeRegisterRepo{sessions: make(map[string]register.Session)}
}

func (r *fakeRegisterRepo) Insert(ctx context.Context, operatorID string, openingBalance decimal.Decimal, openedAt time.Time) (register.Session, error) {
	sess := register.Session{ID: "reg-" + operatorID, OperatorID: operatorID, OpeningBalance: openingBalance, OpenedAt: openedAt, Status: register.StatusOpen}
	r.sessions[sess.ID] = sess
	return sess, nil
}

func (r *fakeRegisterRepo) Get(ctx context.Context, id string) (register.Session, error) {
	sess, ok := r.sessions[id]
	if !ok {
		return register.Session{}, shared.ErrNotFound
	}
	return sess, nil
}

func (r *fakeRegisterRepo) OpenForOperator(ctx context.Context, operatorID string) (register.Session, error) {
	for _, sess := range r.sessions {
		if sess.OperatorID == operatorID && sess.Status == register.StatusOpen {
			return sess, nil
		}
	}
	return register.Session{}, shared.ErrNotFound
}

func (r *fakeRegisterRepo) Finalize(ctx context.Context, id string, closingBalance decimal.Decimal, closedAt time.Time) (register.Session, error) {
	sess := r.sessions[id]
	sess.Status = register.StatusClosed
	r.sessions[id] = sess
	return sess, nil
}

func (r *fakeRegisterRepo) ApplySale(ctx context.Context, id string, splits []register.PaymentSplit) error {
	sess, ok := r.sessions[id]
	if !ok {
		return shared.ErrNotFound
	}
	if sess.Status != register.StatusOpen {
		return shared.ErrRegisterNotOpen
	}
	for _, split := range splits {
		sess.Totals.Add(split.Method, split.Amount)
	}
	sess.SalesCount++
	r.sessions[id] = sess
	return nil
}

func (r *fakeRegisterRepo) ReconcileTotals(ctx context.Context, id string) (register.Session, error) {
	return r.Get(ctx, id)
}

func (r *fakeRegisterRepo) ListOpen(ctx context.Context) ([]register.Session, error) {
	var out []register.Session
	for _, sess := range r.sessions {
		if sess.Status == register.StatusOpen {
			out = append(out, sess)
		}
	}
	return out, nil
}

func saleTask(t *testing.T, payload RegisterSalePayload) *asynq.Task {
	t.Helper()
	task, _, err := NewRegisterSaleTask(payload)
	require.NoError(t, err)
	return task
}

func TestHandleRegisterSaleAppliesTotals(t *testing.T) {
	repo := newFakeRegisterRepo()
	svc := register.NewService(repo, nil, nil)
	_, err := svc.Open(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, decimal.Zero)
	require.NoError(t, err)

	projector := NewProjector(svc, nil, nil)
	err = projector.HandleRegisterSale(context.Background(), saleTask(t, RegisterSalePayload{
		OperatorID: "op-1",
		OrderID:    "o1",
		Splits: []PaymentSplitPayload{
			{Method: string(ledger.MethodDinheiro), Amount: decimal.RequireFromString("30.00")},
			{Method: string(ledger.MethodPix), Amount: decimal.RequireFromString("20.00")},
		},
	}))
	require.NoError(t, err)

	sess, err := repo.OpenForOperator(context.Background(), "op-1")
	require.NoError(t, err)
	require.True(t, sess.Totals.Dinheiro.Equal(decimal.RequireFromString("30.00")))
	require.True(t, sess.Totals.Pix.Equal(decimal.RequireFromString("20.00")))
	require.Equal(t, 1, sess.SalesCount)
}

func TestHandleRegisterSaleDropsWithoutOpenSession(t *testing.T) {
	repo := newFakeRegisterRepo()
	projector := NewProjector(register.NewService(repo, nil, nil), nil, nil)

	err := projector.HandleRegisterSale(context.Background(), saleTask(t, RegisterSalePayload{
		OperatorID: "op-1",
		OrderID:    "o1",
		Splits:     []PaymentSplitPayload{{Method: string(ledger.MethodPix), Amount: decimal.RequireFromString("10.00")}},
	}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleRegisterSaleDropsBadPayload(t *testing.T) {
	projector := NewProjector(register.NewService(newFakeRegisterRepo(), nil, nil), nil, nil)
	err := projector.HandleRegisterSale(context.Background(), asynq.NewTask(TaskRegisterSale, []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleRegisterReconcileSweepsOpenSessions(t *testing.T) {
	repo := newFakeRegisterRepo()
	svc := register.NewService(repo, nil, nil)
	_, err := svc.Open(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, decimal.Zero)
	require.NoError(t, err)
	_, err = svc.Open(context.Background(), shared.Actor{ID: "op-2", Role: shared.RoleCashier}, decimal.Zero)
	require.NoError(t, err)

	projector := NewProjector(svc, nil, nil)
	handler := projector.HandleRegisterReconcile(repo)
	require.NoError(t, handler(context.Background(), NewRegisterReconcileTask()))
}

func TestRegisterSaleTaskDedupesByOrder(t *testing.T) {
	payload := RegisterSalePayload{OperatorID: "op-1", OrderID: "o1"}
	task, opts, err := NewRegisterSaleTask(payload)
	require.NoError(t, err)
	require.Equal(t, TaskRegisterSale, task.Type())

	var decoded RegisterSalePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, "o1", decoded.OrderID)

	var taskID string
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			taskID, _ = opt.Value().(string)
		}
	}
	require.Equal(t, "register_sale:o1", taskID)
}

func TestClientBalanceTaskDedupesByOrder(t *testing.T) {
	_, opts, err := NewClientBalanceTask(ClientBalancePayload{OrderID: "o9", ClientID: "c1", Amount: decimal.RequireFromString("50.00")})
	require.NoError(t, err)

	var taskID string
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			taskID, _ = opt.Value().(string)
		}
	}
	require.Equal(t, "client_balance:o9", taskID)
}
