// Package jobs carries the asynq tasks behind the two-phase commit design:
// the sale commits first, then projection tasks update register totals and
// client balances at least once, with a reconciliation sweep as backstop.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	// QueueDefault is the queue all ledger projections run on.
	QueueDefault = "default"

	// TaskRegisterSale applies a committed sale's payment breakdown to the
	// operator's open register.
	TaskRegisterSale = "projection:register_sale"
	// TaskClientBalance applies a deferred sale to the client's running
	// balance, guarded by the order's balance_applied marker.
	TaskClientBalance = "projection:client_balance"
	// TaskRegisterReconcile recomputes every open register's totals from
	// committed orders and exchanges.
	TaskRegisterReconcile = "register:reconcile"
)

// PaymentSplitPayload is one method's share of a sale.
type PaymentSplitPayload struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// RegisterSalePayload identifies the sale to project onto a register.
type RegisterSalePayload struct {
	OperatorID string                `json:"operatorId"`
	OrderID    string                `json:"orderId"`
	Splits     []PaymentSplitPayload `json:"splits"`
}

// ClientBalancePayload identifies the deferred sale to apply.
type ClientBalancePayload struct {
	OrderID  string          `json:"orderId"`
	ClientID string          `json:"clientId"`
	Amount   decimal.Decimal `json:"amount"`
}

// NewRegisterSaleTask constructs the register projection task. The task id is
// derived from the order so a double enqueue dedupes in the queue.
func NewRegisterSaleTask(payload RegisterSalePayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.TaskID("register_sale:" + payload.OrderID),
		asynq.MaxRetry(5),
	}
	return asynq.NewTask(TaskRegisterSale, data), opts, nil
}

// NewClientBalanceTask constructs the client-balance projection task.
func NewClientBalanceTask(payload ClientBalancePayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.TaskID("client_balance:" + payload.OrderID),
		asynq.MaxRetry(5),
	}
	return asynq.NewTask(TaskClientBalance, data), opts, nil
}

// NewRegisterReconcileTask constructs the reconciliation sweep task.
func NewRegisterReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskRegisterReconcile, nil)
}
