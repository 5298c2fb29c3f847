package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/register"
)

// ReconcileCronSpec runs the register sweep nightly at 03:00 UTC.
const ReconcileCronSpec = "0 3 * * *"

// Worker wraps the asynq server and the cron scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts    asynq.RedisClientOpt
	Logger       *slog.Logger
	Projector    *Projector
	RegisterRepo ListOpenPort
	Concurrency  int
	DisableCron  bool
}

// NewWorker constructs a Worker with the projection handlers and the
// reconciliation cron registered.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Projector == nil {
		return nil, errors.New("jobs: projector required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRegisterSale, cfg.Projector.HandleRegisterSale)
	mux.HandleFunc(TaskClientBalance, cfg.Projector.HandleClientBalance)
	if cfg.RegisterRepo != nil {
		mux.Handle(TaskRegisterReconcile, cfg.Projector.HandleRegisterReconcile(cfg.RegisterRepo))
	}

	var scheduler *asynq.Scheduler
	if !cfg.DisableCron && cfg.RegisterRepo != nil {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		if _, err := scheduler.Register(ReconcileCronSpec, NewRegisterReconcileTask(), asynq.Queue(QueueDefault)); err != nil {
			return nil, err
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client enqueues projection tasks. It implements the checkout engine's
// projection port.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueRegisterSale schedules the register projection for a committed sale.
func (c *Client) EnqueueRegisterSale(ctx context.Context, operatorID, orderID string, splits []register.PaymentSplit) error {
	payload := RegisterSalePayload{OperatorID: operatorID, OrderID: orderID}
	for _, s := range splits {
		payload.Splits = append(payload.Splits, PaymentSplitPayload{Method: string(s.Method), Amount: s.Amount})
	}
	task, opts, err := NewRegisterSaleTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	return err
}

// EnqueueClientBalance schedules the balance projection for a deferred sale.
func (c *Client) EnqueueClientBalance(ctx context.Context, orderID, clientID string, amount decimal.Decimal) error {
	task, opts, err := NewClientBalanceTask(ClientBalancePayload{OrderID: orderID, ClientID: clientID, Amount: amount})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
