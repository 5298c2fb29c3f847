package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/balcao-erp/balcao-erp/internal/catalog"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/register"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

type memoryRepo struct {
	mu           sync.Mutex
	products     map[string]catalog.Product
	clients      map[string]bool
	closedMonths map[string]bool
	orders       map[string]Order
	movements    []ledger.Movement
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:     make(map[string]catalog.Product),
		clients:      make(map[string]bool),
		closedMonths: make(map[string]bool),
		orders:       make(map[string]Order),
	}
}

type memoryTx struct {
	repo *memoryRepo
}

// WithTx serializes transactions the way row locks do and restores the
// snapshot on error.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	products := make(map[string]catalog.Product, len(r.products))
	for k, v := range r.products {
		v.Sizes = append([]catalog.SizeStock(nil), v.Sizes...)
		products[k] = v
	}
	orders := make(map[string]Order, len(r.orders))
	for k, v := range r.orders {
		orders[k] = v
	}
	movements := len(r.movements)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products = products
		r.orders = orders
		r.movements = r.movements[:movements]
		return err
	}
	return nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return Order{}, shared.ErrNotFound
	}
	return order, nil
}

func (tx *memoryTx) EnsureMonthOpen(ctx context.Context, month string) error {
	if tx.repo.closedMonths[month] {
		return shared.ErrPeriodClosed
	}
	return nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, productID string) (catalog.Product, error) {
	p, ok := tx.repo.products[productID]
	if !ok {
		return catalog.Product{}, shared.ErrNotFound
	}
	return p, nil
}

// ApplyStockDelta mirrors the real conditional UPDATE: exact label match,
// refusing to drive any count negative.
func (tx *memoryTx) ApplyStockDelta(ctx context.Context, productID, size string, delta int) error {
	p, ok := tx.repo.products[productID]
	if !ok || p.Stock+delta < 0 {
		return &shared.InsufficientStockError{ProductID: productID, Requested: -delta}
	}
	p.Stock += delta
	if size != "" {
		matched := false
		for i := range p.Sizes {
			if p.Sizes[i].Label == size && p.Sizes[i].Stock+delta >= 0 {
				p.Sizes[i].Stock += delta
				matched = true
			}
		}
		if !matched {
			return &shared.InsufficientStockError{ProductID: productID, Size: size, Requested: -delta}
		}
	}
	tx.repo.products[productID] = p
	return nil
}

func (tx *memoryTx) ClientExists(ctx context.Context, clientID string) error {
	if !tx.repo.clients[clientID] {
		return shared.ErrNotFound
	}
	return nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, order Order) error {
	tx.repo.orders[order.ID] = order
	return nil
}

func (tx *memoryTx) InsertOrderItems(ctx context.Context, items []OrderItem) error {
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error) {
	mv.Month = ledger.CompetencyMonth(mv.OccurredAt)
	tx.repo.movements = append(tx.repo.movements, mv)
	return mv, nil
}

type memoryIdemEntry struct {
	hash     string
	response []byte
	done     bool
}

type memoryIdem struct {
	mu      sync.Mutex
	entries map[string]memoryIdemEntry
}

func newMemoryIdem() *memoryIdem {
	return &memoryIdem{entries: make(map[string]memoryIdemEntry)}
}

func idemKey(scope, actorID, token string) string {
	return scope + "|" + actorID + "|" + token
}

func (m *memoryIdem) Begin(ctx context.Context, scope, actorID, token, requestHash string) (shared.BeginResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := idemKey(scope, actorID, token)
	entry, ok := m.entries[key]
	if !ok {
		m.entries[key] = memoryIdemEntry{hash: requestHash}
		return shared.BeginResult{Fresh: true}, nil
	}
	if entry.hash != requestHash {
		return shared.BeginResult{}, shared.ErrIdempotencyConflict
	}
	if !entry.done {
		return shared.BeginResult{}, shared.ErrAlreadyProcessing
	}
	return shared.BeginResult{Response: entry.response}, nil
}

func (m *memoryIdem) Complete(ctx context.Context, scope, actorID, token string, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := idemKey(scope, actorID, token)
	entry := m.entries[key]
	entry.response = response
	entry.done = true
	m.entries[key] = entry
	return nil
}

func (m *memoryIdem) Abort(ctx context.Context, scope, actorID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, idemKey(scope, actorID, token))
	return nil
}

type recordedProjections struct {
	registerSales  int
	clientBalances int
	splits         []register.PaymentSplit
	balanceAmount  decimal.Decimal
}

func (p *recordedProjections) EnqueueRegisterSale(ctx context.Context, operatorID, orderID string, splits []register.PaymentSplit) error {
	p.registerSales++
	p.splits = splits
	return nil
}

func (p *recordedProjections) EnqueueClientBalance(ctx context.Context, orderID, clientID string, amount decimal.Decimal) error {
	p.clientBalances++
	p.balanceAmount = amount
	return nil
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedShirt(repo *memoryRepo, stock int) {
	repo.products["p1"] = catalog.Product{
		ID:        "p1",
		Name:      "Camisa",
		SKU:       "CAM-001",
		CostPrice: money("10.00"),
		SalePrice: money("25.00"),
		Stock:     stock,
	}
}

func newCheckoutService(repo *memoryRepo, projections ProjectionPort) *Service {
	svc := NewService(repo, newMemoryIdem(), projections, nil)
	svc.WithNow(func() time.Time {
		return time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC)
	})
	return svc
}

func TestCheckoutCommitsSaleAndMovements(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	projections := &recordedProjections{}
	svc := newCheckoutService(repo, projections)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	order, err := svc.Checkout(context.Background(), actor, Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 2}},
		Payments:         []Payment{{Method: ledger.MethodDinheiro, Amount: money("50.00")}},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)
	require.True(t, order.TotalAmount.Equal(money("50.00")))
	require.True(t, order.TotalCost.Equal(money("20.00")))
	require.Equal(t, 3, repo.products["p1"].Stock)

	require.Len(t, repo.movements, 2)
	revenue, cogs := repo.movements[0], repo.movements[1]
	require.Equal(t, ledger.MovementSaleRevenue, revenue.Type)
	require.Equal(t, ledger.DirectionIn, revenue.Direction)
	require.True(t, revenue.Amount.Equal(money("50.00")))
	require.Equal(t, ledger.MethodDinheiro, revenue.Method)
	require.Equal(t, "2025-03", revenue.Month)
	require.Equal(t, ledger.MovementCOGS, cogs.Type)
	require.Equal(t, ledger.DirectionOut, cogs.Direction)
	require.True(t, cogs.Amount.Equal(money("20.00")))

	require.Equal(t, 1, projections.registerSales)
	require.Len(t, projections.splits, 1)
	require.Equal(t, ledger.MethodDinheiro, projections.splits[0].Method)
}

func TestCheckoutRejectsOversell(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	svc := newCheckoutService(repo, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	_, err := svc.Checkout(context.Background(), actor, Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 6}},
		Payments:         []Payment{{Method: ledger.MethodPix, Amount: money("150.00")}},
		IdempotencyToken: "tok-1",
	})
	require.True(t, shared.IsInsufficientStock(err))
	require.Equal(t, 5, repo.products["p1"].Stock)
	require.Empty(t, repo.orders)
	require.Empty(t, repo.movements)
}

func TestCheckoutAggregatesDuplicateLines(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	svc := newCheckoutService(repo, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	// Two lines of 3 against a stock of 5 must fail together even though
	// each line alone would fit.
	_, err := svc.Checkout(context.Background(), actor, Input{
		Items: []CartItem{
			{ProductID: "p1", Quantity: 3},
			{ProductID: "p1", Quantity: 3},
		},
		Payments:         []Payment{{Method: ledger.MethodPix, Amount: money("150.00")}},
		IdempotencyToken: "tok-1",
	})
	require.True(t, shared.IsInsufficientStock(err))
}

func TestCheckoutPerSizeStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.products["p2"] = catalog.Product{
		ID:        "p2",
		CostPrice: money("8.00"),
		SalePrice: money("20.00"),
		Stock:     4,
		Sizes: []catalog.SizeStock{
			{Label: "M", Stock: 1},
			{Label: "G", Stock: 3},
		},
	}
	svc := newCheckoutService(repo, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	_, err := svc.Checkout(context.Background(), actor, Input{
		Items:            []CartItem{{ProductID: "p2", Size: "M", Quantity: 2}},
		Payments:         []Payment{{Method: ledger.MethodDebito, Amount: money("40.00")}},
		IdempotencyToken: "tok-1",
	})
	require.True(t, shared.IsInsufficientStock(err))

	order, err := svc.Checkout(context.Background(), actor, Input{
		Items:            []CartItem{{ProductID: "p2", Size: "G", Quantity: 2}},
		Payments:         []Payment{{Method: ledger.MethodDebito, Amount: money("40.00")}},
		IdempotencyToken: "tok-2",
	})
	require.NoError(t, err)
	require.True(t, order.TotalAmount.Equal(money("40.00")))
	require.Equal(t, 1, repo.products["p2"].Sizes[1].Stock)
	require.Equal(t, 2, repo.products["p2"].Stock)

	_, err = svc.Checkout(context.Background(), actor, Input{
		Items:            []CartItem{{ProductID: "p2", Size: "XG", Quantity: 1}},
		Payments:         []Payment{{Method: ledger.MethodDebito, Amount: money("20.00")}},
		IdempotencyToken: "tok-3",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckoutSizeLabelCasing(t *testing.T) {
	repo := newMemoryRepo()
	repo.products["p2"] = catalog.Product{
		ID:        "p2",
		CostPrice: money("8.00"),
		SalePrice: money("20.00"),
		Stock:     5,
		Sizes: []catalog.SizeStock{
			{Label: "M", Stock: 5},
		},
	}
	svc := newCheckoutService(repo, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	// A lower-case size must decrement the canonical "M" row, not miss it.
	order, err := svc.Checkout(context.Background(), actor, Input{
		Items:            []CartItem{{ProductID: "p2", Size: "m", Quantity: 2}},
		Payments:         []Payment{{Method: ledger.MethodPix, Amount: money("40.00")}},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)
	require.Equal(t, "M", order.Items[0].Size)
	require.Equal(t, 3, repo.products["p2"].Stock)
	require.Equal(t, 3, repo.products["p2"].Sizes[0].Stock)
}

func TestCheckoutConcurrentLastUnit(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 1)
	svc := newCheckoutService(repo, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	buy := func(token string) error {
		_, err := svc.Checkout(context.Background(), actor, Input{
			Items:            []CartItem{{ProductID: "p1", Quantity: 1}},
			Payments:         []Payment{{Method: ledger.MethodPix, Amount: money("25.00")}},
			IdempotencyToken: token,
		})
		return err
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, token := range []string{"tok-a", "tok-b"} {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			errs <- buy(token)
		}(token)
	}
	wg.Wait()
	close(errs)

	// Exactly one request wins the last unit; the other fails cleanly.
	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case shared.IsInsufficientStock(err):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, lost)
	require.Equal(t, 0, repo.products["p1"].Stock)
	require.Len(t, repo.orders, 1)
	require.Len(t, repo.movements, 2)
}

func TestCheckoutPaymentTotalMustMatch(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	svc := newCheckoutService(repo, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	_, err := svc.Checkout(context.Background(), actor, Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 2}},
		Payments:         []Payment{{Method: ledger.MethodDinheiro, Amount: money("49.00")}},
		IdempotencyToken: "tok-1",
	})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
	require.Empty(t, repo.movements)
}

func TestCheckoutDiscountRequiresAdmin(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	svc := newCheckoutService(repo, nil)

	in := Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 2}},
		Payments:         []Payment{{Method: ledger.MethodDinheiro, Amount: money("45.00")}},
		Discount:         money("5.00"),
		IdempotencyToken: "tok-1",
	}

	_, err := svc.Checkout(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, in)
	require.ErrorIs(t, err, shared.ErrForbidden)

	order, err := svc.Checkout(context.Background(), shared.Actor{ID: "adm-1", Role: shared.RoleAdmin}, in)
	require.NoError(t, err)
	require.True(t, order.TotalAmount.Equal(money("45.00")))
}

func TestCheckoutPayLater(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	repo.clients["c1"] = true
	projections := &recordedProjections{}
	svc := newCheckoutService(repo, projections)

	in := Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 2}},
		ClientID:         "c1",
		PayLater:         true,
		IdempotencyToken: "tok-1",
	}

	_, err := svc.Checkout(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, in)
	require.ErrorIs(t, err, shared.ErrForbidden)

	order, err := svc.Checkout(context.Background(), shared.Actor{ID: "adm-1", Role: shared.RoleAdmin}, in)
	require.NoError(t, err)
	require.True(t, order.IsPaidLater)
	require.True(t, order.RemainingAmount.Equal(money("50.00")))
	require.True(t, order.AmountPaid.IsZero())
	require.Equal(t, 0, projections.registerSales)
	require.Equal(t, 1, projections.clientBalances)
	require.True(t, projections.balanceAmount.Equal(money("50.00")))

	// Revenue and COGS post at sale time regardless of settlement.
	require.Len(t, repo.movements, 2)
}

func TestCheckoutPayLaterUnknownClient(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	svc := newCheckoutService(repo, nil)

	_, err := svc.Checkout(context.Background(), shared.Actor{ID: "adm-1", Role: shared.RoleAdmin}, Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 1}},
		ClientID:         "ghost",
		PayLater:         true,
		IdempotencyToken: "tok-1",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	svc := newCheckoutService(repo, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}
	in := Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 2}},
		Payments:         []Payment{{Method: ledger.MethodDinheiro, Amount: money("50.00")}},
		IdempotencyToken: "tok-1",
	}

	first, err := svc.Checkout(context.Background(), actor, in)
	require.NoError(t, err)

	second, err := svc.Checkout(context.Background(), actor, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// The replay must not touch stock or post movements again.
	require.Equal(t, 3, repo.products["p1"].Stock)
	require.Len(t, repo.movements, 2)
}

func TestCheckoutTokenReuseWithDifferentPayload(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	svc := newCheckoutService(repo, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	_, err := svc.Checkout(context.Background(), actor, Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 2}},
		Payments:         []Payment{{Method: ledger.MethodDinheiro, Amount: money("50.00")}},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)

	_, err = svc.Checkout(context.Background(), actor, Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 1}},
		Payments:         []Payment{{Method: ledger.MethodDinheiro, Amount: money("25.00")}},
		IdempotencyToken: "tok-1",
	})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestCheckoutMissingToken(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	svc := newCheckoutService(repo, nil)

	_, err := svc.Checkout(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, Input{
		Items:    []CartItem{{ProductID: "p1", Quantity: 1}},
		Payments: []Payment{{Method: ledger.MethodPix, Amount: money("25.00")}},
	})
	require.ErrorIs(t, err, shared.ErrMissingIdempotencyToken)
}

func TestCheckoutClosedMonth(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 5)
	repo.closedMonths["2025-03"] = true
	svc := newCheckoutService(repo, nil)

	_, err := svc.Checkout(context.Background(), shared.Actor{ID: "op-1", Role: shared.RoleCashier}, Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 1}},
		Payments:         []Payment{{Method: ledger.MethodPix, Amount: money("25.00")}},
		IdempotencyToken: "tok-1",
	})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Empty(t, repo.orders)
}

func TestCheckoutAbortFreesToken(t *testing.T) {
	repo := newMemoryRepo()
	seedShirt(repo, 1)
	svc := newCheckoutService(repo, nil)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}
	in := Input{
		Items:            []CartItem{{ProductID: "p1", Quantity: 2}},
		Payments:         []Payment{{Method: ledger.MethodPix, Amount: money("50.00")}},
		IdempotencyToken: "tok-1",
	}

	_, err := svc.Checkout(context.Background(), actor, in)
	require.True(t, shared.IsInsufficientStock(err))

	// After the failure the token is reusable once the cart fits.
	seedShirt(repo, 2)
	order, err := svc.Checkout(context.Background(), actor, in)
	require.NoError(t, err)
	require.False(t, order.TotalAmount.IsZero())
}
