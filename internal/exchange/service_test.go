package exchange

import (
	"context"
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
	products     map[string]catalog.Product
	registers    map[string]register.Session
	closedMonths map[string]bool
	records      map[string]Record
	movements    []ledger.Movement
	registerAdds []decimal.Decimal
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:     make(map[string]catalog.Product),
		registers:    make(map[string]register.Session),
		closedMonths: make(map[string]bool),
		records:      make(map[string]Record),
	}
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	products := make(map[string]catalog.Product, len(r.products))
	for k, v := range r.products {
		v.Sizes = append([]catalog.SizeStock(nil), v.Sizes...)
		products[k] = v
	}
	records := make(map[string]Record, len(r.records))
	for k, v := range r.records {
		records[k] = v
	}
	movements := len(r.movements)
	adds := len(r.registerAdds)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products = products
		r.records = records
		r.movements = r.movements[:movements]
		r.registerAdds = r.registerAdds[:adds]
		return err
	}
	return nil
}

func (r *memoryRepo) GetRecord(ctx context.Context, id string) (Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	return rec, nil
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

func (tx *memoryTx) GetRegisterForUpdate(ctx context.Context, registerID string) (register.Session, error) {
	sess, ok := tx.repo.registers[registerID]
	if !ok {
		return register.Session{}, shared.ErrNotFound
	}
	return sess, nil
}

func (tx *memoryTx) AddRegisterExchangeDifference(ctx context.Context, registerID string, method ledger.PaymentMethod, amount decimal.Decimal) error {
	tx.repo.registerAdds = append(tx.repo.registerAdds, amount)
	return nil
}

func (tx *memoryTx) InsertRecord(ctx context.Context, rec Record) error {
	tx.repo.records[rec.ID] = rec
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error) {
	mv.Month = ledger.CompetencyMonth(mv.OccurredAt)
	tx.repo.movements = append(tx.repo.movements, mv)
	return mv, nil
}

type memoryIdem struct {
	entries map[string]memoryIdemEntry
}

type memoryIdemEntry struct {
	hash     string
	response []byte
	done     bool
}

func newMemoryIdem() *memoryIdem {
	return &memoryIdem{entries: make(map[string]memoryIdemEntry)}
}

func (m *memoryIdem) Begin(ctx context.Context, scope, actorID, token, requestHash string) (shared.BeginResult, error) {
	key := scope + "|" + actorID + "|" + token
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
	key := scope + "|" + actorID + "|" + token
	entry := m.entries[key]
	entry.response = response
	entry.done = true
	m.entries[key] = entry
	return nil
}

func (m *memoryIdem) Abort(ctx context.Context, scope, actorID, token string) error {
	delete(m.entries, scope+"|"+actorID+"|"+token)
	return nil
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newExchangeService(repo *memoryRepo) *Service {
	svc := NewService(repo, newMemoryIdem(), nil)
	svc.WithNow(func() time.Time {
		return time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC)
	})
	return svc
}

func seedProducts(repo *memoryRepo) {
	repo.products["cheap"] = catalog.Product{ID: "cheap", SalePrice: money("30.00"), CostPrice: money("12.00"), Stock: 10}
	repo.products["dear"] = catalog.Product{ID: "dear", SalePrice: money("45.00"), CostPrice: money("20.00"), Stock: 4}
}

func TestExchangeEvenSwap(t *testing.T) {
	repo := newMemoryRepo()
	seedProducts(repo)
	svc := newExchangeService(repo)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	rec, err := svc.Exchange(context.Background(), actor, Input{
		Items: []ItemInput{
			{ProductID: "cheap", Quantity: 1, Direction: DirectionIn},
			{ProductID: "cheap", Quantity: 1, Direction: DirectionOut},
		},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)
	require.True(t, rec.Difference.IsZero())
	require.True(t, rec.CashInAmount.IsZero())
	require.Empty(t, rec.PaymentMethod)

	// In and out cancel: net stock unchanged, no money moved.
	require.Equal(t, 10, repo.products["cheap"].Stock)
	require.Empty(t, repo.movements)
	require.Empty(t, repo.registerAdds)
}

func TestExchangeCustomerOwesDifference(t *testing.T) {
	repo := newMemoryRepo()
	seedProducts(repo)
	repo.registers["reg-1"] = register.Session{ID: "reg-1", Status: register.StatusOpen}
	svc := newExchangeService(repo)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	rec, err := svc.Exchange(context.Background(), actor, Input{
		Items: []ItemInput{
			{ProductID: "cheap", Quantity: 1, Direction: DirectionIn},
			{ProductID: "dear", Quantity: 1, Direction: DirectionOut},
		},
		PaymentMethod:    ledger.MethodPix,
		RegisterID:       "reg-1",
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)
	require.True(t, rec.Difference.Equal(money("15.00")))
	require.True(t, rec.CashInAmount.Equal(money("15.00")))
	require.Equal(t, ledger.MethodPix, rec.PaymentMethod)

	require.Equal(t, 11, repo.products["cheap"].Stock)
	require.Equal(t, 3, repo.products["dear"].Stock)

	require.Len(t, repo.movements, 1)
	mv := repo.movements[0]
	require.Equal(t, ledger.MovementExchangeDifference, mv.Type)
	require.Equal(t, ledger.DirectionIn, mv.Direction)
	require.True(t, mv.Amount.Equal(money("15.00")))
	require.Equal(t, "exchange", mv.RefKind)

	require.Len(t, repo.registerAdds, 1)
	require.True(t, repo.registerAdds[0].Equal(money("15.00")))
}

func TestExchangeStoreOwesCustomer(t *testing.T) {
	repo := newMemoryRepo()
	seedProducts(repo)
	svc := newExchangeService(repo)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	// Customer trades down: the store keeps the credit, no cash moves.
	rec, err := svc.Exchange(context.Background(), actor, Input{
		Items: []ItemInput{
			{ProductID: "dear", Quantity: 1, Direction: DirectionIn},
			{ProductID: "cheap", Quantity: 1, Direction: DirectionOut},
		},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)
	require.True(t, rec.Difference.Equal(money("-15.00")))
	require.True(t, rec.CashInAmount.IsZero())
	require.Empty(t, repo.movements)
}

func TestExchangeDifferenceRequiresMethod(t *testing.T) {
	repo := newMemoryRepo()
	seedProducts(repo)
	svc := newExchangeService(repo)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	_, err := svc.Exchange(context.Background(), actor, Input{
		Items: []ItemInput{
			{ProductID: "cheap", Quantity: 1, Direction: DirectionIn},
			{ProductID: "dear", Quantity: 1, Direction: DirectionOut},
		},
		IdempotencyToken: "tok-1",
	})
	require.ErrorIs(t, err, shared.ErrPaymentMethodRequired)

	// Nothing committed, including the stock-in side.
	require.Equal(t, 10, repo.products["cheap"].Stock)
	require.Equal(t, 4, repo.products["dear"].Stock)
	require.Empty(t, repo.records)
}

func TestExchangeRejectsOversellOut(t *testing.T) {
	repo := newMemoryRepo()
	seedProducts(repo)
	svc := newExchangeService(repo)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	_, err := svc.Exchange(context.Background(), actor, Input{
		Items: []ItemInput{
			{ProductID: "dear", Quantity: 5, Direction: DirectionOut},
		},
		PaymentMethod:    ledger.MethodDinheiro,
		IdempotencyToken: "tok-1",
	})
	require.True(t, shared.IsInsufficientStock(err))
	require.Equal(t, 4, repo.products["dear"].Stock)
}

func TestExchangeClosedRegisterRejected(t *testing.T) {
	repo := newMemoryRepo()
	seedProducts(repo)
	repo.registers["reg-1"] = register.Session{ID: "reg-1", Status: register.StatusClosed}
	svc := newExchangeService(repo)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	_, err := svc.Exchange(context.Background(), actor, Input{
		Items: []ItemInput{
			{ProductID: "cheap", Quantity: 1, Direction: DirectionIn},
			{ProductID: "dear", Quantity: 1, Direction: DirectionOut},
		},
		PaymentMethod:    ledger.MethodDinheiro,
		RegisterID:       "reg-1",
		IdempotencyToken: "tok-1",
	})
	require.ErrorIs(t, err, shared.ErrRegisterNotOpen)
}

func TestExchangeClosedMonth(t *testing.T) {
	repo := newMemoryRepo()
	seedProducts(repo)
	repo.closedMonths["2025-03"] = true
	svc := newExchangeService(repo)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	_, err := svc.Exchange(context.Background(), actor, Input{
		Items:            []ItemInput{{ProductID: "cheap", Quantity: 1, Direction: DirectionIn}},
		IdempotencyToken: "tok-1",
	})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
}

func TestExchangeIdempotentReplay(t *testing.T) {
	repo := newMemoryRepo()
	seedProducts(repo)
	svc := newExchangeService(repo)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}
	in := Input{
		Items: []ItemInput{
			{ProductID: "cheap", Quantity: 1, Direction: DirectionIn},
			{ProductID: "dear", Quantity: 1, Direction: DirectionOut},
		},
		PaymentMethod:    ledger.MethodCredito,
		IdempotencyToken: "tok-1",
	}

	first, err := svc.Exchange(context.Background(), actor, in)
	require.NoError(t, err)
	second, err := svc.Exchange(context.Background(), actor, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.movements, 1)
	require.Equal(t, 3, repo.products["dear"].Stock)
}

func TestExchangeSizedProductRequiresSize(t *testing.T) {
	repo := newMemoryRepo()
	repo.products["sized"] = catalog.Product{
		ID:        "sized",
		SalePrice: money("30.00"),
		Stock:     3,
		Sizes:     []catalog.SizeStock{{Label: "M", Stock: 3}},
	}
	svc := newExchangeService(repo)
	actor := shared.Actor{ID: "op-1", Role: shared.RoleCashier}

	_, err := svc.Exchange(context.Background(), actor, Input{
		Items:            []ItemInput{{ProductID: "sized", Quantity: 1, Direction: DirectionOut}},
		PaymentMethod:    ledger.MethodPix,
		IdempotencyToken: "tok-1",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	rec, err := svc.Exchange(context.Background(), actor, Input{
		Items:            []ItemInput{{ProductID: "sized", Size: "M", Quantity: 1, Direction: DirectionOut}},
		PaymentMethod:    ledger.MethodPix,
		IdempotencyToken: "tok-2",
	})
	require.NoError(t, err)
	require.True(t, rec.CashInAmount.Equal(money("30.00")))
	require.Equal(t, 2, repo.products["sized"].Sizes[0].Stock)

	// A lower-case size lands on the canonical "M" row.
	rec, err = svc.Exchange(context.Background(), actor, Input{
		Items:            []ItemInput{{ProductID: "sized", Size: "m", Quantity: 1, Direction: DirectionOut}},
		PaymentMethod:    ledger.MethodPix,
		IdempotencyToken: "tok-3",
	})
	require.NoError(t, err)
	require.Equal(t, "M", rec.Items[0].Size)
	require.Equal(t, 1, repo.products["sized"].Sizes[0].Stock)
	require.Equal(t, 1, repo.products["sized"].Stock)
}
