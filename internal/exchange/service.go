package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/balcao-erp/balcao-erp/internal/catalog"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/register"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Scope is the idempotency scope of exchange operations.
const Scope = "exchange"

// TxRepository exposes the transactional operations of one exchange commit.
// Unlike checkout, the register increments belong to the same atomic write
// set as the stock deltas and the exchange record.
type TxRepository interface {
	EnsureMonthOpen(ctx context.Context, month string) error
	GetProductForUpdate(ctx context.Context, productID string) (catalog.Product, error)
	ApplyStockDelta(ctx context.Context, productID, size string, delta int) error
	GetRegisterForUpdate(ctx context.Context, registerID string) (register.Session, error)
	AddRegisterExchangeDifference(ctx context.Context, registerID string, method ledger.PaymentMethod, amount decimal.Decimal) error
	InsertRecord(ctx context.Context, rec Record) error
	InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, id string) (Record, error)
}

// IdempotencyPort guards retried requests.
type IdempotencyPort interface {
	Begin(ctx context.Context, scope, actorID, token, requestHash string) (shared.BeginResult, error)
	Complete(ctx context.Context, scope, actorID, token string, response []byte) error
	Abort(ctx context.Context, scope, actorID, token string) error
}

// Service is the exchange engine.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, idempotency: idem, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Exchange validates the whole cart, then commits stock deltas, the exchange
// record and, when the customer owes a difference, the register increment
// and EXCHANGE_DIFFERENCE movement as one transaction. No partial
// application: if any item fails validation nothing is written.
func (s *Service) Exchange(ctx context.Context, actor shared.Actor, in Input) (Record, error) {
	if err := in.Validate(actor); err != nil {
		return Record{}, err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return Record{}, err
	}
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	begin, err := s.idempotency.Begin(ctx, Scope, actor.ID, in.IdempotencyToken, hash)
	if err != nil {
		return Record{}, err
	}
	if !begin.Fresh {
		var stored Record
		if err := json.Unmarshal(begin.Response, &stored); err != nil {
			return Record{}, fmt.Errorf("exchange: decode stored response: %w", err)
		}
		return stored, nil
	}

	rec, err := s.commit(ctx, actor, in)
	if err != nil {
		if abortErr := s.idempotency.Abort(ctx, Scope, actor.ID, in.IdempotencyToken); abortErr != nil {
			s.logger.Error("abort idempotency key", slog.Any("error", abortErr))
		}
		return Record{}, err
	}

	response, err := json.Marshal(rec)
	if err == nil {
		err = s.idempotency.Complete(ctx, Scope, actor.ID, in.IdempotencyToken, response)
	}
	if err != nil {
		s.logger.Error("complete idempotency key", slog.String("exchange_id", rec.ID), slog.Any("error", err))
	}
	return rec, nil
}

// Get loads one committed exchange.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.GetRecord(ctx, id)
}

func (s *Service) commit(ctx context.Context, actor shared.Actor, in Input) (Record, error) {
	now := s.now().UTC()
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.EnsureMonthOpen(ctx, ledger.CompetencyMonth(now)); err != nil {
			return err
		}
		if in.RegisterID != "" {
			sess, err := tx.GetRegisterForUpdate(ctx, in.RegisterID)
			if err != nil {
				return err
			}
			if sess.Status != register.StatusOpen {
				return shared.ErrRegisterNotOpen
			}
		}

		products := make(map[string]catalog.Product)
		for _, item := range in.Items {
			if _, ok := products[item.ProductID]; ok {
				continue
			}
			p, err := tx.GetProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return err
			}
			products[item.ProductID] = p
		}

		totalIn := decimal.Zero
		totalOut := decimal.Zero
		items := make([]Item, 0, len(in.Items))
		outRequested := make(map[string]int)
		deltas := make(map[string]int)
		for _, item := range in.Items {
			p := products[item.ProductID]
			size := item.Size
			if !p.HasSizes() {
				size = ""
			} else {
				i := p.SizeIndex(size)
				if i < 0 {
					return fmt.Errorf("exchange: product %s requires a valid size: %w", p.ID, shared.ErrNotFound)
				}
				// The lookup tolerates casing; stock rows do not. Carry the
				// catalog's label from here on.
				size = p.Sizes[i].Label
			}
			key := item.ProductID + "|" + size
			lineValue := p.SalePrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			switch item.Direction {
			case DirectionIn:
				totalIn = totalIn.Add(lineValue)
				deltas[key] += item.Quantity
			case DirectionOut:
				outRequested[key] += item.Quantity
				if available := p.Available(size); outRequested[key] > available {
					return &shared.InsufficientStockError{
						ProductID: p.ID,
						Size:      size,
						Available: available,
						Requested: outRequested[key],
					}
				}
				totalOut = totalOut.Add(lineValue)
				deltas[key] -= item.Quantity
			}
			items = append(items, Item{
				ProductID: p.ID,
				Size:      size,
				Quantity:  item.Quantity,
				Direction: item.Direction,
				UnitPrice: p.SalePrice,
				LineValue: lineValue,
			})
		}

		difference := totalOut.Sub(totalIn)
		cashIn := difference
		if cashIn.IsNegative() {
			cashIn = decimal.Zero
		}
		if cashIn.IsPositive() && in.PaymentMethod == "" {
			return shared.ErrPaymentMethodRequired
		}

		docNumber := in.DocumentNumber
		if docNumber == "" {
			docNumber = fmt.Sprintf("TRC-%d", now.UnixNano())
		}
		rec = Record{
			ID:             uuid.NewString(),
			DocumentNumber: docNumber,
			CustomerName:   in.CustomerName,
			Notes:          in.Notes,
			Items:          items,
			TotalInValue:   totalIn,
			TotalOutValue:  totalOut,
			Difference:     difference,
			CashInAmount:   cashIn,
			RegisterID:     in.RegisterID,
			CreatedBy:      actor.ID,
			CreatedAt:      now,
		}
		if cashIn.IsPositive() {
			rec.PaymentMethod = in.PaymentMethod
		}

		for key, delta := range deltas {
			if delta == 0 {
				continue
			}
			productID, size := splitKey(key)
			if err := tx.ApplyStockDelta(ctx, productID, size, delta); err != nil {
				return err
			}
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		if cashIn.IsPositive() {
			if in.RegisterID != "" {
				if err := tx.AddRegisterExchangeDifference(ctx, in.RegisterID, rec.PaymentMethod, cashIn); err != nil {
					return err
				}
			}
			_, err := tx.InsertMovement(ctx, ledger.Movement{
				Type:       ledger.MovementExchangeDifference,
				Direction:  ledger.DirectionIn,
				Amount:     cashIn,
				Method:     rec.PaymentMethod,
				RefKind:    "exchange",
				RefID:      rec.ID,
				OccurredAt: now,
				CreatedBy:  actor.ID,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func splitKey(key string) (productID, size string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
