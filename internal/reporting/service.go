package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// RepositoryPort abstracts the aggregation queries for the service.
type RepositoryPort interface {
	OrderStats(ctx context.Context, month string) (int, decimal.Decimal, error)
	UnitsSold(ctx context.Context, month string) (int, error)
	InventoryValue(ctx context.Context) (decimal.Decimal, error)
	CashFlow(ctx context.Context, from, to string) ([]CashFlowPoint, error)
	RegisterVariances(ctx context.Context, month string) ([]RegisterVarianceRow, error)
}

// LedgerPort supplies the per-month movement rollup.
type LedgerPort interface {
	Summary(ctx context.Context, month string) (ledger.MonthSummary, error)
}

// Service serves the period reports, cached behind redis.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	cache  *Cache
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, cache *Cache) *Service {
	return &Service{repo: repo, ledger: ledgerPort, cache: cache}
}

// MonthlyDRE builds the month's profit-and-loss statement.
func (s *Service) MonthlyDRE(ctx context.Context, month string) (DRE, error) {
	if !ledger.ValidMonth(month) {
		return DRE{}, fmt.Errorf("reporting: invalid month %q: %w", month, shared.ErrInvalidMonth)
	}
	loader := func(ctx context.Context) (any, error) {
		summary, err := s.ledger.Summary(ctx, month)
		if err != nil {
			return nil, err
		}
		count, total, err := s.repo.OrderStats(ctx, month)
		if err != nil {
			return nil, err
		}
		dre := DRE{
			Month:       month,
			Revenue:     summary.Revenue,
			COGS:        summary.COGS,
			GrossProfit: summary.GrossProfit(),
			Expenses:    summary.Expenses,
			NetResult:   summary.NetResult(),
			OrdersCount: count,
		}
		if count > 0 {
			dre.AverageTicket = total.DivRound(decimal.NewFromInt(int64(count)), 2)
		}
		return dre, nil
	}
	var dre DRE
	key, err := s.cache.Key(ctx, "reporting", "dre", month)
	if err != nil {
		return DRE{}, err
	}
	if err := s.cache.FetchJSON(ctx, key, &dre, loader); err != nil {
		return DRE{}, err
	}
	return dre, nil
}

// CashFlowSeries returns the monthly cash movement between from and to.
func (s *Service) CashFlowSeries(ctx context.Context, from, to string) ([]CashFlowPoint, error) {
	if !ledger.ValidMonth(from) || !ledger.ValidMonth(to) || from > to {
		return nil, fmt.Errorf("reporting: invalid month range %q..%q: %w", from, to, shared.ErrInvalidMonth)
	}
	loader := func(ctx context.Context) (any, error) {
		return s.repo.CashFlow(ctx, from, to)
	}
	key, err := s.cache.Key(ctx, "reporting", "cashflow", from, to)
	if err != nil {
		return nil, err
	}
	var points []CashFlowPoint
	if err := s.cache.FetchJSON(ctx, key, &points, loader); err != nil {
		return nil, err
	}
	return points, nil
}

// Turnover relates the month's COGS to current stock value.
func (s *Service) Turnover(ctx context.Context, month string) (InventoryTurnover, error) {
	if !ledger.ValidMonth(month) {
		return InventoryTurnover{}, fmt.Errorf("reporting: invalid month %q: %w", month, shared.ErrInvalidMonth)
	}
	loader := func(ctx context.Context) (any, error) {
		summary, err := s.ledger.Summary(ctx, month)
		if err != nil {
			return nil, err
		}
		value, err := s.repo.InventoryValue(ctx)
		if err != nil {
			return nil, err
		}
		units, err := s.repo.UnitsSold(ctx, month)
		if err != nil {
			return nil, err
		}
		turnover := InventoryTurnover{
			Month:          month,
			COGS:           summary.COGS,
			InventoryValue: value,
			UnitsSold:      units,
		}
		if value.IsPositive() {
			turnover.Ratio = summary.COGS.DivRound(value, 4)
		}
		return turnover, nil
	}
	key, err := s.cache.Key(ctx, "reporting", "turnover", month)
	if err != nil {
		return InventoryTurnover{}, err
	}
	var turnover InventoryTurnover
	if err := s.cache.FetchJSON(ctx, key, &turnover, loader); err != nil {
		return InventoryTurnover{}, err
	}
	return turnover, nil
}

// RegisterVariances lists the month's closed sessions with cash variances.
func (s *Service) RegisterVariances(ctx context.Context, month string) ([]RegisterVarianceRow, error) {
	if !ledger.ValidMonth(month) {
		return nil, fmt.Errorf("reporting: invalid month %q: %w", month, shared.ErrInvalidMonth)
	}
	loader := func(ctx context.Context) (any, error) {
		return s.repo.RegisterVariances(ctx, month)
	}
	key, err := s.cache.Key(ctx, "reporting", "register_variance", month)
	if err != nil {
		return nil, err
	}
	var rows []RegisterVarianceRow
	if err := s.cache.FetchJSON(ctx, key, &rows, loader); err != nil {
		return nil, err
	}
	return rows, nil
}

// MonthOverview fans the month's reports out concurrently. The cash-flow
// series covers the six months ending at the requested one.
func (s *Service) MonthOverview(ctx context.Context, month string) (Overview, error) {
	if !ledger.ValidMonth(month) {
		return Overview{}, fmt.Errorf("reporting: invalid month %q: %w", month, shared.ErrInvalidMonth)
	}
	var overview Overview
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dre, err := s.MonthlyDRE(ctx, month)
		if err == nil {
			overview.DRE = dre
		}
		return err
	})
	g.Go(func() error {
		points, err := s.CashFlowSeries(ctx, monthsBack(month, 5), month)
		if err == nil {
			overview.CashFlow = points
		}
		return err
	})
	g.Go(func() error {
		turnover, err := s.Turnover(ctx, month)
		if err == nil {
			overview.Turnover = turnover
		}
		return err
	})
	g.Go(func() error {
		rows, err := s.RegisterVariances(ctx, month)
		if err == nil {
			overview.Registers = rows
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return overview, nil
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func monthsBack(month string, n int) string {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return month
	}
	return t.AddDate(0, -n, 0).Format("2006-01")
}
