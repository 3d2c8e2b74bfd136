// Package analytics computes sales rollups for reports and the dashboard.
// Reads are best-effort: a single bad day degrades to a zero entry instead
// of failing the whole series.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posdesk/backend/internal/cache"
	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
)

type Engine struct {
	repo              store.Repository
	cache             cache.DashboardCache
	cacheTTL          time.Duration
	lowStockThreshold int
	log               *logrus.Logger
}

func NewEngine(repo store.Repository, cacheStore cache.DashboardCache, cacheTTL time.Duration, lowStockThreshold int, log *logrus.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopDashboardCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if lowStockThreshold < 1 {
		lowStockThreshold = 5
	}
	if log == nil {
		log = logrus.New()
	}

	return &Engine{
		repo:              repo,
		cache:             cacheStore,
		cacheTTL:          cacheTTL,
		lowStockThreshold: lowStockThreshold,
		log:               log,
	}
}

// DailyTotals returns the rollup for one calendar day. A day without sales
// is a zero-valued rollup, not an error.
func (e *Engine) DailyTotals(ctx context.Context, date time.Time) (domain.DailyTotals, error) {
	return e.repo.GetDailyTotals(ctx, date)
}

// Series returns one entry per calendar day from start to end inclusive, in
// ascending order. A day whose query fails is logged and reported as zero so
// one bad day cannot take down the whole chart.
func (e *Engine) Series(ctx context.Context, start time.Time, end time.Time) []domain.DailyTotals {
	from := dateUTC(start)
	to := dateUTC(end)

	series := make([]domain.DailyTotals, 0, 32)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		totals, err := e.repo.GetDailyTotals(ctx, day)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"date": day.Format("2006-01-02"),
			}).WithError(err).Warn("daily totals query failed, zero-filling entry")
			totals = domain.DailyTotals{
				Date:   day.Format("2006-01-02"),
				Total:  decimal.Zero,
				Profit: decimal.Zero,
			}
		}
		series = append(series, totals)
	}
	return series
}

func (e *Engine) CategoryBreakdown(ctx context.Context) ([]domain.CategorySales, error) {
	return e.repo.GetCategoryBreakdown(ctx)
}

// Dashboard assembles today's totals, a trailing 30-day series, the category
// breakdown and inventory counters. Results are served from the cache when
// fresh; cache failures fall back to a recompute.
func (e *Engine) Dashboard(ctx context.Context) (domain.DashboardSnapshot, error) {
	const cacheKey = "pos:dashboard:snapshot"

	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		e.log.WithError(err).Warn("dashboard cache read failed, recomputing")
	}

	now := time.Now().UTC()
	today, err := e.repo.GetDailyTotals(ctx, now)
	if err != nil {
		return domain.DashboardSnapshot{}, fmt.Errorf("dashboard today totals: %w", err)
	}

	breakdown, err := e.repo.GetCategoryBreakdown(ctx)
	if err != nil {
		return domain.DashboardSnapshot{}, fmt.Errorf("dashboard category breakdown: %w", err)
	}

	productCount, err := e.repo.CountProducts(ctx)
	if err != nil {
		return domain.DashboardSnapshot{}, fmt.Errorf("dashboard product count: %w", err)
	}

	lowStockCount, err := e.repo.CountLowStockProducts(ctx, e.lowStockThreshold)
	if err != nil {
		return domain.DashboardSnapshot{}, fmt.Errorf("dashboard low stock count: %w", err)
	}

	snapshot := domain.DashboardSnapshot{
		Today:         today,
		Series:        e.Series(ctx, now.AddDate(0, 0, -29), now),
		ByCategory:    breakdown,
		ProductCount:  productCount,
		LowStockCount: lowStockCount,
		GeneratedAt:   now.Format(time.RFC3339),
	}

	if err := e.cache.Set(ctx, cacheKey, &snapshot, e.cacheTTL); err != nil {
		e.log.WithError(err).Warn("dashboard cache write failed")
	}

	return snapshot, nil
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}
