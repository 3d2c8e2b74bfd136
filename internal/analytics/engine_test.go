package analytics

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posdesk/backend/internal/cache"
	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store/memory"
)

func newTestEngine(t *testing.T, cacheStore cache.DashboardCache) (*Engine, *memory.Store) {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "test-admin-pass")
	t.Setenv("SEED_CASHIER_PASSWORD", "test-cashier-pass")

	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := memory.NewSeeded()
	return NewEngine(repo, cacheStore, 30*time.Second, 5, log), repo
}

type recordingCache struct {
	snapshot *domain.DashboardSnapshot
	getErr   error
	setErr   error
	sets     int
}

func (c *recordingCache) Get(_ context.Context, _ string) (*domain.DashboardSnapshot, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	if c.snapshot == nil {
		return nil, false, nil
	}
	return c.snapshot, true, nil
}

func (c *recordingCache) Set(_ context.Context, _ string, value *domain.DashboardSnapshot, _ time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.snapshot = value
	c.sets++
	return nil
}

func seedSale(t *testing.T, repo *memory.Store, invoiceID string, total float64, profit float64) {
	t.Helper()
	_, err := repo.CreateSale(context.Background(), domain.Sale{
		InvoiceID: invoiceID,
		SaleDate:  time.Now().UTC(),
		Total:     decimal.NewFromFloat(total),
		Profit:    decimal.NewFromFloat(profit),
		Items: []domain.SaleItem{
			{ProductID: "prod-cola-330", Quantity: 1, UnitPrice: decimal.NewFromFloat(total)},
		},
	})
	if err != nil {
		t.Fatalf("seed sale %s: %v", invoiceID, err)
	}
}

func TestDailyTotalsEmptyDayIsZero(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	totals, err := engine.DailyTotals(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("daily totals: %v", err)
	}
	if !totals.Total.IsZero() || !totals.Profit.IsZero() || totals.SaleCount != 0 {
		t.Fatalf("expected zero rollup for empty day, got %+v", totals)
	}
	if totals.Date != time.Now().UTC().Format("2006-01-02") {
		t.Fatalf("expected today's date stamp, got %q", totals.Date)
	}
}

func TestSeriesCoversRangeInclusive(t *testing.T) {
	engine, repo := newTestEngine(t, nil)
	seedSale(t, repo, "INV-SERIES-1", 12.50, 4.00)

	now := time.Now().UTC()
	series := engine.Series(context.Background(), now.AddDate(0, 0, -6), now)

	if len(series) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(series))
	}
	for i := 1; i < len(series); i++ {
		if series[i].Date <= series[i-1].Date {
			t.Fatalf("series not ascending: %q then %q", series[i-1].Date, series[i].Date)
		}
	}

	last := series[len(series)-1]
	if !last.Total.Equal(decimal.NewFromFloat(12.50)) || last.SaleCount != 1 {
		t.Fatalf("expected today's entry to carry the seeded sale, got %+v", last)
	}
	for _, entry := range series[:len(series)-1] {
		if !entry.Total.IsZero() || entry.SaleCount != 0 {
			t.Fatalf("expected zero entry for empty day %s, got %+v", entry.Date, entry)
		}
	}
}

func TestSeriesSingleDay(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	now := time.Now().UTC()
	series := engine.Series(context.Background(), now, now)
	if len(series) != 1 {
		t.Fatalf("expected 1 entry for same start and end, got %d", len(series))
	}
}

func TestDashboardAssemblesCounters(t *testing.T) {
	engine, repo := newTestEngine(t, &recordingCache{})
	seedSale(t, repo, "INV-DASH-1", 9.99, 3.00)

	snapshot, err := engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}

	if snapshot.ProductCount != 8 {
		t.Fatalf("expected 8 seeded products, got %d", snapshot.ProductCount)
	}
	// Only the seeded detergent sits under the threshold of 5.
	if snapshot.LowStockCount != 1 {
		t.Fatalf("expected 1 low stock product, got %d", snapshot.LowStockCount)
	}
	if len(snapshot.Series) != 30 {
		t.Fatalf("expected 30-day series, got %d entries", len(snapshot.Series))
	}
	if !snapshot.Today.Total.Equal(decimal.NewFromFloat(9.99)) {
		t.Fatalf("expected today's total 9.99, got %s", snapshot.Today.Total)
	}
	if snapshot.GeneratedAt == "" {
		t.Fatalf("expected generated_at timestamp")
	}
}

func TestDashboardServedFromCache(t *testing.T) {
	cacheStore := &recordingCache{}
	engine, repo := newTestEngine(t, cacheStore)

	first, err := engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("first dashboard: %v", err)
	}
	if cacheStore.sets != 1 {
		t.Fatalf("expected one cache write, got %d", cacheStore.sets)
	}

	// New sale is invisible until the cache entry expires.
	seedSale(t, repo, "INV-DASH-2", 5.00, 1.00)
	second, err := engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("second dashboard: %v", err)
	}
	if !second.Today.Total.Equal(first.Today.Total) {
		t.Fatalf("expected cached snapshot, got recomputed totals %s", second.Today.Total)
	}
}

func TestDashboardRecomputesOnCacheFailure(t *testing.T) {
	cacheStore := &recordingCache{getErr: errors.New("redis down"), setErr: errors.New("redis down")}
	engine, repo := newTestEngine(t, cacheStore)
	seedSale(t, repo, "INV-DASH-3", 7.77, 2.00)

	snapshot, err := engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard must survive cache failure, got %v", err)
	}
	if !snapshot.Today.Total.Equal(decimal.NewFromFloat(7.77)) {
		t.Fatalf("expected recomputed totals, got %s", snapshot.Today.Total)
	}
}
