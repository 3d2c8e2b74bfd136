package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posdesk/backend/internal/analytics"
	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "test-admin-pass")
	t.Setenv("SEED_CASHIER_PASSWORD", "test-cashier-pass")

	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := memory.NewSeeded()
	engine := analytics.NewEngine(repo, nil, 0, 0, log)
	return New(repo, engine, log), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func TestCreateSaleRequiresActor(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		InvoiceID: "INV-1",
		Items:     []domain.SaleItemRequest{{ProductID: "prod-cola-330", Quantity: 1, UnitPrice: decimal.NewFromFloat(0.99)}},
	})
	if !errors.Is(err, ErrActorRequired) {
		t.Fatalf("expected actor-required error, got %v", err)
	}
}

func TestCreateSaleRejectsEmptyCart(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{InvoiceID: "INV-2"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for empty cart, got %v", err)
	}
}

func TestCreateSaleRejectsNonPositiveQuantityAndPrice(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		InvoiceID: "INV-3",
		Items:     []domain.SaleItemRequest{{ProductID: "prod-cola-330", Quantity: 0, UnitPrice: decimal.NewFromFloat(0.99)}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}

	_, err = svc.CreateSale(cashierCtx(), domain.SaleRequest{
		InvoiceID: "INV-4",
		Items:     []domain.SaleItemRequest{{ProductID: "prod-cola-330", Quantity: 1, UnitPrice: decimal.Zero}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero price, got %v", err)
	}
}

func TestCreateSaleMixedCatalogAndCustomItems(t *testing.T) {
	svc, repo := newTestService(t)

	before, err := repo.GetStock(context.Background(), "prod-cola-330")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		InvoiceID: "INV-MIX-1",
		Total:     decimal.NewFromFloat(6.98),
		Profit:    decimal.NewFromFloat(2.08),
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-cola-330", Quantity: 2, UnitPrice: decimal.NewFromFloat(0.99)},
			{ProductName: "Gift wrapping", Quantity: 1, UnitPrice: decimal.NewFromFloat(5.00), IsCustom: true},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if len(sale.Items) != 2 {
		t.Fatalf("expected 2 sale items, got %d", len(sale.Items))
	}
	if sale.Items[0].ProductName != "Cola Can 330ml" {
		t.Fatalf("expected catalog name snapshot, got %q", sale.Items[0].ProductName)
	}
	if sale.CashierUsername != "cashier" {
		t.Fatalf("expected cashier username on sale, got %q", sale.CashierUsername)
	}
	if sale.SaleDate.Nanosecond() != 0 {
		t.Fatalf("expected sale date truncated to whole seconds, got %v", sale.SaleDate)
	}

	after, err := repo.GetStock(context.Background(), "prod-cola-330")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if after != before-2 {
		t.Fatalf("expected stock %d, got %d", before-2, after)
	}
}

func TestCreateSaleDuplicateInvoice(t *testing.T) {
	svc, repo := newTestService(t)

	req := domain.SaleRequest{
		InvoiceID: "INV-DUP-1",
		Total:     decimal.NewFromFloat(0.99),
		Items:     []domain.SaleItemRequest{{ProductID: "prod-cola-330", Quantity: 1, UnitPrice: decimal.NewFromFloat(0.99)}},
	}

	if _, err := svc.CreateSale(cashierCtx(), req); err != nil {
		t.Fatalf("first sale: %v", err)
	}

	before, _ := repo.GetStock(context.Background(), "prod-cola-330")
	_, err := svc.CreateSale(cashierCtx(), req)
	if !errors.Is(err, store.ErrDuplicateInvoice) {
		t.Fatalf("expected duplicate invoice error, got %v", err)
	}
	after, _ := repo.GetStock(context.Background(), "prod-cola-330")
	if before != after {
		t.Fatalf("failed duplicate must not touch stock: %d != %d", before, after)
	}
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	svc, repo := newTestService(t)

	// Seeded detergent carries only 3 units.
	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		InvoiceID: "INV-SHORT-1",
		Items:     []domain.SaleItemRequest{{ProductID: "prod-detergent-1l", Quantity: 6, UnitPrice: decimal.NewFromFloat(3.49)}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	var shortfall *store.InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected typed shortfall error, got %v", err)
	}
	if shortfall.ProductName != "Detergent 1L" || shortfall.Available != 3 || shortfall.Required != 6 {
		t.Fatalf("unexpected shortfall detail: %+v", shortfall)
	}

	stock, _ := repo.GetStock(context.Background(), "prod-detergent-1l")
	if stock != 3 {
		t.Fatalf("failed sale must not touch stock, got %d", stock)
	}
}

func TestConcurrentSalesOverlappingStock(t *testing.T) {
	svc, repo := newTestService(t)

	// Two carts each want 2 of the 3 detergent units. Exactly one must win.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = svc.CreateSale(cashierCtx(), domain.SaleRequest{
				InvoiceID: "INV-RACE-" + string(rune('A'+idx)),
				Items:     []domain.SaleItemRequest{{ProductID: "prod-detergent-1l", Quantity: 2, UnitPrice: decimal.NewFromFloat(3.49)}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one sale to succeed, got %d", succeeded)
	}

	stock, _ := repo.GetStock(context.Background(), "prod-detergent-1l")
	if stock != 1 {
		t.Fatalf("expected 1 unit left, got %d", stock)
	}
}

func TestProcessReturnRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		OriginalInvoiceID: "INV-X",
		Items:             []domain.ReturnItemRequest{{ProductID: "prod-cola-330", Quantity: 1, UnitPrice: decimal.NewFromFloat(0.99)}},
	})
	if !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin role error, got %v", err)
	}
}

func TestProcessReturnSemantics(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		InvoiceID:     "INV-RET-1",
		Total:         decimal.NewFromFloat(1.98),
		Profit:        decimal.NewFromFloat(1.08),
		CustomerName:  "Ayu",
		CustomerPhone: "0812000111",
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-cola-330", Quantity: 2, UnitPrice: decimal.NewFromFloat(0.99), Discount: decimal.NewFromInt(10), DiscountType: domain.DiscountTypePercentage},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	stockAfterSale, _ := repo.GetStock(context.Background(), "prod-cola-330")

	ret, err := svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		OriginalInvoiceID: "INV-RET-1",
		Reason:            "damaged can",
		Items: []domain.ReturnItemRequest{
			{ProductID: "prod-cola-330", Quantity: 2, UnitPrice: decimal.NewFromFloat(0.99), Discount: decimal.NewFromInt(10), DiscountType: domain.DiscountTypePercentage},
		},
	})
	if err != nil {
		t.Fatalf("process return: %v", err)
	}

	if !strings.HasPrefix(ret.InvoiceID, "RTN-") {
		t.Fatalf("expected RTN- invoice prefix, got %q", ret.InvoiceID)
	}
	// Refund ignores line discounts: -(0.99 * 2).
	if !ret.Total.Equal(decimal.NewFromFloat(-1.98)) {
		t.Fatalf("expected total -1.98, got %s", ret.Total)
	}
	if !ret.Profit.IsZero() {
		t.Fatalf("expected zero profit on return, got %s", ret.Profit)
	}
	if !ret.IsReturn {
		t.Fatalf("expected is_return flag")
	}
	if ret.CustomerName != "Ayu" || ret.CustomerPhone != "0812000111" {
		t.Fatalf("expected customer fields copied from original, got %q %q", ret.CustomerName, ret.CustomerPhone)
	}
	if ret.ReturnReason != "damaged can" {
		t.Fatalf("expected return reason, got %q", ret.ReturnReason)
	}
	if !strings.Contains(ret.Notes, "INV-RET-1") {
		t.Fatalf("expected notes to reference original invoice, got %q", ret.Notes)
	}

	restocked, _ := repo.GetStock(context.Background(), "prod-cola-330")
	if restocked != stockAfterSale+2 {
		t.Fatalf("expected restock to %d, got %d", stockAfterSale+2, restocked)
	}

	// Original sale stays untouched.
	original, err := svc.GetSaleByInvoice(context.Background(), "INV-RET-1")
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if original.IsReturn || !original.Total.Equal(decimal.NewFromFloat(1.98)) {
		t.Fatalf("original sale must not be modified: %+v", original)
	}
}

func TestProcessReturnUnknownInvoice(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		OriginalInvoiceID: "INV-MISSING",
		Items:             []domain.ReturnItemRequest{{ProductID: "prod-cola-330", Quantity: 1, UnitPrice: decimal.NewFromFloat(0.99)}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown invoice, got %v", err)
	}
}

func TestUpdateStockIncreaseAndDecrease(t *testing.T) {
	svc, repo := newTestService(t)

	resp, err := svc.UpdateStock(adminCtx(), "prod-soap-bar", domain.StockUpdateRequest{Quantity: 10, IsIncrease: true})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if resp.Stock != 100 {
		t.Fatalf("expected stock 100 after restock, got %d", resp.Stock)
	}

	resp, err = svc.UpdateStock(adminCtx(), "prod-soap-bar", domain.StockUpdateRequest{Quantity: 30})
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if resp.Stock != 70 {
		t.Fatalf("expected stock 70 after decrease, got %d", resp.Stock)
	}

	_, err = svc.UpdateStock(adminCtx(), "prod-soap-bar", domain.StockUpdateRequest{Quantity: 999})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on oversized decrease, got %v", err)
	}

	stock, _ := repo.GetStock(context.Background(), "prod-soap-bar")
	if stock != 70 {
		t.Fatalf("failed decrease must not touch stock, got %d", stock)
	}
}

func TestUpdateStockRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.UpdateStock(cashierCtx(), "prod-soap-bar", domain.StockUpdateRequest{Quantity: 1, IsIncrease: true})
	if !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin role error, got %v", err)
	}
}

func TestListSalesBetweenRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ListSalesBetween(context.Background(), "2026-08-10", "2026-08-01")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for inverted range, got %v", err)
	}
}

func TestSalesSeriesDefaultsToTrailingWeek(t *testing.T) {
	svc, _ := newTestService(t)

	series, err := svc.SalesSeries(context.Background(), "", "")
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(series) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(series))
	}
	for i := 1; i < len(series); i++ {
		prev, _ := time.Parse("2006-01-02", series[i-1].Date)
		cur, _ := time.Parse("2006-01-02", series[i].Date)
		if !cur.After(prev) {
			t.Fatalf("series not ascending at index %d: %s then %s", i, series[i-1].Date, series[i].Date)
		}
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:       "No price",
		Barcode:    "999",
		CategoryID: "cat-snack",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero selling price, got %v", err)
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:         "Instant Noodles",
		Barcode:      "8991001009999",
		CategoryID:   "cat-grocery",
		CostPrice:    decimal.NewFromFloat(0.30),
		SellingPrice: decimal.NewFromFloat(0.55),
		InitialStock: 40,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if created.CategoryName != "Groceries" {
		t.Fatalf("expected category name resolved, got %q", created.CategoryName)
	}
}

func TestGetProductByBarcode(t *testing.T) {
	svc, _ := newTestService(t)

	product, err := svc.GetProductByBarcode(context.Background(), "8991001001011")
	if err != nil {
		t.Fatalf("barcode lookup: %v", err)
	}
	if product.ID != "prod-cola-330" {
		t.Fatalf("expected prod-cola-330, got %q", product.ID)
	}

	_, err = svc.GetProductByBarcode(context.Background(), "does-not-exist")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
