package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
)

func TestSaleTransactionReservesAndReturnsStock(t *testing.T) {
	databaseURL := os.Getenv("POSDESK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSDESK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	categoryID := fmt.Sprintf("cat-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)
	invoiceID := fmt.Sprintf("INV-IT-%d", stamp)
	returnInvoiceID := fmt.Sprintf("RTN-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE invoice_id IN ($1, $2)`, invoiceID, returnInvoiceID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name) VALUES ($1, $2)
	`, categoryID, fmt.Sprintf("Integration %d", stamp)); err != nil {
		t.Fatalf("insert category: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, barcode, category_id, cost_price, selling_price, stock, created_at, updated_at)
		VALUES ($1, 'Integration Item', '', $2, $3, 1.00, 2.50, 10, now(), now())
	`, productID, fmt.Sprintf("bar-it-%d", stamp), categoryID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	sale := domain.Sale{
		InvoiceID:       invoiceID,
		SaleDate:        time.Now().UTC(),
		Total:           decimal.NewFromFloat(7.50),
		Profit:          decimal.NewFromFloat(4.50),
		CashierUsername: "it-cashier",
		Items: []domain.SaleItem{
			{ProductID: productID, Quantity: 3, UnitPrice: decimal.NewFromFloat(2.50)},
		},
	}

	created, err := s.CreateSale(ctx, sale)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if created.Items[0].ProductName != "Integration Item" {
		t.Fatalf("expected catalog name snapshot, got %q", created.Items[0].ProductName)
	}

	stock, err := s.GetStock(ctx, productID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if stock != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", stock)
	}

	if _, err := s.CreateSale(ctx, sale); !errors.Is(err, store.ErrDuplicateInvoice) {
		t.Fatalf("expected duplicate invoice error, got %v", err)
	}
	stock, _ = s.GetStock(ctx, productID)
	if stock != 7 {
		t.Fatalf("failed duplicate must not touch stock, got %d", stock)
	}

	if _, err := s.CreateSale(ctx, domain.Sale{
		InvoiceID:       invoiceID + "-short",
		SaleDate:        time.Now().UTC(),
		Total:           decimal.NewFromFloat(50),
		CashierUsername: "it-cashier",
		Items: []domain.SaleItem{
			{ProductID: productID, Quantity: 20, UnitPrice: decimal.NewFromFloat(2.50)},
		},
	}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	stock, _ = s.GetStock(ctx, productID)
	if stock != 7 {
		t.Fatalf("failed sale must not touch stock, got %d", stock)
	}

	ret := domain.Sale{
		InvoiceID:       returnInvoiceID,
		SaleDate:        time.Now().UTC(),
		Total:           decimal.NewFromFloat(-5.00),
		Profit:          decimal.Zero,
		CashierUsername: "it-admin",
		IsReturn:        true,
		ReturnReason:    "integration test return",
		Items: []domain.SaleItem{
			{ProductID: productID, ProductName: "Integration Item", Quantity: 2, UnitPrice: decimal.NewFromFloat(2.50)},
		},
	}
	if _, err := s.CreateReturn(ctx, ret); err != nil {
		t.Fatalf("create return: %v", err)
	}
	stock, _ = s.GetStock(ctx, productID)
	if stock != 9 {
		t.Fatalf("expected stock 9 after return, got %d", stock)
	}

	fetched, err := s.GetSaleByInvoiceID(ctx, returnInvoiceID)
	if err != nil {
		t.Fatalf("get return: %v", err)
	}
	if !fetched.IsReturn || !fetched.Total.Equal(decimal.NewFromFloat(-5.00)) {
		t.Fatalf("unexpected return row: %+v", fetched)
	}
}
