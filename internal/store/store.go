package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"posdesk/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateInvoice  = errors.New("duplicate invoice")
	ErrValidation        = errors.New("validation failed")
)

// InsufficientStockError reports which product ran short and by how much.
// errors.Is(err, ErrInsufficientStock) matches it.
type InsufficientStockError struct {
	ProductName string
	Available   int
	Required    int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, required %d", e.ProductName, e.Available, e.Required)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListLowStockProducts(ctx context.Context, threshold int) ([]domain.Product, error)
	CountProducts(ctx context.Context) (int64, error)
	CountLowStockProducts(ctx context.Context, threshold int) (int64, error)
	ReserveStock(ctx context.Context, productID string, qty int) (int, error)
	RestockProduct(ctx context.Context, productID string, qty int) (int, error)
	GetStock(ctx context.Context, productID string) (int, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	CreateReturn(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByInvoiceID(ctx context.Context, invoiceID string) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	ListSalesByDate(ctx context.Context, date time.Time) ([]domain.Sale, error)
	ListSalesBetween(ctx context.Context, start time.Time, end time.Time) ([]domain.Sale, error)
	SearchSales(ctx context.Context, query string, limit int) ([]domain.Sale, error)
	GetDailyTotals(ctx context.Context, date time.Time) (domain.DailyTotals, error)
	GetCategoryBreakdown(ctx context.Context) ([]domain.CategorySales, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
