package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Barcode      string          `json:"barcode"`
	CategoryID   string          `json:"category_id"`
	CategoryName string          `json:"category_name"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Stock        int             `json:"stock"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Barcode      string          `json:"barcode"`
	CategoryID   string          `json:"category_id"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	InitialStock int             `json:"initial_stock"`
}

type StockUpdateRequest struct {
	Quantity   int  `json:"quantity"`
	IsIncrease bool `json:"is_increase"`
}

type StockUpdateResponse struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

type SaleItemRequest struct {
	ProductID    string          `json:"product_id,omitempty"`
	ProductName  string          `json:"product_name,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType string          `json:"discount_type,omitempty"`
	IsCustom     bool            `json:"is_custom"`
}

type SaleRequest struct {
	InvoiceID       string            `json:"invoice_id"`
	Items           []SaleItemRequest `json:"items"`
	Total           decimal.Decimal   `json:"total"`
	Profit          decimal.Decimal   `json:"profit"`
	Discount        decimal.Decimal   `json:"discount"`
	DiscountType    string            `json:"discount_type,omitempty"`
	CustomerName    string            `json:"customer_name,omitempty"`
	CustomerPhone   string            `json:"customer_phone,omitempty"`
	CustomerEmail   string            `json:"customer_email,omitempty"`
	CustomerAddress string            `json:"customer_address,omitempty"`
	Notes           string            `json:"notes,omitempty"`
}

type SaleItem struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	ProductID    string          `json:"product_id,omitempty"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType string          `json:"discount_type,omitempty"`
	IsCustom     bool            `json:"is_custom"`
}

type Sale struct {
	ID              string          `json:"id"`
	InvoiceID       string          `json:"invoice_id"`
	SaleDate        time.Time       `json:"sale_date"`
	Total           decimal.Decimal `json:"total"`
	Profit          decimal.Decimal `json:"profit"`
	Discount        decimal.Decimal `json:"discount"`
	DiscountType    string          `json:"discount_type,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	CustomerAddress string          `json:"customer_address,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CashierUsername string          `json:"cashier_username"`
	IsReturn        bool            `json:"is_return"`
	ReturnReason    string          `json:"return_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []SaleItem      `json:"items"`
}

type ReturnItemRequest struct {
	ProductID    string          `json:"product_id,omitempty"`
	ProductName  string          `json:"product_name,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType string          `json:"discount_type,omitempty"`
	IsCustom     bool            `json:"is_custom"`
}

type ReturnRequest struct {
	OriginalInvoiceID string              `json:"original_invoice_id"`
	Items             []ReturnItemRequest `json:"items"`
	Reason            string              `json:"reason"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type DailyTotals struct {
	Date      string          `json:"date"`
	Total     decimal.Decimal `json:"total"`
	Profit    decimal.Decimal `json:"profit"`
	SaleCount int64           `json:"sale_count"`
}

type CategorySales struct {
	CategoryName string          `json:"category_name"`
	Revenue      decimal.Decimal `json:"revenue"`
	Quantity     int64           `json:"quantity"`
}

type DashboardSnapshot struct {
	Today         DailyTotals     `json:"today"`
	Series        []DailyTotals   `json:"series"`
	ByCategory    []CategorySales `json:"by_category"`
	ProductCount  int64           `json:"product_count"`
	LowStockCount int64           `json:"low_stock_count"`
	GeneratedAt   string          `json:"generated_at"`
}

const (
	DiscountTypePercentage = "PERCENTAGE"
	DiscountTypeFixed      = "FIXED"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
