package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	categoriesByID  map[string]domain.Category
	productsByID    map[string]domain.Product
	salesByID       map[string]*domain.Sale
	salesByInvoice  map[string]*domain.Sale
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	categories := []domain.Category{
		{ID: "cat-beverage", Name: "Beverages"},
		{ID: "cat-snack", Name: "Snacks"},
		{ID: "cat-grocery", Name: "Groceries"},
		{ID: "cat-household", Name: "Household"},
	}

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-cola-330", Name: "Cola Can 330ml", Barcode: "8991001001011", CategoryID: "cat-beverage", CategoryName: "Beverages", CostPrice: decimal.NewFromFloat(0.45), SellingPrice: decimal.NewFromFloat(0.99), Stock: 120, CreatedAt: now},
		{ID: "prod-water-600", Name: "Mineral Water 600ml", Barcode: "8991001001028", CategoryID: "cat-beverage", CategoryName: "Beverages", CostPrice: decimal.NewFromFloat(0.20), SellingPrice: decimal.NewFromFloat(0.50), Stock: 200, CreatedAt: now},
		{ID: "prod-chips-80", Name: "Potato Chips 80g", Barcode: "8991001001035", CategoryID: "cat-snack", CategoryName: "Snacks", CostPrice: decimal.NewFromFloat(0.80), SellingPrice: decimal.NewFromFloat(1.49), Stock: 80, CreatedAt: now},
		{ID: "prod-choco-bar", Name: "Chocolate Bar", Barcode: "8991001001042", CategoryID: "cat-snack", CategoryName: "Snacks", CostPrice: decimal.NewFromFloat(0.60), SellingPrice: decimal.NewFromFloat(1.25), Stock: 64, CreatedAt: now},
		{ID: "prod-rice-5kg", Name: "Rice 5kg", Barcode: "8991001001059", CategoryID: "cat-grocery", CategoryName: "Groceries", CostPrice: decimal.NewFromFloat(5.10), SellingPrice: decimal.NewFromFloat(6.99), Stock: 30, CreatedAt: now},
		{ID: "prod-eggs-10", Name: "Eggs 10pk", Barcode: "8991001001066", CategoryID: "cat-grocery", CategoryName: "Groceries", CostPrice: decimal.NewFromFloat(1.80), SellingPrice: decimal.NewFromFloat(2.49), Stock: 45, CreatedAt: now},
		{ID: "prod-soap-bar", Name: "Soap Bar", Barcode: "8991001001073", CategoryID: "cat-household", CategoryName: "Household", CostPrice: decimal.NewFromFloat(0.35), SellingPrice: decimal.NewFromFloat(0.79), Stock: 90, CreatedAt: now},
		{ID: "prod-detergent-1l", Name: "Detergent 1L", Barcode: "8991001001080", CategoryID: "cat-household", CategoryName: "Household", CostPrice: decimal.NewFromFloat(2.20), SellingPrice: decimal.NewFromFloat(3.49), Stock: 3, CreatedAt: now},
	}

	categoryMap := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		categoryMap[c.ID] = c
	}
	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		categoriesByID:  categoryMap,
		productsByID:    productMap,
		salesByID:       make(map[string]*domain.Sale),
		salesByInvoice:  make(map[string]*domain.Sale),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.CategoryName == b.CategoryName {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.CategoryName, b.CategoryName)
	})

	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.productsByID {
		if p.Barcode == barcode {
			copyProduct := p
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Barcode == "" || !product.SellingPrice.IsPositive() {
		return nil, store.ErrValidation
	}
	category, ok := s.categoriesByID[product.CategoryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, p := range s.productsByID {
		if p.Barcode == product.Barcode {
			return nil, store.ErrValidation
		}
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.CategoryName = category.Name
	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) ListLowStockProducts(_ context.Context, threshold int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0)
	for _, p := range s.productsByID {
		if p.Stock <= threshold {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Stock == b.Stock {
			return cmpString(a.Name, b.Name)
		}
		return a.Stock - b.Stock
	})
	return products, nil
}

func (s *Store) CountProducts(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.productsByID)), nil
}

func (s *Store) CountLowStockProducts(_ context.Context, threshold int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := int64(0)
	for _, p := range s.productsByID {
		if p.Stock <= threshold {
			count++
		}
	}
	return count, nil
}

func (s *Store) ReserveStock(_ context.Context, productID string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reserveLocked(productID, qty)
}

// reserveLocked decrements stock for one product. Callers hold s.mu.
func (s *Store) reserveLocked(productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}
	product, exists := s.productsByID[productID]
	if !exists {
		return 0, store.ErrNotFound
	}
	if product.Stock < qty {
		return 0, &store.InsufficientStockError{
			ProductName: product.Name,
			Available:   product.Stock,
			Required:    qty,
		}
	}
	product.Stock -= qty
	s.productsByID[productID] = product
	return product.Stock, nil
}

func (s *Store) RestockProduct(_ context.Context, productID string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.restockLocked(productID, qty)
}

func (s *Store) restockLocked(productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}
	product, exists := s.productsByID[productID]
	if !exists {
		return 0, store.ErrNotFound
	}
	product.Stock += qty
	s.productsByID[productID] = product
	return product.Stock, nil
}

func (s *Store) GetStock(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists {
		return 0, store.ErrNotFound
	}
	return product.Stock, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categoriesByID))
	for _, c := range s.categoriesByID {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

// CreateSale commits a sale and its stock reservations as one unit. The
// whole mutation happens under a single lock: nothing is decremented until
// every line has been checked, so a failed line leaves stock untouched.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.InvoiceID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.salesByInvoice[sale.InvoiceID]; exists {
		return nil, store.ErrDuplicateInvoice
	}

	required := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if item.IsCustom {
			continue
		}
		product, exists := s.productsByID[item.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		required[item.ProductID] += item.Quantity
		if required[item.ProductID] > product.Stock {
			return nil, &store.InsufficientStockError{
				ProductName: product.Name,
				Available:   product.Stock,
				Required:    required[item.ProductID],
			}
		}
	}

	for i := range sale.Items {
		if sale.Items[i].IsCustom {
			continue
		}
		if _, err := s.reserveLocked(sale.Items[i].ProductID, sale.Items[i].Quantity); err != nil {
			return nil, err
		}
		sale.Items[i].ProductName = s.productsByID[sale.Items[i].ProductID].Name
	}

	s.finalizeSaleLocked(&sale)
	return cloneSale(&sale), nil
}

// CreateReturn records a return sale and restocks its catalog items.
func (s *Store) CreateReturn(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.InvoiceID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.salesByInvoice[sale.InvoiceID]; exists {
		return nil, store.ErrDuplicateInvoice
	}

	for i := range sale.Items {
		if sale.Items[i].IsCustom || sale.Items[i].ProductID == "" {
			continue
		}
		if _, err := s.restockLocked(sale.Items[i].ProductID, sale.Items[i].Quantity); err != nil {
			return nil, err
		}
	}

	s.finalizeSaleLocked(&sale)
	return cloneSale(&sale), nil
}

func (s *Store) finalizeSaleLocked(sale *domain.Sale) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}
	sale.SaleDate = sale.SaleDate.Truncate(time.Second)
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	for i := range sale.Items {
		if sale.Items[i].ID == "" {
			sale.Items[i].ID = xid.New("item")
		}
		sale.Items[i].SaleID = sale.ID
	}

	saleCopy := cloneSale(sale)
	s.salesByID[sale.ID] = saleCopy
	s.salesByInvoice[sale.InvoiceID] = saleCopy
}

func (s *Store) GetSaleByInvoiceID(_ context.Context, invoiceID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByInvoice[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := s.sortedSalesLocked()
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) ListSalesByDate(ctx context.Context, date time.Time) ([]domain.Sale, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	return s.ListSalesBetween(ctx, day, day)
}

func (s *Store) ListSalesBetween(_ context.Context, start time.Time, end time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := start.UTC().Truncate(24 * time.Hour)
	to := end.UTC().Truncate(24 * time.Hour).Add(24*time.Hour - time.Nanosecond)

	sales := make([]domain.Sale, 0)
	for _, sale := range s.sortedSalesLocked() {
		if sale.SaleDate.Before(from) || sale.SaleDate.After(to) {
			continue
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func (s *Store) SearchSales(_ context.Context, query string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []domain.Sale{}, nil
	}

	sales := make([]domain.Sale, 0)
	for _, sale := range s.sortedSalesLocked() {
		if strings.Contains(strings.ToLower(sale.InvoiceID), needle) ||
			strings.Contains(strings.ToLower(sale.CustomerName), needle) ||
			strings.Contains(strings.ToLower(sale.CustomerPhone), needle) {
			sales = append(sales, sale)
		}
		if limit > 0 && len(sales) == limit {
			break
		}
	}
	return sales, nil
}

func (s *Store) GetDailyTotals(_ context.Context, date time.Time) (domain.DailyTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := date.UTC().Truncate(24 * time.Hour)
	totals := domain.DailyTotals{
		Date:   day.Format("2006-01-02"),
		Total:  decimal.Zero,
		Profit: decimal.Zero,
	}
	for _, sale := range s.salesByID {
		if sale.IsReturn {
			continue
		}
		if !sale.SaleDate.UTC().Truncate(24 * time.Hour).Equal(day) {
			continue
		}
		totals.Total = totals.Total.Add(sale.Total)
		totals.Profit = totals.Profit.Add(sale.Profit)
		totals.SaleCount++
	}
	return totals, nil
}

func (s *Store) GetCategoryBreakdown(_ context.Context) ([]domain.CategorySales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCategory := map[string]*domain.CategorySales{}
	for _, sale := range s.salesByID {
		if sale.IsReturn {
			continue
		}
		for _, item := range sale.Items {
			if item.IsCustom || item.ProductID == "" {
				continue
			}
			product, exists := s.productsByID[item.ProductID]
			if !exists {
				continue
			}
			entry, ok := byCategory[product.CategoryName]
			if !ok {
				entry = &domain.CategorySales{CategoryName: product.CategoryName, Revenue: decimal.Zero}
				byCategory[product.CategoryName] = entry
			}
			entry.Revenue = entry.Revenue.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
			entry.Quantity += int64(item.Quantity)
		}
	}

	breakdown := make([]domain.CategorySales, 0, len(byCategory))
	for _, entry := range byCategory {
		breakdown = append(breakdown, *entry)
	}
	slices.SortFunc(breakdown, func(a, b domain.CategorySales) int {
		return cmpString(a.CategoryName, b.CategoryName)
	})
	return breakdown, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) sortedSalesLocked() []domain.Sale {
	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.SaleDate.Equal(b.SaleDate) {
			return cmpString(b.ID, a.ID)
		}
		if a.SaleDate.Before(b.SaleDate) {
			return 1
		}
		return -1
	})
	return sales
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = append([]domain.SaleItem(nil), src.Items...)
	return &dst
}
