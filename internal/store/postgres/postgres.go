package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT p.id, p.name, p.description, p.barcode, p.category_id, c.name,
			p.cost_price, p.selling_price, p.stock, p.created_at
		FROM products p
		JOIN categories c ON c.id = p.category_id
		ORDER BY c.name, p.name
	`)
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.queryProduct(ctx, "p.id", id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.queryProduct(ctx, "p.barcode", barcode)
}

func (s *Store) queryProduct(ctx context.Context, column string, value string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.description, p.barcode, p.category_id, c.name,
			p.cost_price, p.selling_price, p.stock, p.created_at
		FROM products p
		JOIN categories c ON c.id = p.category_id
		WHERE `+column+` = $1
	`, value).Scan(&p.ID, &p.Name, &p.Description, &p.Barcode, &p.CategoryID, &p.CategoryName,
		&p.CostPrice, &p.SellingPrice, &p.Stock, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Barcode == "" || !product.SellingPrice.IsPositive() {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, barcode, category_id, cost_price, selling_price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, product.ID, product.Name, product.Description, product.Barcode, product.CategoryID,
		product.CostPrice, product.SellingPrice, product.Stock, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created, err := s.GetProductByID(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) ListLowStockProducts(ctx context.Context, threshold int) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT p.id, p.name, p.description, p.barcode, p.category_id, c.name,
			p.cost_price, p.selling_price, p.stock, p.created_at
		FROM products p
		JOIN categories c ON c.id = p.category_id
		WHERE p.stock <= $1
		ORDER BY p.stock, p.name
	`, threshold)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Barcode, &p.CategoryID, &p.CategoryName,
			&p.CostPrice, &p.SellingPrice, &p.Stock, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CountProducts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count)
	return count, err
}

func (s *Store) CountLowStockProducts(ctx context.Context, threshold int) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM products WHERE stock <= $1
	`, threshold).Scan(&count)
	return count, err
}

// ReserveStock decrements stock with a single conditional update so two
// concurrent reservations can never both win the same units.
func (s *Store) ReserveStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}

	var remaining int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING stock
	`, productID, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var name string
	var available int
	err = s.db.QueryRowContext(ctx, `
		SELECT name, stock FROM products WHERE id = $1
	`, productID).Scan(&name, &available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return 0, &store.InsufficientStockError{ProductName: name, Available: available, Required: qty}
}

func (s *Store) RestockProduct(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}

	var remaining int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock
	`, productID, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return remaining, nil
}

func (s *Store) GetStock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := s.db.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE id = $1
	`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return stock, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM categories ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

// CreateSale commits the sale, its items and all stock reservations as one
// serializable transaction. Product rows are locked FOR UPDATE before the
// stock check so concurrent sales serialize on the same rows; the unique
// index on invoice_id rejects duplicates at insert time.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.InvoiceID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	productIDs := catalogProductIDs(sale.Items)
	products := make(map[string]lockedProduct, len(productIDs))
	if len(productIDs) > 0 {
		productRows, err := pgTx.QueryContext(ctx, `
			SELECT id, name, stock
			FROM products
			WHERE id = ANY($1)
			FOR UPDATE
		`, productIDs)
		if err != nil {
			return nil, err
		}
		for productRows.Next() {
			var p lockedProduct
			if err := productRows.Scan(&p.id, &p.name, &p.stock); err != nil {
				_ = productRows.Close()
				return nil, err
			}
			products[p.id] = p
		}
		if err := productRows.Err(); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		_ = productRows.Close()
	}

	required := make(map[string]int, len(productIDs))
	for i := range sale.Items {
		item := &sale.Items[i]
		if item.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if item.IsCustom {
			continue
		}
		product, exists := products[item.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		required[item.ProductID] += item.Quantity
		if required[item.ProductID] > product.stock {
			return nil, &store.InsufficientStockError{
				ProductName: product.name,
				Available:   product.stock,
				Required:    required[item.ProductID],
			}
		}
		item.ProductName = product.name
	}

	for productID, qty := range required {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2
		`, qty, productID); err != nil {
			return nil, err
		}
	}

	if err := insertSale(ctx, pgTx, &sale); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

// CreateReturn inserts a return sale and restocks its catalog items in one
// transaction.
func (s *Store) CreateReturn(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.InvoiceID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := insertSale(ctx, pgTx, &sale); err != nil {
		return nil, err
	}

	for _, item := range sale.Items {
		if item.IsCustom || item.ProductID == "" {
			continue
		}
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $1, updated_at = now()
			WHERE id = $2
		`, item.Quantity, item.ProductID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrNotFound
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func insertSale(ctx context.Context, pgTx *sql.Tx, sale *domain.Sale) error {
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

	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_id, sale_date, total, profit, discount, discount_type,
			customer_name, customer_phone, customer_email, customer_address,
			notes, cashier_username, is_return, return_reason, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, sale.ID, sale.InvoiceID, sale.SaleDate, sale.Total, sale.Profit, sale.Discount,
		nullIfEmpty(sale.DiscountType), nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerPhone),
		nullIfEmpty(sale.CustomerEmail), nullIfEmpty(sale.CustomerAddress), nullIfEmpty(sale.Notes),
		sale.CashierUsername, sale.IsReturn, nullIfEmpty(sale.ReturnReason), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateInvoice
		}
		return err
	}

	for i := range sale.Items {
		item := &sale.Items[i]
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.SaleID = sale.ID
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, product_name, quantity, unit_price, discount, discount_type, is_custom, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, sale.ID, nullIfEmpty(item.ProductID), item.ProductName, item.Quantity,
			item.UnitPrice, item.Discount, nullIfEmpty(item.DiscountType), item.IsCustom, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSaleByInvoiceID(ctx context.Context, invoiceID string) (*domain.Sale, error) {
	sales, err := s.querySales(ctx, `WHERE invoice_id = $1`, invoiceID)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, store.ErrNotFound
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}
	return s.querySales(ctx, `ORDER BY sale_date DESC LIMIT $1`, limit)
}

func (s *Store) ListSalesByDate(ctx context.Context, date time.Time) ([]domain.Sale, error) {
	day := dateUTC(date)
	return s.querySales(ctx, `
		WHERE sale_date >= $1 AND sale_date < $2
		ORDER BY sale_date DESC
	`, day, day.Add(24*time.Hour))
}

func (s *Store) ListSalesBetween(ctx context.Context, start time.Time, end time.Time) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		WHERE sale_date >= $1 AND sale_date < $2
		ORDER BY sale_date DESC
	`, dateUTC(start), dateUTC(end).Add(24*time.Hour))
}

func (s *Store) SearchSales(ctx context.Context, query string, limit int) ([]domain.Sale, error) {
	needle := strings.TrimSpace(query)
	if needle == "" {
		return []domain.Sale{}, nil
	}
	if limit < 1 {
		limit = 50
	}
	pattern := "%" + needle + "%"
	return s.querySales(ctx, `
		WHERE invoice_id ILIKE $1 OR customer_name ILIKE $1 OR customer_phone ILIKE $1
		ORDER BY sale_date DESC
		LIMIT $2
	`, pattern, limit)
}

func (s *Store) querySales(ctx context.Context, clause string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, sale_date, total, profit, discount,
			COALESCE(discount_type, ''), COALESCE(customer_name, ''), COALESCE(customer_phone, ''),
			COALESCE(customer_email, ''), COALESCE(customer_address, ''), COALESCE(notes, ''),
			cashier_username, is_return, COALESCE(return_reason, ''), created_at
		FROM sales
	`+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.InvoiceID, &sale.SaleDate, &sale.Total, &sale.Profit,
			&sale.Discount, &sale.DiscountType, &sale.CustomerName, &sale.CustomerPhone,
			&sale.CustomerEmail, &sale.CustomerAddress, &sale.Notes, &sale.CashierUsername,
			&sale.IsReturn, &sale.ReturnReason, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.SaleDate = sale.SaleDate.UTC()
		sale.CreatedAt = sale.CreatedAt.UTC()
		sale.Items = make([]domain.SaleItem, 0, 4)
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, COALESCE(product_id, ''), product_name, quantity, unit_price,
			discount, COALESCE(discount_type, ''), is_custom
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	byID := make(map[string]*domain.Sale, len(sales))
	for i := range sales {
		byID[sales[i].ID] = &sales[i]
	}
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.Discount, &item.DiscountType, &item.IsCustom); err != nil {
			return nil, err
		}
		if sale, ok := byID[item.SaleID]; ok {
			sale.Items = append(sale.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	return sales, nil
}

func (s *Store) GetDailyTotals(ctx context.Context, date time.Time) (domain.DailyTotals, error) {
	day := dateUTC(date)
	totals := domain.DailyTotals{
		Date:   day.Format("2006-01-02"),
		Total:  decimal.Zero,
		Profit: decimal.Zero,
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0), COALESCE(SUM(profit), 0), COUNT(*)
		FROM sales
		WHERE is_return = false AND sale_date >= $1 AND sale_date < $2
	`, day, day.Add(24*time.Hour)).Scan(&totals.Total, &totals.Profit, &totals.SaleCount)
	if err != nil {
		return domain.DailyTotals{}, err
	}
	return totals, nil
}

func (s *Store) GetCategoryBreakdown(ctx context.Context) ([]domain.CategorySales, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, COALESCE(SUM(si.unit_price * si.quantity), 0), COALESCE(SUM(si.quantity), 0)
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		JOIN products p ON p.id = si.product_id
		JOIN categories c ON c.id = p.category_id
		WHERE si.is_custom = false AND s.is_return = false
		GROUP BY c.name
		ORDER BY c.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := make([]domain.CategorySales, 0, 16)
	for rows.Next() {
		var entry domain.CategorySales
		if err := rows.Scan(&entry.CategoryName, &entry.Revenue, &entry.Quantity); err != nil {
			return nil, err
		}
		breakdown = append(breakdown, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return breakdown, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type lockedProduct struct {
	id    string
	name  string
	stock int
}

func catalogProductIDs(items []domain.SaleItem) []string {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.IsCustom || item.ProductID == "" {
			continue
		}
		set[item.ProductID] = struct{}{}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
