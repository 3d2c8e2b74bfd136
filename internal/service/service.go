package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posdesk/backend/internal/analytics"
	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/xid"
)

var (
	ErrActorRequired = errors.New("authenticated actor required")
	ErrAdminRequired = errors.New("admin role required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	analytics *analytics.Engine
	log       *logrus.Logger
}

func New(repo store.Repository, engine *analytics.Engine, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}

	return &Service{
		repo:      repo,
		analytics: engine,
		log:       log,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, store.ErrValidation
	}
	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, ErrAdminRequired
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.CategoryID = strings.TrimSpace(req.CategoryID)

	if req.Name == "" || req.Barcode == "" || req.CategoryID == "" {
		return domain.Product{}, store.ErrValidation
	}
	if !req.SellingPrice.IsPositive() || req.CostPrice.IsNegative() || req.InitialStock < 0 {
		return domain.Product{}, store.ErrValidation
	}

	product := domain.Product{
		Name:         req.Name,
		Description:  strings.TrimSpace(req.Description),
		Barcode:      req.Barcode,
		CategoryID:   req.CategoryID,
		CostPrice:    req.CostPrice,
		SellingPrice: req.SellingPrice,
		Stock:        req.InitialStock,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id": created.ID,
		"barcode":    created.Barcode,
		"actor":      actor.Username,
	}).Info("product created")

	return *created, nil
}

func (s *Service) ListLowStockProducts(ctx context.Context, threshold int) ([]domain.Product, error) {
	if threshold < 1 {
		threshold = 5
	}
	return s.repo.ListLowStockProducts(ctx, threshold)
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

// CreateSale validates the request and hands the whole sale to the store,
// which commits items, totals and stock reservations as one unit. Totals
// come from the register and are recorded as submitted.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, ErrActorRequired
	}

	req.InvoiceID = strings.TrimSpace(req.InvoiceID)
	if req.InvoiceID == "" {
		return domain.Sale{}, fmt.Errorf("%w: invoice id required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	if !validDiscountType(req.DiscountType) {
		return domain.Sale{}, fmt.Errorf("%w: unknown discount type %q", store.ErrValidation, req.DiscountType)
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return domain.Sale{}, fmt.Errorf("%w: item quantity must be positive", store.ErrValidation)
		}
		if !line.UnitPrice.IsPositive() {
			return domain.Sale{}, fmt.Errorf("%w: item price must be positive", store.ErrValidation)
		}
		if !validDiscountType(line.DiscountType) {
			return domain.Sale{}, fmt.Errorf("%w: unknown discount type %q", store.ErrValidation, line.DiscountType)
		}
		if line.IsCustom {
			if strings.TrimSpace(line.ProductName) == "" {
				return domain.Sale{}, fmt.Errorf("%w: custom item name required", store.ErrValidation)
			}
		} else if strings.TrimSpace(line.ProductID) == "" {
			return domain.Sale{}, fmt.Errorf("%w: product id required", store.ErrValidation)
		}

		items = append(items, domain.SaleItem{
			ProductID:    strings.TrimSpace(line.ProductID),
			ProductName:  strings.TrimSpace(line.ProductName),
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			Discount:     line.Discount,
			DiscountType: line.DiscountType,
			IsCustom:     line.IsCustom,
		})
	}

	sale := domain.Sale{
		InvoiceID:       req.InvoiceID,
		SaleDate:        time.Now().UTC().Truncate(time.Second),
		Total:           req.Total,
		Profit:          req.Profit,
		Discount:        req.Discount,
		DiscountType:    req.DiscountType,
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		CustomerAddress: strings.TrimSpace(req.CustomerAddress),
		Notes:           strings.TrimSpace(req.Notes),
		CashierUsername: actor.Username,
		Items:           items,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.log.WithFields(logrus.Fields{
		"invoice_id": created.InvoiceID,
		"total":      created.Total.String(),
		"items":      len(created.Items),
		"cashier":    actor.Username,
	}).Info("sale created")

	return *created, nil
}

// ProcessReturn records a return against an existing sale. The return is a
// standalone sale row with a negative total and zero profit; the original
// sale is never modified. Item discounts are kept on the return lines but
// do not reduce the refunded amount.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Sale{}, ErrAdminRequired
	}

	req.OriginalInvoiceID = strings.TrimSpace(req.OriginalInvoiceID)
	if req.OriginalInvoiceID == "" {
		return domain.Sale{}, fmt.Errorf("%w: original invoice id required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: no items to return", store.ErrValidation)
	}

	original, err := s.repo.GetSaleByInvoiceID(ctx, req.OriginalInvoiceID)
	if err != nil {
		return domain.Sale{}, err
	}

	now := time.Now().UTC()
	refunded := decimal.Zero
	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return domain.Sale{}, fmt.Errorf("%w: return quantity must be positive", store.ErrValidation)
		}
		if !validDiscountType(line.DiscountType) {
			return domain.Sale{}, fmt.Errorf("%w: unknown discount type %q", store.ErrValidation, line.DiscountType)
		}
		refunded = refunded.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		items = append(items, domain.SaleItem{
			ProductID:    strings.TrimSpace(line.ProductID),
			ProductName:  strings.TrimSpace(line.ProductName),
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			Discount:     line.Discount,
			DiscountType: line.DiscountType,
			IsCustom:     line.IsCustom,
		})
	}

	ret := domain.Sale{
		InvoiceID:       xid.ReturnInvoice(now),
		SaleDate:        now.Truncate(time.Second),
		Total:           refunded.Neg(),
		Profit:          decimal.Zero,
		CustomerName:    original.CustomerName,
		CustomerPhone:   original.CustomerPhone,
		CustomerEmail:   original.CustomerEmail,
		CustomerAddress: original.CustomerAddress,
		Notes:           fmt.Sprintf("Return for invoice: %s", original.InvoiceID),
		CashierUsername: actor.Username,
		IsReturn:        true,
		ReturnReason:    strings.TrimSpace(req.Reason),
		Items:           items,
	}

	created, err := s.repo.CreateReturn(ctx, ret)
	if err != nil {
		return domain.Sale{}, err
	}

	s.log.WithFields(logrus.Fields{
		"invoice_id":          created.InvoiceID,
		"original_invoice_id": original.InvoiceID,
		"refunded":            refunded.String(),
		"actor":               actor.Username,
	}).Info("return processed")

	return *created, nil
}

// UpdateStock is the manual adjustment path for admins. Decreases go through
// the same conditional reservation as sales, so stock can never go negative.
func (s *Service) UpdateStock(ctx context.Context, productID string, req domain.StockUpdateRequest) (domain.StockUpdateResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.StockUpdateResponse{}, ErrAdminRequired
	}

	productID = strings.TrimSpace(productID)
	if productID == "" || req.Quantity < 1 {
		return domain.StockUpdateResponse{}, store.ErrValidation
	}

	var (
		remaining int
		err       error
	)
	if req.IsIncrease {
		remaining, err = s.repo.RestockProduct(ctx, productID, req.Quantity)
	} else {
		remaining, err = s.repo.ReserveStock(ctx, productID, req.Quantity)
	}
	if err != nil {
		return domain.StockUpdateResponse{}, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id": productID,
		"quantity":   req.Quantity,
		"increase":   req.IsIncrease,
		"stock":      remaining,
		"actor":      actor.Username,
	}).Info("stock adjusted")

	return domain.StockUpdateResponse{ProductID: productID, Stock: remaining}, nil
}

func (s *Service) GetSaleByInvoice(ctx context.Context, invoiceID string) (domain.Sale, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.Sale{}, store.ErrValidation
	}
	sale, err := s.repo.GetSaleByInvoiceID(ctx, invoiceID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

func (s *Service) ListSalesByDate(ctx context.Context, date string) ([]domain.Sale, error) {
	day, err := parseDate(date, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.repo.ListSalesByDate(ctx, day)
}

func (s *Service) ListSalesBetween(ctx context.Context, start string, end string) ([]domain.Sale, error) {
	from, err := parseDate(start, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	to, err := parseDate(end, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end date before start date", store.ErrValidation)
	}
	return s.repo.ListSalesBetween(ctx, from, to)
}

func (s *Service) SearchSales(ctx context.Context, query string, limit int) ([]domain.Sale, error) {
	return s.repo.SearchSales(ctx, query, limit)
}

func (s *Service) DailyTotals(ctx context.Context, date string) (domain.DailyTotals, error) {
	day, err := parseDate(date, time.Now().UTC())
	if err != nil {
		return domain.DailyTotals{}, err
	}
	return s.analytics.DailyTotals(ctx, day)
}

func (s *Service) SalesSeries(ctx context.Context, start string, end string) ([]domain.DailyTotals, error) {
	now := time.Now().UTC()
	from, err := parseDate(start, now.AddDate(0, 0, -6))
	if err != nil {
		return nil, err
	}
	to, err := parseDate(end, now)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end date before start date", store.ErrValidation)
	}
	return s.analytics.Series(ctx, from, to), nil
}

func (s *Service) CategoryBreakdown(ctx context.Context) ([]domain.CategorySales, error) {
	return s.analytics.CategoryBreakdown(ctx)
}

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardSnapshot, error) {
	return s.analytics.Dashboard(ctx)
}

func validDiscountType(value string) bool {
	switch value {
	case "", domain.DiscountTypePercentage, domain.DiscountTypeFixed:
		return true
	}
	return false
}

func parseDate(value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", store.ErrValidation, value)
	}
	return parsed, nil
}
