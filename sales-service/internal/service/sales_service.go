package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/fjod/go_pos/pkg/logger"
	"github.com/fjod/go_pos/sales-service/domain"
	"github.com/fjod/go_pos/sales-service/internal/cache"
	"github.com/fjod/go_pos/sales-service/internal/repository"
	"golang.org/x/sync/singleflight"
)

// each header amount is rounded to cents independently
const totalsTolerance = 0.021

type SalesService struct {
	repo  repository.SaleRepository
	cache cache.ProductCache
	sfg   singleflight.Group // Prevents cache stampede
	log   *slog.Logger
}

// NewSalesService wires the service. productCache may be nil, in which case
// every listing goes to the database.
func NewSalesService(repo repository.SaleRepository, productCache cache.ProductCache, log *slog.Logger) *SalesService {
	return &SalesService{
		repo:  repo,
		cache: productCache,
		log:   logger.OrDefault(log),
	}
}

func (s *SalesService) ListProducts(ctx context.Context, categoryID int64) ([]domain.Product, error) {
	if s.cache == nil {
		return s.repo.ListProducts(ctx, categoryID)
	}

	v, err, _ := s.sfg.Do(strconv.FormatInt(categoryID, 10), func() (interface{}, error) {
		products, err := s.cache.GetProducts(ctx, categoryID)
		if err == nil {
			return products, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "product cache get failed", "category_id", categoryID, "error", err)
		}

		products, err = s.repo.ListProducts(ctx, categoryID)
		if err != nil {
			return nil, err
		}

		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if errSet := s.cache.SetProducts(setCtx, categoryID, products); errSet != nil {
				s.log.Warn("product cache set failed", "category_id", categoryID, "error", errSet)
			}
		}()

		return products, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]domain.Product), nil
}

func (s *SalesService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

// CommitSale validates the request and records it. The returned flag is
// true when the transaction id had already been committed.
func (s *SalesService) CommitSale(ctx context.Context, req *domain.CommitSaleRequest) (*domain.Sale, bool, error) {
	if err := ValidateSale(req); err != nil {
		return nil, false, err
	}
	if req.Sale.PaymentStatus == "" {
		req.Sale.PaymentStatus = domain.PaymentStatusPaid
	}

	res, err := s.repo.CommitSale(ctx, req)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			s.log.InfoContext(ctx, "sale rejected", "transaction_id", req.Sale.TransactionID, "error", err)
		}
		return nil, false, err
	}

	if res.Replayed {
		s.log.InfoContext(ctx, "duplicate sale commit detected",
			"transaction_id", req.Sale.TransactionID, "sale_number", res.Sale.SaleNumber)
		return res.Sale, true, nil
	}

	s.log.InfoContext(ctx, "sale committed",
		"sale_id", res.Sale.ID,
		"sale_number", res.Sale.SaleNumber,
		"items", len(res.Sale.Items),
		"total", res.Sale.TotalAmount)
	s.invalidateProducts()
	return res.Sale, false, nil
}

func (s *SalesService) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return s.repo.GetSale(ctx, id)
}

func (s *SalesService) ListSales(ctx context.Context, limit int) ([]*domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

func (s *SalesService) invalidateProducts() {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.InvalidateProducts(ctx); err != nil {
		s.log.Warn("product cache invalidate failed", "error", err)
	}
}

// ValidateSale checks the request shape and that the header totals agree
// with the lines: total = subtotal - discount + tax.
func ValidateSale(req *domain.CommitSaleRequest) error {
	if req == nil {
		return &ValidationError{Field: "body", Reason: "is required"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	if !req.Sale.PaymentMethod.Valid() {
		return &ValidationError{Field: "sale.payment_method", Reason: fmt.Sprintf("%q is not supported", req.Sale.PaymentMethod)}
	}
	if req.Sale.StoreID <= 0 {
		return &ValidationError{Field: "sale.store_id", Reason: "must be positive"}
	}

	seen := make(map[int64]bool, len(req.Items))
	var subtotal float64
	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		switch {
		case it.ProductID <= 0:
			return &ValidationError{Field: field + ".product_id", Reason: "must be positive"}
		case seen[it.ProductID]:
			return &ValidationError{Field: field + ".product_id", Reason: "is duplicated"}
		case it.Quantity <= 0:
			return &ValidationError{Field: field + ".quantity", Reason: "must be at least 1"}
		case it.UnitPrice < 0:
			return &ValidationError{Field: field + ".unit_price", Reason: "must not be negative"}
		case it.DiscountAmount < 0:
			return &ValidationError{Field: field + ".discount_amount", Reason: "must not be negative"}
		}
		seen[it.ProductID] = true
		subtotal += it.UnitPrice*float64(it.Quantity) - it.DiscountAmount
	}

	h := req.Sale
	if h.Subtotal < 0 || h.DiscountAmount < 0 || h.TaxAmount < 0 || h.TotalAmount < 0 {
		return &ValidationError{Field: "sale", Reason: "amounts must not be negative"}
	}
	if h.DiscountAmount > h.Subtotal+totalsTolerance {
		return &ValidationError{Field: "sale.discount_amount", Reason: "exceeds subtotal"}
	}
	if math.Abs(subtotal-h.Subtotal) > totalsTolerance {
		return &ValidationError{Field: "sale.subtotal", Reason: "does not match items"}
	}
	if math.Abs(h.Subtotal-h.DiscountAmount+h.TaxAmount-h.TotalAmount) > totalsTolerance {
		return &ValidationError{Field: "sale.total_amount", Reason: "does not equal subtotal - discount + tax"}
	}
	return nil
}
