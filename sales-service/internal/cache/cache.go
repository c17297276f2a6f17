package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_pos/sales-service/domain"
)

// ProductCache holds catalog listings keyed by category filter.
// categoryID 0 is the unfiltered listing.
type ProductCache interface {
	GetProducts(ctx context.Context, categoryID int64) ([]domain.Product, error)
	SetProducts(ctx context.Context, categoryID int64, products []domain.Product) error
	InvalidateProducts(ctx context.Context) error
}

var ErrCacheMiss = errors.New("cache miss")
