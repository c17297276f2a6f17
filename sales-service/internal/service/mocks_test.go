package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_pos/sales-service/domain"
	"github.com/fjod/go_pos/sales-service/internal/cache"
	"github.com/fjod/go_pos/sales-service/internal/repository"
)

// MockRepository implements repository.SaleRepository for testing
type MockRepository struct {
	Products      []domain.Product
	ListErr       error
	ListCalls     atomic.Int32
	ListDelay     time.Duration
	CommitResult  *repository.CommitResult
	CommitErr     error
	CommittedReqs []*domain.CommitSaleRequest
	Sale          *domain.Sale
	GetErr        error
}

func (m *MockRepository) ListProducts(_ context.Context, _ int64) ([]domain.Product, error) {
	m.ListCalls.Add(1)
	if m.ListDelay > 0 {
		time.Sleep(m.ListDelay)
	}
	return m.Products, m.ListErr
}

func (m *MockRepository) ListCategories(_ context.Context) ([]domain.Category, error) {
	return []domain.Category{{ID: 1, Name: "Beverages"}}, nil
}

func (m *MockRepository) CommitSale(_ context.Context, req *domain.CommitSaleRequest) (*repository.CommitResult, error) {
	m.CommittedReqs = append(m.CommittedReqs, req)
	return m.CommitResult, m.CommitErr
}

func (m *MockRepository) GetSale(_ context.Context, _ int64) (*domain.Sale, error) {
	return m.Sale, m.GetErr
}

func (m *MockRepository) ListSales(_ context.Context, _ int) ([]*domain.Sale, error) {
	if m.Sale == nil {
		return nil, m.GetErr
	}
	return []*domain.Sale{m.Sale}, m.GetErr
}

func (m *MockRepository) GetUnprocessedEvents(_ context.Context, _ int) ([]*repository.OutboxEvent, error) {
	return nil, nil
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, _ int64) error { return nil }
func (m *MockRepository) RunMigrations(*repository.Credentials) error        { return nil }
func (m *MockRepository) Close() error                                        { return nil }

// MockCache implements cache.ProductCache for testing
type MockCache struct {
	mu          sync.Mutex
	entries     map[int64][]domain.Product
	GetErr      error
	Invalidated int
	setDone     chan struct{}
}

func NewMockCache() *MockCache {
	return &MockCache{
		entries: make(map[int64][]domain.Product),
		setDone: make(chan struct{}, 10),
	}
}

func (m *MockCache) GetProducts(_ context.Context, categoryID int64) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	p, ok := m.entries[categoryID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return p, nil
}

func (m *MockCache) SetProducts(_ context.Context, categoryID int64, products []domain.Product) error {
	m.mu.Lock()
	m.entries[categoryID] = products
	m.mu.Unlock()
	m.setDone <- struct{}{}
	return nil
}

func (m *MockCache) InvalidateProducts(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[int64][]domain.Product)
	m.Invalidated++
	return nil
}
