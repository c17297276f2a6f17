package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/fjod/go_pos/sales-service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) *Repository {
	creds := &Credentials{
		Driver:            DriverSQLite,
		SQLitePath:        ":memory:",
		MigrationsDirPath: "./migrations/sqlite",
	}
	repo, err := NewRepository(creds)
	require.NoError(t, err)

	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func productStock(t *testing.T, repo *Repository, id int64) int {
	var stock int
	err := repo.db.QueryRow(`SELECT current_stock FROM products WHERE id = $1`, id).Scan(&stock)
	require.NoError(t, err)
	return stock
}

func saleRequest(txID string, items ...domain.SaleItem) *domain.CommitSaleRequest {
	var subtotal float64
	for _, it := range items {
		subtotal += it.UnitPrice * float64(it.Quantity)
	}
	return &domain.CommitSaleRequest{
		Sale: domain.SaleHeader{
			Subtotal:      subtotal,
			TotalAmount:   subtotal,
			PaymentMethod: domain.PaymentCash,
			PaymentStatus: domain.PaymentStatusPaid,
			UserID:        7,
			StoreID:       1,
			TransactionID: txID,
		},
		Items: items,
	}
}

func TestListProducts_ReturnsSeededCatalog(t *testing.T) {
	repo := setupSQLite(t)

	products, err := repo.ListProducts(context.Background(), 0)

	require.NoError(t, err)
	assert.Len(t, products, 5)
	for _, p := range products {
		if p.ID == 5 {
			assert.Equal(t, 0, p.Stock)
			assert.Equal(t, "7501000000059", p.Barcode)
		}
	}
}

func TestListProducts_FiltersByCategory(t *testing.T) {
	repo := setupSQLite(t)

	products, err := repo.ListProducts(context.Background(), 1)

	require.NoError(t, err)
	assert.Len(t, products, 2)
	for _, p := range products {
		assert.Equal(t, int64(1), p.CategoryID)
	}
}

func TestListProducts_CancelledContext(t *testing.T) {
	repo := setupSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.ListProducts(ctx, 0)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestListCategories(t *testing.T) {
	repo := setupSQLite(t)

	categories, err := repo.ListCategories(context.Background())

	require.NoError(t, err)
	assert.Len(t, categories, 3)
}

func TestCommitSale_DecrementsStockAndNumbersSale(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()
	req := saleRequest("tx-1",
		domain.SaleItem{ProductID: 1, Quantity: 3, UnitPrice: 1.25, ProductName: "Sparkling Water 500ml"},
		domain.SaleItem{ProductID: 2, Quantity: 1, UnitPrice: 3.50, ProductName: "Cold Brew Coffee"},
	)
	req.Customer = &domain.Customer{Name: "Ana", Email: "ana@example.com"}

	res, err := repo.CommitSale(ctx, req)

	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Regexp(t, regexp.MustCompile(`^S\d{8}-\d{6}$`), res.Sale.SaleNumber)
	assert.Equal(t, 117, productStock(t, repo, 1))
	assert.Equal(t, 39, productStock(t, repo, 2))

	stored, err := repo.GetSale(ctx, res.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Sale.SaleNumber, stored.SaleNumber)
	assert.Len(t, stored.Items, 2)
	require.NotNil(t, stored.Customer)
	assert.Equal(t, "Ana", stored.Customer.Name)
	assert.InDelta(t, 7.25, stored.TotalAmount, 0.001)
}

func TestCommitSale_InsufficientStockWritesNothing(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()
	req := saleRequest("tx-2",
		domain.SaleItem{ProductID: 1, Quantity: 2, UnitPrice: 1.25, ProductName: "Sparkling Water 500ml"},
		domain.SaleItem{ProductID: 4, Quantity: 6, UnitPrice: 2.75, ProductName: "Dark Chocolate Bar"},
	)

	res, err := repo.CommitSale(ctx, req)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(4), stockErr.ProductID)
	assert.Equal(t, 5, stockErr.Available)
	assert.Contains(t, err.Error(), "insufficient stock")

	assert.Equal(t, 120, productStock(t, repo, 1))
	assert.Equal(t, 5, productStock(t, repo, 4))

	sales, err := repo.ListSales(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, sales)
	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCommitSale_OutOfStockProduct(t *testing.T) {
	repo := setupSQLite(t)

	_, err := repo.CommitSale(context.Background(), saleRequest("tx-3",
		domain.SaleItem{ProductID: 5, Quantity: 1, UnitPrice: 4.99, ProductName: "Dish Soap 750ml"},
	))

	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestCommitSale_UnknownProduct(t *testing.T) {
	repo := setupSQLite(t)

	_, err := repo.CommitSale(context.Background(), saleRequest("tx-4",
		domain.SaleItem{ProductID: 999, Quantity: 1, UnitPrice: 1, ProductName: "Ghost"},
	))

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCommitSale_ReplayReturnsExistingSale(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()
	item := domain.SaleItem{ProductID: 3, Quantity: 4, UnitPrice: 2.10, ProductName: "Salted Peanuts 200g"}

	first, err := repo.CommitSale(ctx, saleRequest("tx-replay", item))
	require.NoError(t, err)
	second, err := repo.CommitSale(ctx, saleRequest("tx-replay", item))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Sale.ID, second.Sale.ID)
	assert.Equal(t, first.Sale.SaleNumber, second.Sale.SaleNumber)
	assert.Equal(t, 56, productStock(t, repo, 3))
}

func TestCommitSale_WritesOutboxEvent(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	res, err := repo.CommitSale(ctx, saleRequest("tx-5",
		domain.SaleItem{ProductID: 2, Quantity: 2, UnitPrice: 3.50, ProductName: "Cold Brew Coffee"},
	))
	require.NoError(t, err)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventSaleCommitted, events[0].EventType)
	assert.Contains(t, string(events[0].Payload), res.Sale.SaleNumber)
	assert.Contains(t, string(events[0].Payload), `"transaction_id":"tx-5"`)

	require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGetSale_NotFound(t *testing.T) {
	repo := setupSQLite(t)

	sale, err := repo.GetSale(context.Background(), 42)

	assert.Nil(t, sale)
	assert.ErrorIs(t, err, ErrSaleNotFound)
}

func TestListSales_NewestFirst(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()
	item := domain.SaleItem{ProductID: 1, Quantity: 1, UnitPrice: 1.25, ProductName: "Sparkling Water 500ml"}

	a, err := repo.CommitSale(ctx, saleRequest("tx-a", item))
	require.NoError(t, err)
	b, err := repo.CommitSale(ctx, saleRequest("tx-b", item))
	require.NoError(t, err)

	sales, err := repo.ListSales(ctx, 10)

	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, b.Sale.ID, sales[0].ID)
	assert.Equal(t, a.Sale.ID, sales[1].ID)
	assert.Len(t, sales[0].Items, 1)
	assert.Nil(t, sales[0].Customer)
}
