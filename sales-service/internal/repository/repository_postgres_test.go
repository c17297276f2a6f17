package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_pos/sales-service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) (*Repository, func()) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Driver:            DriverPostgres,
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations/postgres",
	}

	repo, err := NewRepository(creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func TestPostgres_CommitSaleAndReplay(t *testing.T) {
	repo, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()
	req := saleRequest("pg-tx-1",
		domain.SaleItem{ProductID: 2, Quantity: 2, UnitPrice: 3.50, ProductName: "Cold Brew Coffee"},
	)

	first, err := repo.CommitSale(ctx, req)
	require.NoError(t, err)
	replay, err := repo.CommitSale(ctx, req)
	require.NoError(t, err)

	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Sale.ID, replay.Sale.ID)
	assert.Equal(t, 38, productStock(t, repo, 2))

	stored, err := repo.GetSale(ctx, first.Sale.ID)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, stored.TotalAmount, 0.001)
}

func TestPostgres_ConcurrentCommitsNeverOversell(t *testing.T) {
	repo, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	// product 4 holds 5 units; each attempt takes 3
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.CommitSale(ctx, saleRequest(fmt.Sprintf("pg-race-%d", i),
				domain.SaleItem{ProductID: 4, Quantity: 3, UnitPrice: 2.75, ProductName: "Dark Chocolate Bar"},
			))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrInsufficientStock)
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 3, rejected)
	assert.Equal(t, 2, productStock(t, repo, 4))
}
