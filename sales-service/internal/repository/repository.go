package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_pos/sales-service/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSaleNotFound      = errors.New("sale not found")
	ErrDuplicateSale     = errors.New("sale for this transaction already exists")
)

// InsufficientStockError identifies the line that could not be decremented.
// It matches ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (product %d): requested %d, available %d",
		e.Name, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type Credentials struct {
	Driver            string
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SQLitePath        string
	MigrationsDirPath string
}

// CommitResult carries the committed sale. Replayed is set when the
// transaction id had already been committed and nothing was written.
type CommitResult struct {
	Sale     *domain.Sale
	Replayed bool
}

type SaleRepository interface {
	ListProducts(ctx context.Context, categoryID int64) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CommitSale(ctx context.Context, req *domain.CommitSaleRequest) (*CommitResult, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]*domain.Sale, error)
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	RunMigrations(*Credentials) error
	Close() error
}

type Repository struct {
	db     *sql.DB
	driver string
}

func NewRepository(cred *Credentials) (*Repository, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cred.Driver {
	case DriverPostgres, "":
		psqlconn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cred.Host,
			cred.Port,
			cred.User,
			cred.Password,
			cred.DBName)
		db, err = sql.Open("postgres", psqlconn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(10)
		cred.Driver = DriverPostgres
	case DriverSQLite:
		db, err = sql.Open("sqlite", cred.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// one connection: ":memory:" is per-connection and sqlite serializes writers anyway
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cred.Driver)
	}

	if e2 := db.Ping(); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	return &Repository{db: db, driver: cred.Driver}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	var (
		driver database.Driver
		err    error
	)
	if r.driver == DriverSQLite {
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{})
	} else {
		driver, err = postgres.WithInstance(r.db, &postgres.Config{
			MigrationsTable: "sales_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		r.driver,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
