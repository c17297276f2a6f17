package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_pos/sales-service/domain"
	"github.com/lib/pq"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const EventSaleCommitted = "sale.committed"

const saleColumns = `id, sale_number, transaction_id, sale_date, subtotal, tax_amount, discount_amount, total_amount,
	payment_method, payment_status, notes, user_id, store_id,
	customer_name, customer_email, customer_phone, customer_tax_id`

// CommitSale records the sale header and its lines and decrements stock in
// one database transaction. If any line lacks stock nothing is written.
func (r *Repository) CommitSale(ctx context.Context, req *domain.CommitSaleRequest) (*CommitResult, error) {
	if txID := req.Sale.TransactionID; txID != "" {
		existing, err := r.saleByTransactionID(ctx, txID)
		if err == nil {
			return &CommitResult{Sale: existing, Replayed: true}, nil
		}
		if !errors.Is(err, ErrSaleNotFound) {
			return nil, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range req.Items {
		if err := decrementStock(ctx, tx, item); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	customer := req.Customer
	if customer == nil {
		customer = &domain.Customer{}
	}
	var saleID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO sales (transaction_id, sale_date, subtotal, tax_amount, discount_amount, total_amount,
			payment_method, payment_status, notes, user_id, store_id,
			customer_name, customer_email, customer_phone, customer_tax_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		nullString(req.Sale.TransactionID),
		now,
		req.Sale.Subtotal,
		req.Sale.TaxAmount,
		req.Sale.DiscountAmount,
		req.Sale.TotalAmount,
		string(req.Sale.PaymentMethod),
		req.Sale.PaymentStatus,
		req.Sale.Notes,
		req.Sale.UserID,
		req.Sale.StoreID,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.TaxID,
	).Scan(&saleID)
	if err != nil {
		if isUniqueViolation(err) {
			// release the connection first; sqlite runs with a single one
			tx.Rollback()
			return r.replay(ctx, req.Sale.TransactionID)
		}
		return nil, fmt.Errorf("failed to insert sale: %w", err)
	}

	saleNumber := fmt.Sprintf("S%s-%06d", now.Format("20060102"), saleID)
	if _, err := tx.ExecContext(ctx, `UPDATE sales SET sale_number = $1 WHERE id = $2`, saleNumber, saleID); err != nil {
		return nil, fmt.Errorf("failed to set sale number: %w", err)
	}

	for _, item := range req.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, discount_amount, product_name, product_sku, product_barcode)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			saleID, item.ProductID, item.Quantity, item.UnitPrice, item.DiscountAmount,
			item.ProductName, item.ProductSKU, item.ProductBarcode,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert sale item: %w", err)
		}
	}

	event := domain.SaleCommittedEvent{
		SaleID:        saleID,
		SaleNumber:    saleNumber,
		StoreID:       req.Sale.StoreID,
		TransactionID: req.Sale.TransactionID,
		Items:         make([]domain.StockMovement, len(req.Items)),
		CommittedAt:   now,
	}
	for i, item := range req.Items {
		event.Items[i] = domain.StockMovement{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	if err := insertOutboxEvent(ctx, tx, fmt.Sprint(saleID), EventSaleCommitted, event, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return r.replay(ctx, req.Sale.TransactionID)
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	sale := &domain.Sale{
		ID:             saleID,
		SaleNumber:     saleNumber,
		SaleDate:       now,
		Items:          append([]domain.SaleItem(nil), req.Items...),
		Subtotal:       req.Sale.Subtotal,
		TaxAmount:      req.Sale.TaxAmount,
		DiscountAmount: req.Sale.DiscountAmount,
		TotalAmount:    req.Sale.TotalAmount,
		PaymentMethod:  req.Sale.PaymentMethod,
		PaymentStatus:  req.Sale.PaymentStatus,
		Notes:          req.Sale.Notes,
		UserID:         req.Sale.UserID,
		StoreID:        req.Sale.StoreID,
		TransactionID:  req.Sale.TransactionID,
	}
	if !req.Customer.IsEmpty() {
		c := *req.Customer
		sale.Customer = &c
	}
	return &CommitResult{Sale: sale}, nil
}

func decrementStock(ctx context.Context, tx *sql.Tx, item domain.SaleItem) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET current_stock = current_stock - $1
		WHERE id = $2 AND is_active AND current_stock >= $1`,
		item.Quantity, item.ProductID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var (
		name  string
		stock int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT name, current_stock FROM products WHERE id = $1 AND is_active`, item.ProductID,
	).Scan(&name, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %d: %w", item.ProductID, ErrProductNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query product stock: %w", err)
	}
	return &InsufficientStockError{
		ProductID: item.ProductID,
		Name:      name,
		Requested: item.Quantity,
		Available: stock,
	}
}

func (r *Repository) replay(ctx context.Context, transactionID string) (*CommitResult, error) {
	existing, err := r.saleByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateSale, err)
	}
	return &CommitResult{Sale: existing, Replayed: true}, nil
}

func (r *Repository) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}
	if sale.Items, err = r.saleItems(ctx, sale.ID); err != nil {
		return nil, err
	}
	return sale, nil
}

func (r *Repository) saleByTransactionID(ctx context.Context, transactionID string) (*domain.Sale, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE transaction_id = $1`, transactionID)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}
	if sale.Items, err = r.saleItems(ctx, sale.ID); err != nil {
		return nil, err
	}
	return sale, nil
}

// ListSales returns the most recent sales first.
func (r *Repository) ListSales(ctx context.Context, limit int) ([]*domain.Sale, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	sales := make([]*domain.Sale, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for _, sale := range sales {
		if sale.Items, err = r.saleItems(ctx, sale.ID); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

func (r *Repository) saleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, quantity, unit_price, discount_amount, product_name, product_sku, product_barcode
		FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, fmt.Errorf("query sale items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0)
	for rows.Next() {
		var it domain.SaleItem
		if err := rows.Scan(
			&it.ProductID,
			&it.Quantity,
			&it.UnitPrice,
			&it.DiscountAmount,
			&it.ProductName,
			&it.ProductSKU,
			&it.ProductBarcode,
		); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var (
		s             domain.Sale
		saleNumber    sql.NullString
		transactionID sql.NullString
		method        string
		c             domain.Customer
	)
	err := row.Scan(
		&s.ID,
		&saleNumber,
		&transactionID,
		&s.SaleDate,
		&s.Subtotal,
		&s.TaxAmount,
		&s.DiscountAmount,
		&s.TotalAmount,
		&method,
		&s.PaymentStatus,
		&s.Notes,
		&s.UserID,
		&s.StoreID,
		&c.Name,
		&c.Email,
		&c.Phone,
		&c.TaxID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sale: %w", err)
	}
	s.SaleNumber = saleNumber.String
	s.TransactionID = transactionID.String
	s.PaymentMethod = domain.PaymentMethod(method)
	if !c.IsEmpty() {
		s.Customer = &c
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *moderncsqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func marshalPayload(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return string(b), nil
}
