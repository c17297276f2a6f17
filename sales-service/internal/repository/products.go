package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fjod/go_pos/sales-service/domain"
)

const productColumns = `id, name, selling_price, cost_price, current_stock, min_stock, category_id, sku, barcode`

// ListProducts returns active products ordered by name. categoryID 0 means all.
func (r *Repository) ListProducts(ctx context.Context, categoryID int64) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE is_active`
	var args []interface{}
	if categoryID > 0 {
		query += ` AND category_id = $1`
		args = append(args, categoryID)
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return products, nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return categories, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p          domain.Product
		categoryID sql.NullInt64
		sku        sql.NullString
		barcode    sql.NullString
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&p.CostPrice,
		&p.Stock,
		&p.MinStock,
		&categoryID,
		&sku,
		&barcode,
	)
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to scan product: %w", err)
	}
	p.CategoryID = categoryID.Int64
	p.SKU = sku.String
	p.Barcode = barcode.String
	return p, nil
}
