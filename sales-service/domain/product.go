package domain

// Product is a catalog entry as served by GET /products.
// Stock is authoritative only at fetch time.
type Product struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Price      float64 `json:"selling_price"`
	CostPrice  float64 `json:"cost_price"`
	Stock      int     `json:"current_stock"`
	MinStock   int     `json:"min_stock"`
	CategoryID int64   `json:"category_id"`
	SKU        string  `json:"sku,omitempty"`
	Barcode    string  `json:"barcode,omitempty"`
}

// LowStock reports whether stock is at or below the minimum threshold.
func (p Product) LowStock() bool {
	return p.Stock <= p.MinStock
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AllCategories is the category filter value meaning "no filter".
const AllCategories = "All"
