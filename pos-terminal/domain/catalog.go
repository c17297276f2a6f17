package domain

import sales "github.com/fjod/go_pos/sales-service/domain"

// Product and Category are the sales service wire types; the terminal never
// mutates them.
type (
	Product  = sales.Product
	Category = sales.Category
)

// CatalogItem is a product as presented by the terminal catalog view.
type CatalogItem struct {
	Product
	LowStock   bool `json:"low_stock"`
	OutOfStock bool `json:"out_of_stock"`
}

func NewCatalogItem(p Product) CatalogItem {
	return CatalogItem{
		Product:    p,
		LowStock:   p.LowStock(),
		OutOfStock: p.Stock <= 0,
	}
}

// AllCategoriesFilter is the category filter that selects every product.
const AllCategoriesFilter = sales.AllCategories
