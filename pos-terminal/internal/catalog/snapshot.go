package catalog

import (
	"time"

	"github.com/fjod/go_pos/pos-terminal/domain"
)

// Snapshot is an immutable product list for one category filter. Stock
// numbers are hints, valid as of FetchedAt.
type Snapshot struct {
	Category  string
	FetchedAt time.Time
	Seq       uint64

	products  []domain.Product
	byID      map[int64]int
	byBarcode map[string]int
}

func newSnapshot(category string, products []domain.Product, seq uint64, at time.Time) *Snapshot {
	s := &Snapshot{
		Category:  category,
		FetchedAt: at,
		Seq:       seq,
		products:  make([]domain.Product, len(products)),
		byID:      make(map[int64]int, len(products)),
		byBarcode: make(map[string]int),
	}
	copy(s.products, products)
	for i, p := range s.products {
		s.byID[p.ID] = i
		if p.Barcode != "" {
			s.byBarcode[p.Barcode] = i
		}
		if p.SKU != "" {
			if _, taken := s.byBarcode[p.SKU]; !taken {
				s.byBarcode[p.SKU] = i
			}
		}
	}
	return s
}

func (s *Snapshot) Product(id int64) (domain.Product, bool) {
	i, ok := s.byID[id]
	if !ok {
		return domain.Product{}, false
	}
	return s.products[i], true
}

// ByCode looks a product up by barcode, falling back to SKU.
func (s *Snapshot) ByCode(code string) (domain.Product, bool) {
	i, ok := s.byBarcode[code]
	if !ok {
		return domain.Product{}, false
	}
	return s.products[i], true
}

// Stock returns the snapshot stock for id and whether the product is present.
func (s *Snapshot) Stock(id int64) (int, bool) {
	p, ok := s.Product(id)
	return p.Stock, ok
}

func (s *Snapshot) Len() int {
	return len(s.products)
}

func (s *Snapshot) Products() []domain.Product {
	out := make([]domain.Product, len(s.products))
	copy(out, s.products)
	return out
}

func (s *Snapshot) Items() []domain.CatalogItem {
	out := make([]domain.CatalogItem, len(s.products))
	for i, p := range s.products {
		out[i] = domain.NewCatalogItem(p)
	}
	return out
}

// NewSnapshot builds a standalone snapshot, outside any Cache.
func NewSnapshot(category string, products []domain.Product) *Snapshot {
	return newSnapshot(category, products, 0, time.Now())
}
