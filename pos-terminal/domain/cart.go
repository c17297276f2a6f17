package domain

// CartLine denormalizes the product's name, price and codes at add time so
// pricing stays stable across catalog refreshes.
type CartLine struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	CostPrice float64 `json:"cost_price"`
	SKU       string  `json:"sku,omitempty"`
	Barcode   string  `json:"barcode,omitempty"`
	Quantity  int     `json:"quantity"`
	// KnownStock is the stock last observed for this product. Used when the
	// product is no longer in the active snapshot.
	KnownStock int `json:"-"`
}

func (l CartLine) LineTotal() float64 {
	return l.Price * float64(l.Quantity)
}

func CloneLines(lines []CartLine) []CartLine {
	if lines == nil {
		return []CartLine{}
	}
	out := make([]CartLine, len(lines))
	copy(out, lines)
	return out
}

type DiscountKind string

const (
	DiscountNone    DiscountKind = ""
	DiscountPercent DiscountKind = "percent"
	DiscountFixed   DiscountKind = "fixed"
)

// DiscountSpec is either a percentage in [0,100] or a fixed amount.
type DiscountSpec struct {
	Kind  DiscountKind `json:"kind"`
	Value float64      `json:"value"`
}

func NoDiscount() DiscountSpec { return DiscountSpec{} }

func PercentDiscount(pct float64) DiscountSpec {
	return DiscountSpec{Kind: DiscountPercent, Value: pct}
}

func FixedDiscount(amount float64) DiscountSpec {
	return DiscountSpec{Kind: DiscountFixed, Value: amount}
}

// Totals are derived on every read; never stored across mutations.
type Totals struct {
	Subtotal       float64 `json:"subtotal"`
	DiscountAmount float64 `json:"discount_amount"`
	Taxable        float64 `json:"taxable"`
	Tax            float64 `json:"tax"`
	Total          float64 `json:"total"`
}
