package domain

import "time"

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	}
	return false
}

const PaymentStatusPaid = "paid"

// Customer is optional; a nil customer is a walk-in sale.
type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	TaxID string `json:"tax_id,omitempty"`
}

func (c *Customer) IsEmpty() bool {
	return c == nil || (c.Name == "" && c.Email == "" && c.Phone == "" && c.TaxID == "")
}

type SaleHeader struct {
	Subtotal       float64       `json:"subtotal"`
	TaxAmount      float64       `json:"tax_amount"`
	DiscountAmount float64       `json:"discount_amount"`
	TotalAmount    float64       `json:"total_amount"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	PaymentStatus  string        `json:"payment_status"`
	Notes          string        `json:"notes,omitempty"`
	UserID         int64         `json:"user_id"`
	StoreID        int64         `json:"store_id"`
	// TransactionID makes the commit idempotent: a replay returns the
	// sale already recorded under the same id.
	TransactionID string `json:"transaction_id,omitempty"`
}

type SaleItem struct {
	ProductID      int64   `json:"product_id"`
	Quantity       int     `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	DiscountAmount float64 `json:"discount_amount"`
	ProductName    string  `json:"product_name"`
	ProductSKU     string  `json:"product_sku"`
	ProductBarcode string  `json:"product_barcode"`
}

// CommitSaleRequest is the POST /sales body.
type CommitSaleRequest struct {
	Customer *Customer  `json:"customer"`
	Sale     SaleHeader `json:"sale"`
	Items    []SaleItem `json:"items"`
}

// Sale is a committed sale as returned by POST /sales and GET /sales/{id}.
type Sale struct {
	ID             int64         `json:"id"`
	SaleNumber     string        `json:"sale_number"`
	SaleDate       time.Time     `json:"sale_date"`
	Items          []SaleItem    `json:"items"`
	Subtotal       float64       `json:"subtotal"`
	TaxAmount      float64       `json:"tax_amount"`
	DiscountAmount float64       `json:"discount_amount"`
	TotalAmount    float64       `json:"total_amount"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	PaymentStatus  string        `json:"payment_status"`
	Notes          string        `json:"notes,omitempty"`
	UserID         int64         `json:"user_id"`
	StoreID        int64         `json:"store_id"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	Customer       *Customer     `json:"customer,omitempty"`
}

// SaleCommittedEvent is published on the sales topic after every commit.
type SaleCommittedEvent struct {
	SaleID        int64           `json:"sale_id"`
	SaleNumber    string          `json:"sale_number"`
	StoreID       int64           `json:"store_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Items         []StockMovement `json:"items"`
	CommittedAt   time.Time       `json:"committed_at"`
}

type StockMovement struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// ErrorResponse is the JSON error body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
