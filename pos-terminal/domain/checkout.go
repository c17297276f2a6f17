package domain

import (
	"time"

	sales "github.com/fjod/go_pos/sales-service/domain"
)

type (
	PaymentMethod = sales.PaymentMethod
	CustomerInfo  = sales.Customer
)

const (
	PaymentCash     = sales.PaymentCash
	PaymentCard     = sales.PaymentCard
	PaymentTransfer = sales.PaymentTransfer
)

// SessionContext identifies who rings up the sale and where.
type SessionContext struct {
	UserID  int64 `json:"user_id"`
	StoreID int64 `json:"store_id"`
}

type CheckoutState string

const (
	StateIdle           CheckoutState = "idle"
	StateCollectingInfo CheckoutState = "collecting_info"
	StateValidating     CheckoutState = "validating"
	StateSubmitting     CheckoutState = "submitting"
	StateCommitted      CheckoutState = "committed"
	StateFailed         CheckoutState = "failed"
)

func (s CheckoutState) String() string {
	return string(s)
}

// Busy reports whether a commit is in progress; cart edits and cancel are
// refused while busy.
func (s CheckoutState) Busy() bool {
	return s == StateValidating || s == StateSubmitting
}

var transitions = map[CheckoutState][]CheckoutState{
	StateIdle:           {StateCollectingInfo},
	StateCollectingInfo: {StateValidating, StateIdle},
	StateValidating:     {StateSubmitting, StateFailed},
	StateSubmitting:     {StateCommitted, StateFailed},
	StateCommitted:      {StateIdle, StateCollectingInfo},
	StateFailed:         {StateCollectingInfo, StateIdle},
}

func CanTransitionTo(from, to CheckoutState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transaction is the commit record built once validation passes. Holders
// receive copies; the lines slice is never shared with the cart.
type Transaction struct {
	ID            string         `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	Session       SessionContext `json:"session"`
	Lines         []CartLine     `json:"lines"`
	Discount      DiscountSpec   `json:"discount"`
	TaxRate       float64        `json:"tax_rate"`
	Totals        Totals         `json:"totals"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	Tendered      float64        `json:"tendered,omitempty"`
	Change        float64        `json:"change,omitempty"`
	Customer      *CustomerInfo  `json:"customer,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

func (t Transaction) Clone() Transaction {
	t.Lines = CloneLines(t.Lines)
	if t.Customer != nil {
		c := *t.Customer
		t.Customer = &c
	}
	return t
}

// CommittedSale pairs a transaction with the identifiers the sales service
// assigned to it.
type CommittedSale struct {
	Transaction Transaction `json:"transaction"`
	SaleID      int64       `json:"sale_id"`
	SaleNumber  string      `json:"sale_number"`
	SaleDate    time.Time   `json:"sale_date"`
}
