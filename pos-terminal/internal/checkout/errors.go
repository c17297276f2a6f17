package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCart          = errors.New("cart is empty, nothing to checkout")
	ErrIllegalTransition  = errors.New("illegal transition of checkout state")
	ErrNotCollecting      = errors.New("checkout is not collecting sale details")
	ErrSubmitInProgress   = errors.New("sale submission already in progress")
	ErrCancelNotAllowed   = errors.New("cannot cancel while the sale is being submitted")
	ErrInvalidPayment     = errors.New("invalid payment method")
	ErrInsufficientTender = errors.New("insufficient cash")
	ErrStockValidation    = errors.New("insufficient stock")
)

// InsufficientTenderError blocks the move to validation. The checkout stays
// in collecting info.
type InsufficientTenderError struct {
	Total     float64
	Tendered  float64
	Shortfall float64
}

func (e *InsufficientTenderError) Error() string {
	return fmt.Sprintf("insufficient cash: total %.2f, tendered %.2f, short %.2f", e.Total, e.Tendered, e.Shortfall)
}

func (e *InsufficientTenderError) Is(target error) bool {
	return target == ErrInsufficientTender
}

type Shortage struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockValidationError lists every line the local snapshot cannot cover.
type StockValidationError struct {
	Shortages []Shortage
}

func (e *StockValidationError) Error() string {
	parts := make([]string, len(e.Shortages))
	for i, s := range e.Shortages {
		parts[i] = fmt.Sprintf("insufficient stock for %s (requested %d, available %d)", s.Name, s.Requested, s.Available)
	}
	return strings.Join(parts, "; ")
}

func (e *StockValidationError) Is(target error) bool {
	return target == ErrStockValidation
}

type FailureKind string

const (
	FailureStockValidation FailureKind = "stock_validation"
	FailureStaleStock      FailureKind = "stale_stock"
	FailureTimeout         FailureKind = "timeout"
	FailureGateway         FailureKind = "gateway_failure"
)

// CommitError wraps a gateway failure with its classification.
type CommitError struct {
	Kind FailureKind
	Err  error
}

func (e *CommitError) Error() string {
	switch e.Kind {
	case FailureStaleStock:
		return "sale rejected, insufficient stock: " + e.Err.Error()
	case FailureTimeout:
		return "sale submission timed out, it is safe to retry: " + e.Err.Error()
	default:
		return "sale submission failed: " + e.Err.Error()
	}
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
