package cart

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfStock        = errors.New("out of stock")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found in catalog")
	ErrLineNotFound      = errors.New("product is not in the cart")
	ErrCartFrozen        = errors.New("cart is locked while checkout is in progress")
	ErrInvalidQuantity   = errors.New("invalid quantity")
)

// StockError is returned when a mutation would exceed known stock. It
// unwraps to ErrOutOfStock or ErrInsufficientStock.
type StockError struct {
	ProductID int64
	Name      string
	Requested int
	Available int
	Err       error
}

func (e *StockError) Error() string {
	if errors.Is(e.Err, ErrOutOfStock) {
		return fmt.Sprintf("%s is out of stock", e.Name)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return e.Err
}
