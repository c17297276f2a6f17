// Package cart holds the in-progress sale: an insertion-ordered list of
// lines, at most one per product, never exceeding the stock the catalog
// snapshot reported at the moment of each change.
package cart

import (
	"math"
	"sync"

	"github.com/fjod/go_pos/pos-terminal/domain"
	"github.com/fjod/go_pos/pos-terminal/internal/catalog"
)

type SnapshotSource interface {
	Snapshot() *catalog.Snapshot
}

type Cart struct {
	catalog SnapshotSource

	mu        sync.Mutex
	lines     []domain.CartLine
	frozen    bool
	observers []func([]domain.CartLine)
}

func New(source SnapshotSource) *Cart {
	return &Cart{catalog: source}
}

// Subscribe registers fn to receive the lines after every mutation.
func (c *Cart) Subscribe(fn func([]domain.CartLine)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// AddItem adds one unit of p, checked against p's own stock.
func (c *Cart) AddItem(p domain.Product) (domain.CartLine, error) {
	c.mu.Lock()
	if c.frozen {
		c.mu.Unlock()
		return domain.CartLine{}, ErrCartFrozen
	}
	if p.Stock <= 0 {
		c.mu.Unlock()
		return domain.CartLine{}, &StockError{ProductID: p.ID, Name: p.Name, Requested: 1, Available: 0, Err: ErrOutOfStock}
	}

	var line domain.CartLine
	if i := c.indexOf(p.ID); i >= 0 {
		next := c.lines[i].Quantity + 1
		if next > p.Stock {
			c.mu.Unlock()
			return domain.CartLine{}, &StockError{ProductID: p.ID, Name: p.Name, Requested: next, Available: p.Stock, Err: ErrInsufficientStock}
		}
		c.lines[i].Quantity = next
		c.lines[i].KnownStock = p.Stock
		line = c.lines[i]
	} else {
		line = domain.CartLine{
			ProductID:  p.ID,
			Name:       p.Name,
			Price:      p.Price,
			CostPrice:  p.CostPrice,
			SKU:        p.SKU,
			Barcode:    p.Barcode,
			Quantity:   1,
			KnownStock: p.Stock,
		}
		c.lines = append(c.lines, line)
	}
	c.notifyLocked()
	return line, nil
}

// AddProductID resolves id against the current snapshot, then adds it.
func (c *Cart) AddProductID(id int64) (domain.CartLine, error) {
	p, ok := c.catalog.Snapshot().Product(id)
	if !ok {
		return domain.CartLine{}, ErrProductNotFound
	}
	return c.AddItem(p)
}

// AddBarcode resolves a scanned barcode or SKU, then adds it.
func (c *Cart) AddBarcode(code string) (domain.CartLine, error) {
	p, ok := c.catalog.Snapshot().ByCode(code)
	if !ok {
		return domain.CartLine{}, ErrProductNotFound
	}
	return c.AddItem(p)
}

// UpdateQuantity changes a line by delta. A result of zero or less removes
// the line; an increase past snapshot stock is rejected unchanged.
func (c *Cart) UpdateQuantity(productID int64, delta int) error {
	c.mu.Lock()
	if c.frozen {
		c.mu.Unlock()
		return ErrCartFrozen
	}
	i := c.indexOf(productID)
	if i < 0 {
		c.mu.Unlock()
		return ErrLineNotFound
	}
	if delta == 0 {
		c.mu.Unlock()
		return nil
	}

	current := c.lines[i].Quantity
	if delta < 0 {
		if delta <= -current {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			c.notifyLocked()
			return nil
		}
		c.lines[i].Quantity = current + delta
		c.notifyLocked()
		return nil
	}

	// compared before adding so a huge delta cannot wrap around
	available := c.stockLocked(c.lines[i])
	if delta > available-current {
		line := c.lines[i]
		c.mu.Unlock()
		err := ErrInsufficientStock
		if available <= 0 {
			err = ErrOutOfStock
		}
		requested := math.MaxInt
		if delta <= math.MaxInt-current {
			requested = current + delta
		}
		return &StockError{ProductID: line.ProductID, Name: line.Name, Requested: requested, Available: available, Err: err}
	}
	c.lines[i].KnownStock = available
	c.lines[i].Quantity = current + delta
	c.notifyLocked()
	return nil
}

// SetQuantity sets an absolute quantity through UpdateQuantity.
func (c *Cart) SetQuantity(productID int64, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	c.mu.Lock()
	i := c.indexOf(productID)
	current := 0
	if i >= 0 {
		current = c.lines[i].Quantity
	}
	c.mu.Unlock()
	if i < 0 {
		return ErrLineNotFound
	}
	return c.UpdateQuantity(productID, quantity-current)
}

// RemoveItem drops the product's line if present.
func (c *Cart) RemoveItem(productID int64) error {
	c.mu.Lock()
	if c.frozen {
		c.mu.Unlock()
		return ErrCartFrozen
	}
	if i := c.indexOf(productID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		c.notifyLocked()
		return nil
	}
	c.mu.Unlock()
	return nil
}

func (c *Cart) Clear() error {
	c.mu.Lock()
	if c.frozen {
		c.mu.Unlock()
		return ErrCartFrozen
	}
	c.lines = nil
	c.notifyLocked()
	return nil
}

// Lines returns a copy in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CloneLines(c.lines)
}

func (c *Cart) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines) == 0
}

// Freeze blocks every mutation until Unfreeze.
func (c *Cart) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

func (c *Cart) Unfreeze() {
	c.mu.Lock()
	c.frozen = false
	c.mu.Unlock()
}

// UnfreezeAndClear empties a frozen cart and releases it in one step, so
// no mutation can land between the two.
func (c *Cart) UnfreezeAndClear() {
	c.mu.Lock()
	c.frozen = false
	c.lines = nil
	c.notifyLocked()
}

// SyncStock records the stock of every line present in snap, so lines
// whose product leaves the active category keep a recent bound.
func (c *Cart) SyncStock(snap *catalog.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if stock, ok := snap.Stock(c.lines[i].ProductID); ok {
			c.lines[i].KnownStock = stock
		}
	}
}

func (c *Cart) indexOf(productID int64) int {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) stockLocked(line domain.CartLine) int {
	if stock, ok := c.catalog.Snapshot().Stock(line.ProductID); ok {
		return stock
	}
	return line.KnownStock
}

// notifyLocked releases c.mu before calling observers.
func (c *Cart) notifyLocked() {
	lines := domain.CloneLines(c.lines)
	observers := append([]func([]domain.CartLine){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(lines)
	}
}
