package cart

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/fjod/go_pos/pos-terminal/domain"
	"github.com/fjod/go_pos/pos-terminal/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshotStub struct {
	snap atomic.Pointer[catalog.Snapshot]
}

func newStub(products ...domain.Product) *snapshotStub {
	s := &snapshotStub{}
	s.set(products...)
	return s
}

func (s *snapshotStub) set(products ...domain.Product) {
	s.snap.Store(catalog.NewSnapshot(domain.AllCategoriesFilter, products))
}

func (s *snapshotStub) Snapshot() *catalog.Snapshot {
	return s.snap.Load()
}

var (
	water = domain.Product{ID: 1, Name: "Sparkling Water 500ml", Price: 1.25, Stock: 3, Barcode: "7501000000011", SKU: "BEV-001"}
	soap  = domain.Product{ID: 5, Name: "Dish Soap 750ml", Price: 4.99, Stock: 0}
	choc  = domain.Product{ID: 4, Name: "Dark Chocolate Bar", Price: 2.75, Stock: 5}
)

func TestAddItem_NewLine(t *testing.T) {
	c := New(newStub(water))

	line, err := c.AddItem(water)

	require.NoError(t, err)
	assert.Equal(t, 1, line.Quantity)
	assert.Equal(t, 1.25, line.Price)
	assert.Len(t, c.Lines(), 1)
}

func TestAddItem_RepeatedAddIncrements(t *testing.T) {
	c := New(newStub(water))

	_, _ = c.AddItem(water)
	_, _ = c.AddItem(water)

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestAddItem_OutOfStock(t *testing.T) {
	c := New(newStub(soap))

	_, err := c.AddItem(soap)

	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.True(t, c.IsEmpty())
}

func TestAddItem_InsufficientStockLeavesLineUnchanged(t *testing.T) {
	c := New(newStub(water))
	for i := 0; i < 3; i++ {
		_, err := c.AddItem(water)
		require.NoError(t, err)
	}

	_, err := c.AddItem(water)

	assert.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 3, stockErr.Available)
	assert.Contains(t, err.Error(), "insufficient stock")
	assert.Equal(t, 3, c.Lines()[0].Quantity)
}

func TestAddItem_KeepsPriceSnapshot(t *testing.T) {
	stub := newStub(water)
	c := New(stub)
	_, _ = c.AddItem(water)

	repriced := water
	repriced.Price = 9.99
	stub.set(repriced)
	_, err := c.AddItem(repriced)

	require.NoError(t, err)
	assert.Equal(t, 1.25, c.Lines()[0].Price)
}

func TestAddItem_EquivalentToIncrement(t *testing.T) {
	a := New(newStub(choc))
	b := New(newStub(choc))
	_, _ = a.AddItem(choc)
	_, _ = b.AddItem(choc)

	_, errA := a.AddItem(choc)
	errB := b.UpdateQuantity(choc.ID, 1)

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a.Lines(), b.Lines())
}

func TestInsertionOrderPreserved(t *testing.T) {
	c := New(newStub(water, choc))

	_, _ = c.AddItem(choc)
	_, _ = c.AddItem(water)
	_, _ = c.AddItem(choc)

	lines := c.Lines()
	assert.Equal(t, int64(4), lines[0].ProductID)
	assert.Equal(t, int64(1), lines[1].ProductID)
}

func TestUpdateQuantity_DecrementToZeroRemoves(t *testing.T) {
	c := New(newStub(water))
	_, _ = c.AddItem(water)

	require.NoError(t, c.UpdateQuantity(water.ID, -1))

	assert.True(t, c.IsEmpty())
}

func TestUpdateQuantity_LargeNegativeRemoves(t *testing.T) {
	c := New(newStub(water))
	_, _ = c.AddItem(water)

	require.NoError(t, c.UpdateQuantity(water.ID, -10))

	assert.True(t, c.IsEmpty())
}

func TestUpdateQuantity_RejectsBeyondSnapshotStock(t *testing.T) {
	c := New(newStub(choc))
	_, _ = c.AddItem(choc)

	err := c.UpdateQuantity(choc.ID, 5)

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 1, c.Lines()[0].Quantity)

	require.NoError(t, c.UpdateQuantity(choc.ID, 4))
	assert.Equal(t, 5, c.Lines()[0].Quantity)
}

func TestUpdateQuantity_HugeDeltaIsRejectedNotWrapped(t *testing.T) {
	c := New(newStub(choc))
	_, _ = c.AddItem(choc)
	_, _ = c.AddItem(choc)

	err := c.UpdateQuantity(choc.ID, math.MaxInt)

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, math.MaxInt, stockErr.Requested)
	assert.Equal(t, 5, stockErr.Available)
	require.Len(t, c.Lines(), 1)
	assert.Equal(t, 2, c.Lines()[0].Quantity)
}

func TestUpdateQuantity_MinIntDeltaRemoves(t *testing.T) {
	c := New(newStub(choc))
	_, _ = c.AddItem(choc)
	_, _ = c.AddItem(choc)

	require.NoError(t, c.UpdateQuantity(choc.ID, math.MinInt))

	assert.True(t, c.IsEmpty())
}

func TestUpdateQuantity_UsesRefreshedSnapshot(t *testing.T) {
	stub := newStub(choc)
	c := New(stub)
	_, _ = c.AddItem(choc)

	lower := choc
	lower.Stock = 1
	stub.set(lower)

	err := c.UpdateQuantity(choc.ID, 1)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// decreases are always allowed
	require.NoError(t, c.UpdateQuantity(choc.ID, -1))
}

func TestUpdateQuantity_FallsBackToKnownStock(t *testing.T) {
	stub := newStub(choc)
	c := New(stub)
	_, _ = c.AddItem(choc)
	stub.set(water) // category switched, chocolate no longer listed

	require.NoError(t, c.UpdateQuantity(choc.ID, 4))
	assert.ErrorIs(t, c.UpdateQuantity(choc.ID, 1), ErrInsufficientStock)
}

func TestUpdateQuantity_UnknownLine(t *testing.T) {
	c := New(newStub(water))

	assert.ErrorIs(t, c.UpdateQuantity(99, 1), ErrLineNotFound)
}

func TestSetQuantity(t *testing.T) {
	c := New(newStub(choc))
	_, _ = c.AddItem(choc)

	require.NoError(t, c.SetQuantity(choc.ID, 4))
	assert.Equal(t, 4, c.Lines()[0].Quantity)

	assert.ErrorIs(t, c.SetQuantity(choc.ID, 6), ErrInsufficientStock)
	assert.ErrorIs(t, c.SetQuantity(choc.ID, -1), ErrInvalidQuantity)

	require.NoError(t, c.SetQuantity(choc.ID, 0))
	assert.True(t, c.IsEmpty())
}

func TestQuantityNeverExceedsSnapshotStock(t *testing.T) {
	c := New(newStub(water, choc))
	ops := []func(){
		func() { _, _ = c.AddItem(water) },
		func() { _ = c.UpdateQuantity(water.ID, 2) },
		func() { _, _ = c.AddItem(choc) },
		func() { _ = c.UpdateQuantity(choc.ID, 7) },
		func() { _, _ = c.AddItem(water) },
		func() { _ = c.UpdateQuantity(choc.ID, 4) },
		func() { _, _ = c.AddItem(choc) },
	}
	for _, op := range ops {
		op()
		for _, l := range c.Lines() {
			stock, _ := c.catalog.Snapshot().Stock(l.ProductID)
			assert.LessOrEqual(t, l.Quantity, stock)
			assert.GreaterOrEqual(t, l.Quantity, 1)
		}
	}
}

func TestRemoveItemAndClear(t *testing.T) {
	c := New(newStub(water, choc))
	_, _ = c.AddItem(water)
	_, _ = c.AddItem(choc)

	require.NoError(t, c.RemoveItem(water.ID))
	require.NoError(t, c.RemoveItem(water.ID))
	assert.Len(t, c.Lines(), 1)

	require.NoError(t, c.Clear())
	assert.True(t, c.IsEmpty())
}

func TestAddBarcodeAndProductID(t *testing.T) {
	c := New(newStub(water, choc))

	line, err := c.AddBarcode("7501000000011")
	require.NoError(t, err)
	assert.Equal(t, water.ID, line.ProductID)

	line, err = c.AddBarcode("BEV-001")
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)

	_, err = c.AddProductID(choc.ID)
	require.NoError(t, err)

	_, err = c.AddBarcode("0000")
	assert.ErrorIs(t, err, ErrProductNotFound)
	_, err = c.AddProductID(42)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestFrozenCartRejectsMutations(t *testing.T) {
	c := New(newStub(water))
	_, _ = c.AddItem(water)
	c.Freeze()

	_, err := c.AddItem(water)
	assert.ErrorIs(t, err, ErrCartFrozen)
	assert.ErrorIs(t, c.UpdateQuantity(water.ID, 1), ErrCartFrozen)
	assert.ErrorIs(t, c.RemoveItem(water.ID), ErrCartFrozen)
	assert.ErrorIs(t, c.Clear(), ErrCartFrozen)

	c.Unfreeze()
	assert.NoError(t, c.Clear())
}

func TestSubscribe_ReceivesCopies(t *testing.T) {
	c := New(newStub(water))
	var seen [][]domain.CartLine
	c.Subscribe(func(lines []domain.CartLine) { seen = append(seen, lines) })

	_, _ = c.AddItem(water)
	_ = c.UpdateQuantity(water.ID, 1)
	_ = c.Clear()

	require.Len(t, seen, 3)
	assert.Equal(t, 1, seen[0][0].Quantity)
	assert.Equal(t, 2, seen[1][0].Quantity)
	assert.Empty(t, seen[2])

	seen[1][0].Quantity = 99
	assert.Empty(t, c.Lines())
}

func TestLinesReturnsCopy(t *testing.T) {
	c := New(newStub(water))
	_, _ = c.AddItem(water)

	lines := c.Lines()
	lines[0].Quantity = 50

	assert.Equal(t, 1, c.Lines()[0].Quantity)
}

func TestSyncStock(t *testing.T) {
	stub := newStub(choc)
	c := New(stub)
	_, _ = c.AddItem(choc)

	lower := choc
	lower.Stock = 2
	c.SyncStock(catalog.NewSnapshot("2", []domain.Product{lower}))
	stub.set(water)

	require.NoError(t, c.UpdateQuantity(choc.ID, 1))
	assert.ErrorIs(t, c.UpdateQuantity(choc.ID, 1), ErrInsufficientStock)
}

func TestUnfreezeAndClear(t *testing.T) {
	c := New(newStub(water))
	_, _ = c.AddItem(water)
	c.Freeze()

	c.UnfreezeAndClear()

	assert.True(t, c.IsEmpty())
	_, err := c.AddItem(water)
	assert.NoError(t, err)
}
