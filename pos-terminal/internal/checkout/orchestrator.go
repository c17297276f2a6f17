// Package checkout drives a cart to a committed sale.
//
// The orchestrator owns the checkout state machine. Only one submission may
// be in flight at a time; a second Submit while one is running returns
// ErrSubmitInProgress without touching the gateway.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/go_pos/pkg/logger"
	"github.com/fjod/go_pos/pos-terminal/domain"
	"github.com/fjod/go_pos/pos-terminal/internal/catalog"
	"github.com/fjod/go_pos/pos-terminal/internal/gateway"
	"github.com/fjod/go_pos/pos-terminal/internal/pricing"
	"github.com/fjod/go_pos/pos-terminal/internal/receipt"
	sales "github.com/fjod/go_pos/sales-service/domain"
)

const (
	DefaultGatewayTimeout = 10 * time.Second
	receiptTimeout        = 10 * time.Second
)

type Gateway interface {
	CommitSale(ctx context.Context, req *sales.CommitSaleRequest) (*sales.Sale, error)
}

type Catalog interface {
	Snapshot() *catalog.Snapshot
	RefreshAsync()
}

type Cart interface {
	Lines() []domain.CartLine
	IsEmpty() bool
	Clear() error
	Freeze()
	Unfreeze()
	UnfreezeAndClear()
}

type Config struct {
	TaxRate        float64
	GatewayTimeout time.Duration
	// TerminalID prefixes every transaction id so sale events can be traced
	// back to the terminal that rang them up.
	TerminalID string
	Session    domain.SessionContext
}

// Status is a point-in-time view of the checkout for a presentation layer.
type Status struct {
	State         domain.CheckoutState  `json:"state"`
	Lines         []domain.CartLine     `json:"lines"`
	Totals        domain.Totals         `json:"totals"`
	Customer      *domain.CustomerInfo  `json:"customer,omitempty"`
	Discount      domain.DiscountSpec   `json:"discount"`
	PaymentMethod domain.PaymentMethod  `json:"payment_method"`
	Tendered      float64               `json:"tendered"`
	Change        float64               `json:"change"`
	Shortfall     float64               `json:"shortfall"`
	Notes         string                `json:"notes,omitempty"`
	Failure       string                `json:"failure,omitempty"`
	FailureKind   FailureKind           `json:"failure_kind,omitempty"`
	Retryable     bool                  `json:"retryable"`
	Shortages     []Shortage            `json:"shortages,omitempty"`
	CanCancel     bool                  `json:"can_cancel"`
	LastSale      *domain.CommittedSale `json:"last_sale,omitempty"`
	Session       domain.SessionContext `json:"session"`
}

type Orchestrator struct {
	gateway Gateway
	catalog Catalog
	cart    Cart
	receipt receipt.Sink
	cfg     Config
	log     *slog.Logger

	now   func() time.Time
	newID func() string

	mu        sync.Mutex
	state     domain.CheckoutState
	inFlight  bool
	session   domain.SessionContext
	customer  *domain.CustomerInfo
	discount  domain.DiscountSpec
	method    domain.PaymentMethod
	tendered  float64
	notes     string
	failure   *failure
	lastSale  *domain.CommittedSale
	observers []func(Status)

	wg sync.WaitGroup
}

type failure struct {
	kind      FailureKind
	message   string
	retryable bool
	shortages []Shortage
}

// New builds an orchestrator in the idle state. sink may be nil.
func New(gw Gateway, cat Catalog, cart Cart, sink receipt.Sink, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	o := &Orchestrator{
		gateway: gw,
		catalog: cat,
		cart:    cart,
		receipt: sink,
		cfg:     cfg,
		log:     logger.OrDefault(log).With("component", "checkout"),
		now:     time.Now,
		state:   domain.StateIdle,
		session: cfg.Session,
		method:  domain.PaymentCash,
	}
	o.newID = o.transactionID
	return o
}

func (o *Orchestrator) transactionID() string {
	if o.cfg.TerminalID == "" {
		return uuid.NewString()
	}
	return o.cfg.TerminalID + "-" + uuid.NewString()
}

func (o *Orchestrator) Subscribe(fn func(Status)) {
	o.mu.Lock()
	o.observers = append(o.observers, fn)
	o.mu.Unlock()
}

func (o *Orchestrator) State() domain.CheckoutState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status reads the cart before taking the orchestrator lock; the cart lock
// is never acquired while holding ours.
func (o *Orchestrator) Status() Status {
	lines := o.cart.Lines()

	o.mu.Lock()
	defer o.mu.Unlock()

	totals := pricing.RoundTotals(pricing.Calculate(lines, o.discount, o.cfg.TaxRate))
	st := Status{
		State:         o.state,
		Lines:         lines,
		Totals:        totals,
		Customer:      cloneCustomer(o.customer),
		Discount:      o.discount,
		PaymentMethod: o.method,
		Notes:         o.notes,
		CanCancel:     o.state != domain.StateIdle && !o.state.Busy() && !o.inFlight,
		Session:       o.session,
	}
	if o.method == domain.PaymentCash {
		st.Tendered = o.tendered
		st.Change, st.Shortfall = pricing.Tender(totals.Total, o.tendered)
	}
	if o.failure != nil {
		st.Failure = o.failure.message
		st.FailureKind = o.failure.kind
		st.Retryable = o.failure.retryable
		st.Shortages = append([]Shortage(nil), o.failure.shortages...)
	}
	if o.lastSale != nil {
		sale := *o.lastSale
		sale.Transaction = sale.Transaction.Clone()
		st.LastSale = &sale
	}
	return st
}

// Open moves to collecting info. An empty cart leaves the checkout idle.
func (o *Orchestrator) Open() error {
	if o.cart.IsEmpty() {
		return ErrEmptyCart
	}

	o.mu.Lock()
	switch o.state {
	case domain.StateCollectingInfo:
		o.mu.Unlock()
		return nil
	case domain.StateIdle, domain.StateCommitted:
		o.state = domain.StateCollectingInfo
		o.failure = nil
	default:
		state := o.state
		o.mu.Unlock()
		o.log.Debug("checkout open refused", "state", state)
		return ErrIllegalTransition
	}
	o.mu.Unlock()

	o.notify()
	return nil
}

func (o *Orchestrator) SetSession(session domain.SessionContext) error {
	return o.edit(true, func() error {
		o.session = session
		return nil
	})
}

// SetCustomer attaches customer details. An empty customer is a walk-in sale.
func (o *Orchestrator) SetCustomer(c *domain.CustomerInfo) error {
	return o.edit(false, func() error {
		if c.IsEmpty() {
			o.customer = nil
		} else {
			o.customer = cloneCustomer(c)
		}
		return nil
	})
}

func (o *Orchestrator) SetDiscount(spec domain.DiscountSpec) error {
	if err := pricing.ValidateDiscount(spec); err != nil {
		return err
	}
	return o.edit(false, func() error {
		o.discount = spec
		return nil
	})
}

// SetPayment selects the payment method. tendered is the raw cash amount as
// typed; it is ignored for card and transfer.
func (o *Orchestrator) SetPayment(method domain.PaymentMethod, tendered string) error {
	if !method.Valid() {
		return ErrInvalidPayment
	}
	var amount float64
	if method == domain.PaymentCash && tendered != "" {
		v, err := pricing.ParseAmount(tendered)
		if err != nil {
			return err
		}
		amount = v
	}
	return o.edit(false, func() error {
		o.method = method
		o.tendered = amount
		return nil
	})
}

func (o *Orchestrator) SetNotes(notes string) error {
	return o.edit(false, func() error {
		o.notes = notes
		return nil
	})
}

// FormUpdate changes several checkout fields at once. Nil fields are left
// as they are.
type FormUpdate struct {
	Session       *domain.SessionContext
	Customer      *domain.CustomerInfo
	Discount      *domain.DiscountSpec
	PaymentMethod *domain.PaymentMethod
	// Tendered applies to PaymentMethod when given, else to the current
	// method. Ignored unless that method is cash.
	Tendered *string
	Notes    *string
}

func (u FormUpdate) sessionOnly() bool {
	return u.Customer == nil && u.Discount == nil && u.PaymentMethod == nil && u.Tendered == nil && u.Notes == nil
}

// UpdateForm validates every field before applying any of them; on error
// the form is unchanged.
func (o *Orchestrator) UpdateForm(u FormUpdate) error {
	if u.Discount != nil {
		if err := pricing.ValidateDiscount(*u.Discount); err != nil {
			return err
		}
	}
	if u.PaymentMethod != nil && !u.PaymentMethod.Valid() {
		return ErrInvalidPayment
	}

	return o.edit(u.sessionOnly(), func() error {
		method, tendered := o.method, o.tendered
		if u.PaymentMethod != nil {
			method, tendered = *u.PaymentMethod, 0
		}
		if u.Tendered != nil {
			tendered = 0
			if method == domain.PaymentCash && *u.Tendered != "" {
				v, err := pricing.ParseAmount(*u.Tendered)
				if err != nil {
					return err
				}
				tendered = v
			}
		}
		if method != domain.PaymentCash {
			tendered = 0
		}

		if u.Session != nil {
			o.session = *u.Session
		}
		if u.Customer != nil {
			if u.Customer.IsEmpty() {
				o.customer = nil
			} else {
				o.customer = cloneCustomer(u.Customer)
			}
		}
		if u.Discount != nil {
			o.discount = *u.Discount
		}
		o.method, o.tendered = method, tendered
		if u.Notes != nil {
			o.notes = *u.Notes
		}
		return nil
	})
}

// edit applies fn while collecting info. anyState lifts that restriction for
// settings that outlive a single checkout; submissions still block it.
func (o *Orchestrator) edit(anyState bool, fn func() error) error {
	o.mu.Lock()
	if o.inFlight || o.state.Busy() {
		o.mu.Unlock()
		return ErrSubmitInProgress
	}
	if !anyState && o.state != domain.StateCollectingInfo {
		o.mu.Unlock()
		return ErrNotCollecting
	}
	if err := fn(); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	o.notify()
	return nil
}

// Submit validates the cart against the catalog snapshot and commits the
// sale through the gateway. The gateway call is detached from ctx
// cancellation and bounded by the configured timeout instead, so a caller
// going away cannot orphan a submission.
func (o *Orchestrator) Submit(ctx context.Context) (*domain.CommittedSale, error) {
	o.mu.Lock()
	if o.inFlight || o.state.Busy() {
		o.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	if o.state != domain.StateCollectingInfo {
		o.mu.Unlock()
		return nil, ErrIllegalTransition
	}
	o.inFlight = true
	form := o.formLocked()
	o.mu.Unlock()

	o.cart.Freeze()
	lines := o.cart.Lines()
	if len(lines) == 0 {
		o.release()
		return nil, ErrEmptyCart
	}

	totals := pricing.RoundTotals(pricing.Calculate(lines, form.Discount, o.cfg.TaxRate))
	var change float64
	if form.PaymentMethod == domain.PaymentCash {
		var shortfall float64
		change, shortfall = pricing.Tender(totals.Total, form.Tendered)
		if shortfall > 0 {
			o.release()
			o.notify()
			return nil, &InsufficientTenderError{Total: totals.Total, Tendered: form.Tendered, Shortfall: shortfall}
		}
	}

	o.transition(domain.StateValidating)
	if shortages := o.checkStock(lines); len(shortages) > 0 {
		err := &StockValidationError{Shortages: shortages}
		o.fail(&failure{kind: FailureStockValidation, message: err.Error(), shortages: shortages})
		return nil, err
	}

	tx := form
	tx.ID = o.newID()
	tx.CreatedAt = o.now()
	tx.Lines = lines
	tx.TaxRate = o.cfg.TaxRate
	tx.Totals = totals
	if tx.PaymentMethod == domain.PaymentCash {
		tx.Change = change
	} else {
		tx.Tendered = 0
	}
	o.transition(domain.StateSubmitting)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.GatewayTimeout)
	defer cancel()

	start := o.now()
	sale, err := o.gateway.CommitSale(callCtx, toRequest(tx))
	if err != nil {
		cerr := classify(err)
		o.log.WarnContext(ctx, "sale commit failed",
			"transaction_id", tx.ID, "kind", cerr.Kind, "error", err, "duration", o.now().Sub(start))
		o.fail(&failure{kind: cerr.Kind, message: cerr.Error(), retryable: cerr.Kind != FailureStaleStock})
		return nil, cerr
	}

	committed := domain.CommittedSale{
		Transaction: tx,
		SaleID:      sale.ID,
		SaleNumber:  sale.SaleNumber,
		SaleDate:    sale.SaleDate,
	}
	o.mu.Lock()
	o.state = domain.StateCommitted
	o.inFlight = false
	o.failure = nil
	o.resetFormLocked()
	last := committed
	o.lastSale = &last
	o.mu.Unlock()

	o.cart.UnfreezeAndClear()
	o.catalog.RefreshAsync()
	o.emitReceipt(committed)
	o.log.InfoContext(ctx, "sale committed",
		"transaction_id", tx.ID, "sale_id", sale.ID, "sale_number", sale.SaleNumber,
		"total", tx.Totals.Total, "payment_method", tx.PaymentMethod)
	o.notify()

	result := committed
	result.Transaction = committed.Transaction.Clone()
	return &result, nil
}

// Retry returns a failed checkout to collecting info and refreshes the
// snapshot so the user sees current stock.
func (o *Orchestrator) Retry() error {
	o.mu.Lock()
	if o.state != domain.StateFailed {
		o.mu.Unlock()
		return ErrIllegalTransition
	}
	o.state = domain.StateCollectingInfo
	o.failure = nil
	o.mu.Unlock()

	o.catalog.RefreshAsync()
	o.notify()
	return nil
}

// Cancel returns to idle and drops the customer, discount and payment.
// The cart is left as is.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	if o.inFlight || o.state.Busy() {
		o.mu.Unlock()
		return ErrCancelNotAllowed
	}
	prev := o.state
	if prev == domain.StateIdle {
		o.mu.Unlock()
		return nil
	}
	o.state = domain.StateIdle
	o.failure = nil
	o.resetFormLocked()
	o.mu.Unlock()

	if prev == domain.StateFailed {
		o.catalog.RefreshAsync()
	}
	o.notify()
	return nil
}

// VoidSale cancels the checkout and empties the cart.
func (o *Orchestrator) VoidSale() error {
	if err := o.Cancel(); err != nil {
		return err
	}
	if err := o.cart.Clear(); err != nil {
		return err
	}
	o.log.Info("sale voided")
	o.notify()
	return nil
}

// Close waits for pending receipt emissions.
func (o *Orchestrator) Close() {
	o.wg.Wait()
}

func (o *Orchestrator) formLocked() domain.Transaction {
	return domain.Transaction{
		Session:       o.session,
		Discount:      o.discount,
		PaymentMethod: o.method,
		Tendered:      o.tendered,
		Customer:      cloneCustomer(o.customer),
		Notes:         o.notes,
	}
}

func (o *Orchestrator) resetFormLocked() {
	o.customer = nil
	o.discount = domain.NoDiscount()
	o.method = domain.PaymentCash
	o.tendered = 0
	o.notes = ""
}

func (o *Orchestrator) transition(to domain.CheckoutState) {
	o.mu.Lock()
	from := o.state
	if !domain.CanTransitionTo(from, to) {
		// Submit owns every busy transition, so this is a programming error.
		o.log.Error("unexpected checkout transition", "from", from, "to", to)
	}
	o.state = to
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
	o.cart.Unfreeze()
}

func (o *Orchestrator) fail(f *failure) {
	o.mu.Lock()
	o.state = domain.StateFailed
	o.failure = f
	o.inFlight = false
	o.mu.Unlock()

	o.cart.Unfreeze()
	o.notify()
}

// checkStock compares every line with the snapshot. Lines whose product
// left the snapshot fall back to the stock last seen for them.
func (o *Orchestrator) checkStock(lines []domain.CartLine) []Shortage {
	snap := o.catalog.Snapshot()
	var shortages []Shortage
	for _, l := range lines {
		available := l.KnownStock
		if snap != nil {
			if stock, ok := snap.Stock(l.ProductID); ok {
				available = stock
			}
		}
		if available < l.Quantity {
			shortages = append(shortages, Shortage{
				ProductID: l.ProductID,
				Name:      l.Name,
				Requested: l.Quantity,
				Available: available,
			})
		}
	}
	return shortages
}

func (o *Orchestrator) emitReceipt(sale domain.CommittedSale) {
	if o.receipt == nil {
		return
	}
	sale.Transaction = sale.Transaction.Clone()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), receiptTimeout)
		defer cancel()
		if err := o.receipt.Emit(ctx, sale); err != nil {
			o.log.Error("receipt emission failed", "sale_number", sale.SaleNumber, "error", err)
		}
	}()
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	observers := append(([]func(Status))(nil), o.observers...)
	o.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	st := o.Status()
	for _, fn := range observers {
		fn(st)
	}
}

func classify(err error) *CommitError {
	switch {
	case errors.Is(err, gateway.ErrInsufficientStock):
		return &CommitError{Kind: FailureStaleStock, Err: err}
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &CommitError{Kind: FailureTimeout, Err: err}
	default:
		return &CommitError{Kind: FailureGateway, Err: err}
	}
}

func toRequest(tx domain.Transaction) *sales.CommitSaleRequest {
	items := make([]sales.SaleItem, len(tx.Lines))
	for i, l := range tx.Lines {
		items[i] = sales.SaleItem{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPrice:      l.Price,
			ProductName:    l.Name,
			ProductSKU:     l.SKU,
			ProductBarcode: l.Barcode,
		}
	}
	return &sales.CommitSaleRequest{
		Customer: cloneCustomer(tx.Customer),
		Sale: sales.SaleHeader{
			Subtotal:       tx.Totals.Subtotal,
			TaxAmount:      tx.Totals.Tax,
			DiscountAmount: tx.Totals.DiscountAmount,
			TotalAmount:    tx.Totals.Total,
			PaymentMethod:  tx.PaymentMethod,
			PaymentStatus:  sales.PaymentStatusPaid,
			Notes:          tx.Notes,
			UserID:         tx.Session.UserID,
			StoreID:        tx.Session.StoreID,
			TransactionID:  tx.ID,
		},
		Items: items,
	}
}

func cloneCustomer(c *domain.CustomerInfo) *domain.CustomerInfo {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
