package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_pos/pkg/logger"
	"github.com/fjod/go_pos/pos-terminal/domain"
	"github.com/fjod/go_pos/pos-terminal/internal/cart"
	"github.com/fjod/go_pos/pos-terminal/internal/catalog"
	"github.com/fjod/go_pos/pos-terminal/internal/checkout"
	"github.com/fjod/go_pos/pos-terminal/internal/pricing"
	"github.com/fjod/go_pos/pos-terminal/internal/receipt"
	sales "github.com/fjod/go_pos/sales-service/domain"
)

const maxRequestBodySize = 1 << 20

type Catalog interface {
	Snapshot() *catalog.Snapshot
	Category() string
	Warning() string
	SetCategory(ctx context.Context, category string) error
}

type CategorySource interface {
	FetchCategories(ctx context.Context) ([]domain.Category, error)
}

type Cart interface {
	Lines() []domain.CartLine
	AddProductID(id int64) (domain.CartLine, error)
	AddBarcode(code string) (domain.CartLine, error)
	UpdateQuantity(productID int64, delta int) error
	SetQuantity(productID int64, quantity int) error
	RemoveItem(productID int64) error
}

type Checkout interface {
	Status() checkout.Status
	Open() error
	UpdateForm(u checkout.FormUpdate) error
	Submit(ctx context.Context) (*domain.CommittedSale, error)
	Retry() error
	Cancel() error
	VoidSale() error
}

type ReceiptArchive interface {
	BySaleNumber(ctx context.Context, saleNumber string) (*receipt.Document, error)
}

type TerminalHandler struct {
	catalog       Catalog
	categories    CategorySource
	cart          Cart
	checkout      Checkout
	archive       ReceiptArchive
	receiptHeader string
	timeout       time.Duration
	log           *slog.Logger
}

type Options struct {
	// Archive is optional; without it receipt lookups answer 404.
	Archive       ReceiptArchive
	ReceiptHeader string
	Timeout       time.Duration
}

func NewTerminalHandler(cat Catalog, categories CategorySource, c Cart, co Checkout, opts Options, log *slog.Logger) *TerminalHandler {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &TerminalHandler{
		catalog:       cat,
		categories:    categories,
		cart:          c,
		checkout:      co,
		archive:       opts.Archive,
		receiptHeader: opts.ReceiptHeader,
		timeout:       opts.Timeout,
		log:           logger.OrDefault(log),
	}
}

type ProductsResponse struct {
	Category  string               `json:"category"`
	FetchedAt time.Time            `json:"fetched_at"`
	Warning   string               `json:"warning,omitempty"`
	Items     []domain.CatalogItem `json:"items"`
}

type CartResponse struct {
	Lines  []domain.CartLine `json:"lines"`
	Totals domain.Totals     `json:"totals"`
}

type AddItemRequest struct {
	ProductID int64  `json:"product_id,omitempty"`
	Barcode   string `json:"barcode,omitempty"`
}

// UpdateItemRequest carries either a relative delta or an absolute quantity.
type UpdateItemRequest struct {
	Delta    *int `json:"delta,omitempty"`
	Quantity *int `json:"quantity,omitempty"`
}

type CategoryRequest struct {
	Category string `json:"category"`
}

// FormRequest updates only the fields that are present.
type FormRequest struct {
	Customer      *domain.CustomerInfo   `json:"customer,omitempty"`
	Discount      *domain.DiscountSpec   `json:"discount,omitempty"`
	PaymentMethod *domain.PaymentMethod  `json:"payment_method,omitempty"`
	Tendered      *string                `json:"tendered,omitempty"`
	Notes         *string                `json:"notes,omitempty"`
	Session       *domain.SessionContext `json:"session,omitempty"`
}

func (h *TerminalHandler) GetProducts(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()
	respondJSON(w, http.StatusOK, ProductsResponse{
		Category:  snap.Category,
		FetchedAt: snap.FetchedAt,
		Warning:   h.catalog.Warning(),
		Items:     snap.Items(),
	})
}

// SetCategory switches the catalog filter. A failed fetch keeps the previous
// snapshot and is reported as a warning, not an error.
func (h *TerminalHandler) SetCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.catalog.SetCategory(ctx, req.Category); err != nil {
		h.log.WarnContext(ctx, "category refresh failed", "category", req.Category, "error", err)
	}
	h.GetProducts(w, r)
}

func (h *TerminalHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	categories, err := h.categories.FetchCategories(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to fetch categories", "error", err)
		respondError(w, http.StatusBadGateway, "gateway_failure", "failed to load categories", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (h *TerminalHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cartResponse())
}

func (h *TerminalHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.Barcode != "":
		_, err = h.cart.AddBarcode(req.Barcode)
	case req.ProductID > 0:
		_, err = h.cart.AddProductID(req.ProductID)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "product_id or barcode is required", "")
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.cartResponse())
}

func (h *TerminalHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.Quantity != nil:
		err = h.cart.SetQuantity(productID, *req.Quantity)
	case req.Delta != nil:
		err = h.cart.UpdateQuantity(productID, *req.Delta)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "delta or quantity is required", "")
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.cartResponse())
}

func (h *TerminalHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := h.cart.RemoveItem(productID); err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.cartResponse())
}

// VoidSale empties the cart and abandons any checkout in progress.
func (h *TerminalHandler) VoidSale(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.VoidSale(); err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.checkout.Status())
}

func (h *TerminalHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.checkout.Status())
}

func (h *TerminalHandler) OpenCheckout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.checkout.Open)
}

// UpdateForm applies the present fields all or nothing.
func (h *TerminalHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	var req FormRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.checkout.UpdateForm(checkout.FormUpdate{
		Session:       req.Session,
		Customer:      req.Customer,
		Discount:      req.Discount,
		PaymentMethod: req.PaymentMethod,
		Tendered:      req.Tendered,
		Notes:         req.Notes,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.checkout.Status())
}

// Submit commits the sale. The orchestrator bounds the gateway call itself,
// so the request context is passed through untouched.
func (h *TerminalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sale, err := h.checkout.Submit(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sale)
}

func (h *TerminalHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.checkout.Retry)
}

func (h *TerminalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.checkout.Cancel)
}

// LastReceipt renders the most recent committed sale as plain text.
func (h *TerminalHandler) LastReceipt(w http.ResponseWriter, r *http.Request) {
	last := h.checkout.Status().LastSale
	if last == nil {
		respondError(w, http.StatusNotFound, "receipt_not_found", "no sale committed yet", "")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(receipt.Render(*last, h.receiptHeader)))
}

func (h *TerminalHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		respondError(w, http.StatusNotFound, "receipt_not_found", "receipt archive is not configured", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	doc, err := h.archive.BySaleNumber(ctx, chi.URLParam(r, "sale_number"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *TerminalHandler) transition(w http.ResponseWriter, r *http.Request, fn func() error) {
	if err := fn(); err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.checkout.Status())
}

func (h *TerminalHandler) cartResponse() CartResponse {
	st := h.checkout.Status()
	return CartResponse{Lines: st.Lines, Totals: st.Totals}
}

func (h *TerminalHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", "invalid request body", err.Error())
		return false
	}
	return true
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer", "")
		return 0, false
	}
	return id, true
}

func (h *TerminalHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr  *cart.StockError
		tenderErr *checkout.InsufficientTenderError
		validErr  *checkout.StockValidationError
		commitErr *checkout.CommitError
	)
	switch {
	case errors.As(err, &stockErr):
		code := "insufficient_stock"
		if errors.Is(err, cart.ErrOutOfStock) {
			code = "out_of_stock"
		}
		respondError(w, http.StatusConflict, code, err.Error(), "")
	case errors.As(err, &tenderErr):
		respondError(w, http.StatusUnprocessableEntity, "insufficient_cash", err.Error(),
			"shortfall "+strconv.FormatFloat(tenderErr.Shortfall, 'f', 2, 64))
	case errors.As(err, &validErr):
		respondError(w, http.StatusConflict, "insufficient_stock", err.Error(), "")
	case errors.As(err, &commitErr):
		switch commitErr.Kind {
		case checkout.FailureStaleStock:
			respondError(w, http.StatusConflict, "insufficient_stock", err.Error(), "")
		case checkout.FailureTimeout:
			respondError(w, http.StatusGatewayTimeout, "gateway_timeout", err.Error(), "")
		default:
			respondError(w, http.StatusBadGateway, "gateway_failure", err.Error(), "")
		}
	case errors.Is(err, cart.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error(), "")
	case errors.Is(err, cart.ErrLineNotFound):
		respondError(w, http.StatusNotFound, "line_not_found", err.Error(), "")
	case errors.Is(err, receipt.ErrReceiptNotFound):
		respondError(w, http.StatusNotFound, "receipt_not_found", err.Error(), "")
	case errors.Is(err, cart.ErrCartFrozen):
		respondError(w, http.StatusConflict, "cart_locked", err.Error(), "")
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusConflict, "empty_cart", err.Error(), "")
	case errors.Is(err, checkout.ErrSubmitInProgress):
		respondError(w, http.StatusConflict, "submit_in_progress", err.Error(), "")
	case errors.Is(err, checkout.ErrCancelNotAllowed):
		respondError(w, http.StatusConflict, "cancel_not_allowed", err.Error(), "")
	case errors.Is(err, checkout.ErrIllegalTransition), errors.Is(err, checkout.ErrNotCollecting):
		respondError(w, http.StatusConflict, "invalid_state", err.Error(), "")
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrInvalidPayment),
		errors.Is(err, pricing.ErrInvalidAmount),
		errors.Is(err, pricing.ErrInvalidDiscount):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
	default:
		h.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error", "")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message, details string) {
	respondJSON(w, status, sales.ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
