package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_pos/pkg/logger"
	"github.com/fjod/go_pos/sales-service/domain"
	"github.com/fjod/go_pos/sales-service/internal/repository"
	"github.com/fjod/go_pos/sales-service/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxRequestBodySize = 1 << 20

type SalesAPI interface {
	ListProducts(ctx context.Context, categoryID int64) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CommitSale(ctx context.Context, req *domain.CommitSaleRequest) (*domain.Sale, bool, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]*domain.Sale, error)
}

type SalesHandler struct {
	sales   SalesAPI
	timeout time.Duration
	log     *slog.Logger
}

func NewSalesHandler(sales SalesAPI, timeout time.Duration, log *slog.Logger) *SalesHandler {
	return &SalesHandler{
		sales:   sales,
		timeout: timeout,
		log:     logger.OrDefault(log),
	}
}

// GetProducts serves GET /products?category={id|All}.
func (h *SalesHandler) GetProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	categoryID, err := parseCategory(r.URL.Query().Get("category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_category", "category must be a positive integer or All")
		return
	}

	products, err := h.sales.ListProducts(ctx, categoryID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *SalesHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	categories, err := h.sales.ListCategories(ctx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

// CommitSale serves POST /sales. A replayed transaction id answers 200
// with the sale recorded the first time.
func (h *SalesHandler) CommitSale(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req domain.CommitSaleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	sale, replayed, err := h.sales.CommitSale(ctx, &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if replayed {
		respondJSON(w, http.StatusOK, sale)
		return
	}
	respondJSON(w, http.StatusCreated, sale)
}

func (h *SalesHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_sale_id", "sale id must be a positive integer")
		return
	}

	sale, err := h.sales.GetSale(ctx, id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

// ListSales serves GET /sales?limit=N, newest first.
func (h *SalesHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	sales, err := h.sales.ListSales(ctx, limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sales)
}

func (h *SalesHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr *repository.InsufficientStockError
		validErr *service.ValidationError
	)
	switch {
	case errors.As(err, &stockErr):
		respondJSON(w, http.StatusConflict, domain.ErrorResponse{
			Error:   "insufficient stock",
			Code:    "insufficient_stock",
			Details: stockErr.Error(),
		})
	case errors.Is(err, repository.ErrInsufficientStock):
		respondError(w, http.StatusConflict, "insufficient_stock", "insufficient stock")
	case errors.As(err, &validErr):
		respondError(w, http.StatusBadRequest, "invalid_sale", validErr.Error())
	case errors.Is(err, repository.ErrProductNotFound):
		respondError(w, http.StatusUnprocessableEntity, "product_not_found", err.Error())
	case errors.Is(err, repository.ErrSaleNotFound):
		respondError(w, http.StatusNotFound, "not_found", "sale not found")
	case errors.Is(err, repository.ErrDuplicateSale):
		respondError(w, http.StatusConflict, "duplicate_sale", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		h.log.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", getRequestID(r.Context()),
			"error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func parseCategory(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, domain.AllCategories) {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid category")
	}
	return id, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, domain.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
