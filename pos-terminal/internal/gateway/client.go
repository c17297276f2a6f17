// Package gateway is the terminal's HTTP client for the sales service.
// Every non-2xx answer is a full failure; a sale is never assumed to be
// partially recorded.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_pos/pkg/circuitbreaker"
	"github.com/fjod/go_pos/pkg/logger"
	"github.com/fjod/go_pos/pos-terminal/domain"
	sales "github.com/fjod/go_pos/sales-service/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBody = 4 << 20

type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker[[]byte]
	log     *slog.Logger
}

// NewClient builds a client for baseURL. timeout bounds each request,
// including the sale commit.
func NewClient(baseURL string, timeout time.Duration, breakerCfg circuitbreaker.Config, log *slog.Logger) *Client {
	log = logger.OrDefault(log)
	breakerCfg.IsSuccessful = func(err error) bool {
		var se *StatusError
		return errors.As(err, &se) && se.clientError()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[[]byte]("sales-service", breakerCfg, log),
		log:     log,
	}
}

// FetchProducts implements catalog.Fetcher.
func (c *Client) FetchProducts(ctx context.Context, category string) ([]domain.Product, error) {
	if category == "" {
		category = domain.AllCategoriesFilter
	}
	body, err := c.do(ctx, http.MethodGet, "/products?category="+url.QueryEscape(category), nil)
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, fmt.Errorf("%w: decode products: %v", ErrGatewayFailure, err)
	}
	return products, nil
}

func (c *Client) FetchCategories(ctx context.Context) ([]domain.Category, error) {
	body, err := c.do(ctx, http.MethodGet, "/categories", nil)
	if err != nil {
		return nil, err
	}
	var categories []domain.Category
	if err := json.Unmarshal(body, &categories); err != nil {
		return nil, fmt.Errorf("%w: decode categories: %v", ErrGatewayFailure, err)
	}
	return categories, nil
}

// CommitSale posts the sale. The sales service either records all lines
// and decrements their stock, or nothing.
func (c *Client) CommitSale(ctx context.Context, req *sales.CommitSaleRequest) (*sales.Sale, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal sale: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/sales", payload)
	if err != nil {
		return nil, err
	}
	var sale sales.Sale
	if err := json.Unmarshal(body, &sale); err != nil {
		return nil, fmt.Errorf("%w: decode sale: %v", ErrGatewayFailure, err)
	}
	return &sale, nil
}

func (c *Client) GetSale(ctx context.Context, id int64) (*sales.Sale, error) {
	body, err := c.do(ctx, http.MethodGet, "/sales/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, err
	}
	var sale sales.Sale
	if err := json.Unmarshal(body, &sale); err != nil {
		return nil, fmt.Errorf("%w: decode sale: %v", ErrGatewayFailure, err)
	}
	return &sale, nil
}

func (c *Client) BreakerState() string {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "sales service request failed", "method", method, "path", path, "error", err)
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrGatewayFailure, err)
	}
	c.log.DebugContext(ctx, "sales service request",
		"method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

func statusError(status int, body []byte) *StatusError {
	se := &StatusError{Status: status}
	var er sales.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		se.Code = er.Code
		se.Message = er.Error
		se.Details = er.Details
	} else {
		se.Message = strings.TrimSpace(string(body))
	}
	if se.Message == "" {
		se.Message = http.StatusText(status)
	}
	return se
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
