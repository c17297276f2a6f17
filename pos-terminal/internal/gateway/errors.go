package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientStock marks a commit the sales service rejected because
	// another terminal sold the stock first.
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrGatewayFailure    = errors.New("sales service request failed")
	ErrTimeout           = errors.New("sales service timed out")
	ErrUnavailable       = errors.New("sales service unavailable")
)

// StatusError is any non-2xx answer from the sales service. It unwraps to
// ErrInsufficientStock for stock conflicts and ErrGatewayFailure otherwise.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Details string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("sales service returned %d", e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	if e.StockConflict() {
		return ErrInsufficientStock
	}
	return ErrGatewayFailure
}

// StockConflict reports whether the body names a stock shortage.
func (e *StatusError) StockConflict() bool {
	return strings.Contains(strings.ToLower(e.Message), "insufficient stock") ||
		strings.Contains(strings.ToLower(e.Details), "insufficient stock")
}

// clientError reports answers that say nothing about service health.
func (e *StatusError) clientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// Retryable reports whether resubmitting the same sale may succeed.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return !se.clientError() || se.Status == 408 || se.Status == 429
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrGatewayFailure)
}
