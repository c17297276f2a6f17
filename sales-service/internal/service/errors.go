package service

import (
	"errors"
	"fmt"
)

var ErrInvalidSale = errors.New("invalid sale")

// ValidationError names the offending field. It matches ErrInvalidSale.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid sale: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidSale
}
