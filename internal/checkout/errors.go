package checkout

import (
	"errors"
	"sort"
	"strings"
)

var ErrEmptyCart = errors.New("cart is empty")

// ValidationError maps JSON field paths to user-facing messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// GatewayError means the order was placed but the payment push failed. The
// order is cancelled and the cart restored before it is returned.
type GatewayError struct {
	OrderNumber string
	Err         error
}

func (e *GatewayError) Error() string {
	return "payment gateway: order " + e.OrderNumber + ": " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error { return e.Err }

type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "checkout persistence: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }
