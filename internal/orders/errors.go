package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means no order matched the given id or payment intent.
	ErrNotFound = errors.New("order not found")
	// ErrConflict means an order with the same id already exists.
	ErrConflict = errors.New("order already exists")
	// ErrUnknownProduct means a line item referenced a product id that is
	// not in the catalog (or is inactive).
	ErrUnknownProduct = errors.New("unknown product")
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field-level detail for a rejected request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
