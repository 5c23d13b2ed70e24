package core

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is. Transport layers map them to
// status codes; ValidationError wraps them so the field is preserved.
var (
	ErrInvalidQuantityOrPrice = errors.New("quantity and unit price must not be negative")
	ErrInvalidTaxRate         = errors.New("tax rate must be between 0 and 100")
	ErrEmptyDateRange         = errors.New("start date must not be after end date")
	ErrMissingDirectoryEntry  = errors.New("work entry references a missing directory entry")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInvoice         = errors.New("invalid invoice")
)

const (
	CodeRequired      = "REQUIRED"
	CodeOutOfRange    = "OUT_OF_RANGE"
	CodeInvalidFormat = "INVALID_FORMAT"
)

// ValidationError carries the offending field so callers can report it
// without parsing messages.
type ValidationError struct {
	Field         string
	Code          string
	RejectedValue *string
	cause         error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Field, e.Code)
	if e.RejectedValue != nil {
		msg = fmt.Sprintf("%s (rejected: %s)", msg, *e.RejectedValue)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}

func NewRequired(field string) *ValidationError {
	return &ValidationError{Field: field, Code: CodeRequired}
}

func NewInvalidFormat(field string, cause error, rejected *string) *ValidationError {
	return &ValidationError{Field: field, Code: CodeInvalidFormat, RejectedValue: rejected, cause: cause}
}

func newOutOfRange(field string, cause error, rejected string) *ValidationError {
	return &ValidationError{Field: field, Code: CodeOutOfRange, RejectedValue: &rejected, cause: cause}
}

// IsValidation reports whether err stems from invalid caller input.
func IsValidation(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrInvalidQuantityOrPrice) ||
		errors.Is(err, ErrInvalidTaxRate) ||
		errors.Is(err, ErrEmptyDateRange) ||
		errors.Is(err, ErrInvalidInvoice)
}
