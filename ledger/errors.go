/*
errors.go - Ledger error types

Sentinels are matched with errors.Is; the structured errors below carry the
offending value and unwrap to their sentinel.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidTransaction is returned when a transaction fails validation.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrUnknownCategory is returned for anything but SPENDING, SAVING, GIVING.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrInvalidAmount is returned when a dollar string cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDuplicateTransaction is returned when a transaction ID already exists.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type UnknownCategoryError struct {
	Value string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q", e.Value)
}

func (e *UnknownCategoryError) Unwrap() error { return ErrUnknownCategory }

type InvalidAmountError struct {
	Value string
	Err   error
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %q: %v", e.Value, e.Err)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// ValidationError names the field that made a transaction invalid.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTransaction }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrUnknownCategory) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDuplicateTransaction)
}
