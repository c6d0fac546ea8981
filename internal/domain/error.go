package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotAuthorized   = errors.New("not authorized")

	// Ledger errors
	ErrInsufficientTokens  = errors.New("insufficient tokens")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation expired")

	// Queue / processing errors
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidJobData = errors.New("invalid job data")
	ErrQueueFailure   = errors.New("queue operation failed")
	ErrEmptyDataset   = errors.New("dataset has no billable content")

	// Storage-layer errors
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// InsufficientTokensError carries the structured shortfall returned to
// callers when a reserve fails the balance check. errors.Is against
// ErrInsufficientTokens matches it.
type InsufficientTokensError struct {
	Required  decimal.Decimal
	Current   decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: required %s, have %s (short %s)",
		e.Required.StringFixed(2), e.Current.StringFixed(2), e.Shortfall.StringFixed(2))
}

func (e *InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}

func NewInsufficientTokensError(required, current decimal.Decimal) *InsufficientTokensError {
	return &InsufficientTokensError{
		Required:  required,
		Current:   current,
		Shortfall: required.Sub(current),
	}
}
