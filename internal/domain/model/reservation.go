package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reservation is a time-boxed hold on an account's balance pending the
// outcome of the operation it was taken for. The durable source of truth
// is the mirroring pending Transaction row; Reservation values live in a
// process-local cache so the common confirm/refund path skips a lookup.
type Reservation struct {
	Key          string
	UserID       string
	Amount       decimal.Decimal
	Category     OperationType
	OperationRef string
	ValidUntil   time.Time
}

func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ValidUntil)
}
