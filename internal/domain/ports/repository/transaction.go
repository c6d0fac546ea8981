package repository

import (
	"context"
	"time"

	"inpaint-backend/internal/domain/model"
)

// TransactionRepository is the port for the ledger audit log.
type TransactionRepository interface {
	Save(ctx context.Context, tx Tx, t *model.Transaction) error
	// FindPendingByReservationKey locks the pending row for the duration
	// of the surrounding transaction. Returns domain.ErrReservationNotFound
	// when no pending row exists for the key: a finalized row is as dead
	// as a missing one as far as the ledger is concerned.
	FindPendingByReservationKey(ctx context.Context, tx Tx, key string) (*model.Transaction, error)
	// Finalize conditionally moves a pending row to a terminal status.
	// Returns domain.ErrReservationNotFound when the row was already
	// finalized by a concurrent confirm/refund/sweep.
	Finalize(ctx context.Context, tx Tx, id string, status model.TransactionStatus, description string) error
	// ListExpiredPending returns pending rows whose valid_until has passed.
	ListExpiredPending(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Transaction, error)
	// ListPendingOlderThan returns pending rows created before cutoff,
	// regardless of valid_until. Used by the startup sweep for rows left
	// behind by a crash before a reservation mirror ever existed.
	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Transaction, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Transaction, error)
}
