package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain/model"
)

// AccountRepository is the port for token accounts. Balance reads always
// hit durable storage; the ledger may have just committed a mutation in
// an adjacent request, so no caching layer sits in front of FindByID.
type AccountRepository interface {
	Save(ctx context.Context, tx Tx, a *model.Account) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Account, error)
	FindByEmail(ctx context.Context, tx Tx, email string) (*model.Account, error)
	// FindByIDForUpdate locks the account row for the duration of the
	// surrounding transaction. Must be called with a live Tx.
	FindByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.Account, error)
	UpdateBalance(ctx context.Context, tx Tx, id string, balance decimal.Decimal) error
}
