package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes a function inside a database transaction,
// passing the transaction handle to repositories via the Tx argument.
//
// Repository methods accept a Tx so the same method works against the
// pool (nil / NoTX) and inside a transaction (pgx.Tx). The token ledger
// relies on this to span the balance read, the balance write and the
// audit-row write under one commit.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
