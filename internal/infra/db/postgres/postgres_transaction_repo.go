package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/repository"
)

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const txnColumns = `id, user_id, operation_type, operation_id, amount::text,
balance_before::text, balance_after::text, status, COALESCE(reservation_key,''), valid_until, description, created_at`

func (r *transactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	const q = `
INSERT INTO transactions (
  id, user_id, operation_type, operation_id, amount, balance_before, balance_after,
  status, reservation_key, valid_until, description, created_at
) VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7::numeric,$8,NULLIF($9,''),$10,$11,$12);`

	_, err := execSQL(ctx, r.pool, tx, q,
		t.ID, t.UserID, string(t.OperationType), t.OperationID,
		t.Amount.String(), t.BalanceBefore.String(), t.BalanceAfter.String(),
		string(t.Status), t.ReservationKey, t.ValidUntil, t.Description, t.CreatedAt)
	return mapError(err)
}

// FindPendingByReservationKey locks the pending row so the terminal
// transition is exclusive: confirm, refund and the sweep serialize here,
// and whoever arrives second sees no pending row at all.
func (r *transactionRepo) FindPendingByReservationKey(ctx context.Context, tx repository.Tx, key string) (*model.Transaction, error) {
	if _, ok := tx.(pgx.Tx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	const q = `SELECT ` + txnColumns + ` FROM transactions WHERE reservation_key=$1 AND status='pending' FOR UPDATE;`
	t, err := r.queryOne(ctx, tx, q, key)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *transactionRepo) Finalize(ctx context.Context, tx repository.Tx, id string, status model.TransactionStatus, description string) error {
	const q = `UPDATE transactions SET status=$2, description=$3 WHERE id=$1 AND status='pending';`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(status), description)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (r *transactionRepo) ListExpiredPending(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Transaction, error) {
	const q = `
SELECT ` + txnColumns + `
  FROM transactions
 WHERE status='pending' AND valid_until IS NOT NULL AND valid_until < $1
 ORDER BY valid_until ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *transactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	const q = `
SELECT ` + txnColumns + `
  FROM transactions
 WHERE status='pending' AND created_at < $1
 ORDER BY created_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, cutoff, limit)
}

func (r *transactionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Transaction, error) {
	const q = `
SELECT ` + txnColumns + `
  FROM transactions
 WHERE user_id=$1
 ORDER BY created_at DESC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, userID, limit)
}

func (r *transactionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Transaction, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanTxn(row)
}

func (r *transactionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Transaction, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanTxn(row pgx.Row) (*model.Transaction, error) {
	var (
		t                           model.Transaction
		opType, status              string
		amount, balBefore, balAfter string
	)
	err := row.Scan(&t.ID, &t.UserID, &opType, &t.OperationID, &amount,
		&balBefore, &balAfter, &status, &t.ReservationKey, &t.ValidUntil, &t.Description, &t.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if t.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if t.BalanceBefore, err = parseDecimal(balBefore); err != nil {
		return nil, err
	}
	if t.BalanceAfter, err = parseDecimal(balAfter); err != nil {
		return nil, err
	}
	t.OperationType = model.OperationType(opType)
	t.Status = model.TransactionStatus(status)
	return &t, nil
}
