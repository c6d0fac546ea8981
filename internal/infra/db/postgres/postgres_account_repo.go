package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/repository"
)

var _ repository.AccountRepository = (*accountRepo)(nil)

type accountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *accountRepo {
	return &accountRepo{pool: pool}
}

func (r *accountRepo) Save(ctx context.Context, tx repository.Tx, a *model.Account) error {
	const q = `
INSERT INTO accounts (id, email, balance, role, created_at)
VALUES ($1, $2, $3::numeric, $4, $5)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role;`

	_, err := execSQL(ctx, r.pool, tx, q, a.ID, a.Email, a.Balance.String(), string(a.Role), a.CreatedAt)
	return mapError(err)
}

const accountColumns = `id, email, balance::text, role, created_at`

func (r *accountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Account, error) {
	return r.queryOne(ctx, tx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1;`, id)
}

func (r *accountRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.queryOne(ctx, tx, `SELECT `+accountColumns+` FROM accounts WHERE email=$1;`, email)
}

// FindByIDForUpdate serializes ledger operations per account: every
// reserve/confirm/refund/recharge on the same row queues behind this lock
// until the surrounding transaction commits.
func (r *accountRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.Account, error) {
	if _, ok := tx.(pgx.Tx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	return r.queryOne(ctx, tx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 FOR UPDATE;`, id)
}

func (r *accountRepo) UpdateBalance(ctx context.Context, tx repository.Tx, id string, balance decimal.Decimal) error {
	tag, err := execSQL(ctx, r.pool, tx, `UPDATE accounts SET balance=$2::numeric WHERE id=$1;`, id, balance.String())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *accountRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Account, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}

	var (
		a       model.Account
		balance string
		role    string
		created time.Time
	)
	if err := row.Scan(&a.ID, &a.Email, &balance, &role, &created); err != nil {
		return nil, mapError(err)
	}
	bal, err := parseDecimal(balance)
	if err != nil {
		return nil, err
	}
	a.Balance = bal
	a.Role = model.AccountRole(role)
	a.CreatedAt = created
	return &a, nil
}
