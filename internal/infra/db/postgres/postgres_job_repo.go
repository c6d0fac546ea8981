package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, j *model.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.UpdatedAt = time.Now()

	params, err := json.Marshal(j.Params)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	var result []byte
	if j.Result != nil {
		if result, err = json.Marshal(j.Result); err != nil {
			return domain.ErrInvalidArgument
		}
	}

	const q = `
INSERT INTO jobs (id, user_id, dataset_id, model_id, status, params, result, last_error, token_refunded, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  result = EXCLUDED.result,
  last_error = EXCLUDED.last_error,
  token_refunded = EXCLUDED.token_refunded,
  updated_at = EXCLUDED.updated_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		j.ID, j.UserID, j.DatasetID, j.ModelID, string(j.Status), params, result,
		j.LastError, j.TokenRefunded, j.CreatedAt, j.UpdatedAt)
	return mapError(err)
}

const jobColumns = `id, user_id, dataset_id, model_id, status, params, result, last_error, token_refunded, created_at, updated_at`

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	return r.queryOne(ctx, tx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1;`, id)
}

func (r *jobRepo) FindByOwnerAndID(ctx context.Context, tx repository.Tx, ownerID, id string) (*model.Job, error) {
	return r.queryOne(ctx, tx, `SELECT `+jobColumns+` FROM jobs WHERE user_id=$1 AND id=$2;`, ownerID, id)
}

func (r *jobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;`, ownerID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *jobRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j              model.Job
		status         string
		params, result []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &j.DatasetID, &j.ModelID, &status, &params, &result,
		&j.LastError, &j.TokenRefunded, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	j.Status = model.JobStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Params); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	if len(result) > 0 {
		var res model.InferenceResult
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		j.Result = &res
	}
	return &j, nil
}
