package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/repository"
)

var _ repository.DatasetRepository = (*datasetRepo)(nil)

type datasetRepo struct {
	pool *pgxpool.Pool
}

func NewDatasetRepo(pool *pgxpool.Pool) *datasetRepo {
	return &datasetRepo{pool: pool}
}

func (r *datasetRepo) Save(ctx context.Context, tx repository.Tx, d *model.Dataset) error {
	pairs, err := json.Marshal(d.Pairs)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO datasets (id, owner_id, name, type, is_zip, pairs, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (owner_id, name) DO UPDATE SET type=EXCLUDED.type, is_zip=EXCLUDED.is_zip, pairs=EXCLUDED.pairs;`

	_, err = execSQL(ctx, r.pool, tx, q, d.ID, d.OwnerID, d.Name, d.Type, d.IsZip, pairs, d.CreatedAt)
	return mapError(err)
}

const datasetColumns = `id, owner_id, name, type, is_zip, pairs, created_at`

func (r *datasetRepo) FindByOwnerAndName(ctx context.Context, tx repository.Tx, ownerID, name string) (*model.Dataset, error) {
	return r.queryOne(ctx, tx, `SELECT `+datasetColumns+` FROM datasets WHERE owner_id=$1 AND name=$2;`, ownerID, name)
}

func (r *datasetRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Dataset, error) {
	return r.queryOne(ctx, tx, `SELECT `+datasetColumns+` FROM datasets WHERE id=$1;`, id)
}

func (r *datasetRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string) ([]*model.Dataset, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+datasetColumns+` FROM datasets WHERE owner_id=$1 ORDER BY created_at DESC;`, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *datasetRepo) Delete(ctx context.Context, tx repository.Tx, ownerID, id string) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM datasets WHERE owner_id=$1 AND id=$2;`, ownerID, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *datasetRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Dataset, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanDataset(row)
}

func scanDataset(row pgx.Row) (*model.Dataset, error) {
	var (
		d     model.Dataset
		pairs []byte
	)
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Type, &d.IsZip, &pairs, &d.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	if len(pairs) > 0 {
		if err := json.Unmarshal(pairs, &d.Pairs); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &d, nil
}
