package repository

import (
	"context"

	"inpaint-backend/internal/domain/model"
)

type DatasetRepository interface {
	Save(ctx context.Context, tx Tx, d *model.Dataset) error
	FindByOwnerAndName(ctx context.Context, tx Tx, ownerID, name string) (*model.Dataset, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Dataset, error)
	ListByOwner(ctx context.Context, tx Tx, ownerID string) ([]*model.Dataset, error)
	Delete(ctx context.Context, tx Tx, ownerID, id string) error
}
