package repository

import (
	"context"

	"inpaint-backend/internal/domain/model"
)

type JobRepository interface {
	Save(ctx context.Context, tx Tx, j *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// FindByOwnerAndID scopes reads exposed to end users.
	FindByOwnerAndID(ctx context.Context, tx Tx, ownerID, id string) (*model.Job, error)
	ListByOwner(ctx context.Context, tx Tx, ownerID string, limit int) ([]*model.Job, error)
}
