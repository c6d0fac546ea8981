package adapter

import (
	"context"

	"inpaint-backend/internal/domain/model"
)

// InferenceAdapter is the black-box model collaborator. Calls may be slow,
// are fallible, and cannot be cancelled beyond the context deadline; the
// only recovery path after a wedged call is the queue's stall detection
// and the ledger's expiry sweep.
type InferenceAdapter interface {
	Process(ctx context.Context, userID string, ds *model.Dataset, params model.JobParams) (*model.InferenceResult, error)
	Healthy(ctx context.Context) error
}
