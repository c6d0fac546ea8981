package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/adapter"
	"inpaint-backend/internal/domain/ports/repository"
)

// SubmitResult is returned to the caller immediately after a successful
// submission; the work itself happens asynchronously.
type SubmitResult struct {
	JobID     string
	TokenCost decimal.Decimal
	Breakdown model.CostBreakdown
}

// JobView merges the persisted job row with the queue's live progress.
type JobView struct {
	JobID         string
	Status        model.JobStatus
	Progress      int
	Result        *model.InferenceResult
	Error         string
	TokenRefunded bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InferenceService drives the submission half of the job lifecycle:
// validate, price, reserve, persist, enqueue. Token confirmation is
// deferred to the worker on successful completion; every failure path
// after a successful reserve carries a compensating refund.
type InferenceService interface {
	Submit(ctx context.Context, userID, datasetName, modelID string, options map[string]any) (*SubmitResult, error)
	Status(ctx context.Context, userID, jobID string) (*JobView, error)
}

var _ InferenceService = (*inferenceService)(nil)

type inferenceService struct {
	datasets repository.DatasetRepository
	jobs     repository.JobRepository
	calc     CostCalculator
	tokens   TokenService
	queue    adapter.JobQueue
	log      *zerolog.Logger
}

func NewInferenceService(
	datasets repository.DatasetRepository,
	jobs repository.JobRepository,
	calc CostCalculator,
	tokens TokenService,
	queue adapter.JobQueue,
	logger *zerolog.Logger,
) InferenceService {
	svcLog := logger.With().Str("component", "InferenceService").Logger()
	return &inferenceService{
		datasets: datasets,
		jobs:     jobs,
		calc:     calc,
		tokens:   tokens,
		queue:    queue,
		log:      &svcLog,
	}
}

func (s *inferenceService) Submit(ctx context.Context, userID, datasetName, modelID string, options map[string]any) (*SubmitResult, error) {
	if userID == "" || datasetName == "" || modelID == "" {
		return nil, domain.ErrInvalidArgument
	}

	ds, err := s.datasets.FindByOwnerAndName(ctx, repository.NoTX, userID, datasetName)
	if err != nil {
		return nil, err
	}

	breakdown := s.calc.InferenceCost(ds)
	if breakdown.IsFree() {
		return nil, domain.ErrEmptyDataset
	}

	key, err := s.tokens.Reserve(ctx, userID, breakdown.Total, model.OpInference, ds.ID)
	if err != nil {
		return nil, err
	}

	// From here on every failure must give the reservation back before
	// surfacing the error.
	res, err := s.submitReserved(ctx, userID, ds, modelID, options, key, breakdown)
	if err != nil {
		s.compensate(ctx, key, err)
		return nil, err
	}
	return res, nil
}

func (s *inferenceService) submitReserved(ctx context.Context, userID string, ds *model.Dataset, modelID string, options map[string]any, key string, breakdown model.CostBreakdown) (*SubmitResult, error) {
	job := &model.Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		DatasetID: ds.ID,
		ModelID:   modelID,
		Status:    model.JobStatusPending,
		Params: model.JobParams{
			ReservationKey: key,
			QuotedCost:     breakdown.Total,
			ModelOptions:   options,
		},
		CreatedAt: time.Now(),
	}
	if err := s.jobs.Save(ctx, repository.NoTX, job); err != nil {
		return nil, err
	}

	if _, err := s.queue.Enqueue(ctx, adapter.JobPayload{
		JobID:     job.ID,
		UserID:    userID,
		DatasetID: ds.ID,
		PairCount: len(ds.Pairs),
	}); err != nil {
		job.Status = model.JobStatusAborted
		job.LastError = err.Error()
		job.TokenRefunded = true
		if serr := s.jobs.Save(ctx, repository.NoTX, job); serr != nil {
			s.log.Error().Err(serr).Str("job_id", job.ID).Msg("failed to mark job aborted")
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrQueueFailure, err)
	}

	s.log.Info().Str("job_id", job.ID).Str("user_id", userID).
		Str("dataset_id", ds.ID).Str("cost", breakdown.Total.StringFixed(2)).Msg("inference job submitted")
	return &SubmitResult{JobID: job.ID, TokenCost: breakdown.Total, Breakdown: breakdown}, nil
}

// compensate refunds the reservation behind a failed submission. A refund
// failure is a critical operational error but never masks the original
// failure reported to the caller.
func (s *inferenceService) compensate(ctx context.Context, key string, cause error) {
	if _, err := s.tokens.Refund(ctx, key); err != nil && !errors.Is(err, domain.ErrReservationNotFound) {
		s.log.Error().Err(err).Str("reservation", key).AnErr("cause", cause).
			Msg("CRITICAL: compensating refund failed; tokens stuck pending reconciliation")
	}
}

func (s *inferenceService) Status(ctx context.Context, userID, jobID string) (*JobView, error) {
	job, err := s.jobs.FindByOwnerAndID(ctx, repository.NoTX, userID, jobID)
	if err != nil {
		return nil, err
	}

	view := &JobView{
		JobID:         job.ID,
		Status:        job.Status,
		Result:        job.Result,
		Error:         job.LastError,
		TokenRefunded: job.TokenRefunded,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	switch job.Status {
	case model.JobStatusCompleted:
		view.Progress = 100
	case model.JobStatusPending, model.JobStatusRunning:
		// Live progress comes from the queue; tolerate a garbage-collected
		// queue entry and fall back to the persisted status.
		if qs, err := s.queue.Status(ctx, job.ID); err == nil {
			view.Progress = qs.Progress
		}
	}
	return view, nil
}
