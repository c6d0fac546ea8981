package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/repository"
)

// UploadRequest is the structural description of an uploaded dataset.
// The files themselves live with the storage collaborator.
type UploadRequest struct {
	Name             string
	Type             string
	IsZip            bool
	ImageCount       int
	VideoFrameCounts []int
	Pairs            []model.Pair
}

// UploadResult reports the registered dataset and what it cost.
type UploadResult struct {
	DatasetID string
	TokenCost decimal.Decimal
	Breakdown model.CostBreakdown
}

// DatasetService registers dataset metadata and charges for the upload.
// Unlike inference, upload billing is synchronous: the reservation is
// confirmed within the same request once the dataset row is persisted,
// and refunded if persistence fails.
type DatasetService interface {
	Upload(ctx context.Context, userID string, req UploadRequest) (*UploadResult, error)
	Get(ctx context.Context, userID, name string) (*model.Dataset, error)
	List(ctx context.Context, userID string) ([]*model.Dataset, error)
}

var _ DatasetService = (*datasetService)(nil)

type datasetService struct {
	datasets repository.DatasetRepository
	calc     CostCalculator
	tokens   TokenService
	log      *zerolog.Logger
}

func NewDatasetService(
	datasets repository.DatasetRepository,
	calc CostCalculator,
	tokens TokenService,
	logger *zerolog.Logger,
) DatasetService {
	svcLog := logger.With().Str("component", "DatasetService").Logger()
	return &datasetService{datasets: datasets, calc: calc, tokens: tokens, log: &svcLog}
}

func (s *datasetService) Upload(ctx context.Context, userID string, req UploadRequest) (*UploadResult, error) {
	ds, err := model.NewDataset(userID, req.Name, req.Type, req.IsZip, req.Pairs)
	if err != nil {
		return nil, err
	}
	if existing, err := s.datasets.FindByOwnerAndName(ctx, repository.NoTX, userID, ds.Name); err == nil && existing != nil {
		return nil, domain.ErrAlreadyExists
	}

	breakdown := s.calc.DatasetUploadCost(req.ImageCount, req.VideoFrameCounts, req.IsZip)
	if breakdown.IsFree() {
		return nil, domain.ErrEmptyDataset
	}

	key, err := s.tokens.Reserve(ctx, userID, breakdown.Total, model.OpDatasetUpload, ds.ID)
	if err != nil {
		return nil, err
	}

	if err := s.datasets.Save(ctx, repository.NoTX, ds); err != nil {
		if _, rerr := s.tokens.Refund(ctx, key); rerr != nil && !errors.Is(rerr, domain.ErrReservationNotFound) {
			s.log.Error().Err(rerr).Str("reservation", key).
				Msg("CRITICAL: refund after failed dataset save failed; tokens stuck pending reconciliation")
		}
		return nil, err
	}

	if _, _, err := s.tokens.Confirm(ctx, key); err != nil {
		// The dataset row exists and the hold could not be finalized; the
		// sweep will return the tokens. Surface the ledger failure.
		s.log.Error().Err(err).Str("reservation", key).Str("dataset_id", ds.ID).Msg("upload confirm failed")
		return nil, err
	}

	s.log.Info().Str("user_id", userID).Str("dataset_id", ds.ID).
		Str("cost", breakdown.Total.StringFixed(2)).Msg("dataset upload charged")
	return &UploadResult{DatasetID: ds.ID, TokenCost: breakdown.Total, Breakdown: breakdown}, nil
}

func (s *datasetService) Get(ctx context.Context, userID, name string) (*model.Dataset, error) {
	return s.datasets.FindByOwnerAndName(ctx, repository.NoTX, userID, name)
}

func (s *datasetService) List(ctx context.Context, userID string) ([]*model.Dataset, error) {
	return s.datasets.ListByOwner(ctx, repository.NoTX, userID)
}
