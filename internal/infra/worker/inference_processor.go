package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/adapter"
	"inpaint-backend/internal/domain/ports/repository"
	"inpaint-backend/internal/infra/logging"
	"inpaint-backend/internal/infra/metrics"
	"inpaint-backend/internal/usecase"
)

const dequeueInterval = 250 * time.Millisecond

// InferenceProcessor drains the job queue and drives each job through the
// black box, settling the token reservation on the way out. A job's
// reservation is confirmed exactly once on success and refunded exactly
// once on final failure; while retries remain the hold stays in place.
type InferenceProcessor struct {
	queue     adapter.JobQueue
	engine    adapter.InferenceAdapter
	jobs      repository.JobRepository
	datasets  repository.DatasetRepository
	tokens    usecase.TokenService
	heartbeat time.Duration
	log       *zerolog.Logger
}

func NewInferenceProcessor(
	queue adapter.JobQueue,
	engine adapter.InferenceAdapter,
	jobs repository.JobRepository,
	datasets repository.DatasetRepository,
	tokens usecase.TokenService,
	visibility time.Duration,
	logger *zerolog.Logger,
) *InferenceProcessor {
	hb := visibility / 3
	if hb <= 0 {
		hb = 10 * time.Second
	}
	procLog := logger.With().Str("component", "InferenceProcessor").Logger()
	return &InferenceProcessor{
		queue:     queue,
		engine:    engine,
		jobs:      jobs,
		datasets:  datasets,
		tokens:    tokens,
		heartbeat: hb,
		log:       &procLog,
	}
}

// Start feeds the pool with dequeue attempts until ctx is cancelled.
func (p *InferenceProcessor) Start(ctx context.Context, pool *Pool) {
	go func() {
		ticker := time.NewTicker(dequeueInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = pool.Submit(p.processOne)
			}
		}
	}()
}

func (p *InferenceProcessor) processOne(ctx context.Context) error {
	d, err := p.queue.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || ctx.Err() != nil {
			return nil
		}
		return err
	}
	p.handle(ctx, d)
	return nil
}

func (p *InferenceProcessor) handle(ctx context.Context, d *adapter.Delivery) {
	ctx = logging.WithJobID(ctx, d.Payload.JobID)
	ctx = logging.WithUserID(ctx, d.Payload.UserID)
	log := logging.With(ctx, p.log)
	started := time.Now()

	job, err := p.jobs.FindByID(ctx, repository.NoTX, d.Payload.JobID)
	if err != nil {
		log.Error().Err(err).Msg("delivery references unknown job")
		retried, nackErr := p.queue.Nack(ctx, d.ID, "job record not found")
		if nackErr != nil {
			log.Error().Err(nackErr).Msg("failed to nack orphan delivery")
		}
		if !retried {
			p.finishFailed(ctx, d, nil, "job record not found")
		}
		return
	}

	// A redelivery after a lost ack already holds its final state; the
	// reservation was settled on the first pass.
	if job.Terminal() {
		log.Warn().Str("status", string(job.Status)).Msg("job already settled, acking redelivery")
		if err := p.queue.Ack(ctx, d.ID, job.Result); err != nil {
			log.Error().Err(err).Msg("failed to ack settled job")
		}
		return
	}

	job.Status = model.JobStatusRunning
	job.UpdatedAt = time.Now()
	if err := p.jobs.Save(ctx, repository.NoTX, job); err != nil {
		log.Error().Err(err).Msg("failed to mark job running")
	}
	_ = p.queue.Progress(ctx, d.ID, 10)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.keepAlive(hbCtx, d.ID)

	result, procErr := p.process(ctx, d, job)
	stopHeartbeat()

	if procErr != nil {
		p.onFailure(ctx, d, job, procErr, started)
		return
	}

	_ = p.queue.Progress(ctx, d.ID, 90)
	job.Status = model.JobStatusCompleted
	job.Result = result
	job.LastError = ""
	job.UpdatedAt = time.Now()
	if err := p.jobs.Save(ctx, repository.NoTX, job); err != nil {
		log.Error().Err(err).Msg("failed to persist completed job")
	}

	if _, _, err := p.tokens.Confirm(ctx, job.Params.ReservationKey); err != nil {
		if errors.Is(err, domain.ErrReservationExpired) {
			log.Error().Err(err).
				Str("reservation_key", job.Params.ReservationKey).
				Msg("CRITICAL: job completed but reservation expired, work delivered unpaid")
		} else {
			log.Error().Err(err).
				Str("reservation_key", job.Params.ReservationKey).
				Msg("CRITICAL: failed to confirm reservation for completed job")
		}
	}

	if err := p.queue.Ack(ctx, d.ID, result); err != nil {
		log.Error().Err(err).Msg("failed to ack job")
	}
	metrics.IncInferenceJob("completed")
	metrics.ObserveJobDuration(time.Since(started))
	log.Info().
		Int("images", len(result.Images)).
		Int("videos", len(result.Videos)).
		Dur("took", time.Since(started)).
		Msg("inference job completed")
}

func (p *InferenceProcessor) process(ctx context.Context, d *adapter.Delivery, job *model.Job) (*model.InferenceResult, error) {
	ds, err := p.datasets.FindByID(ctx, repository.NoTX, d.Payload.DatasetID)
	if err != nil {
		return nil, err
	}
	return p.engine.Process(ctx, d.Payload.UserID, ds, job.Params)
}

func (p *InferenceProcessor) onFailure(ctx context.Context, d *adapter.Delivery, job *model.Job, procErr error, started time.Time) {
	log := logging.With(ctx, p.log)

	retried, err := p.queue.Nack(ctx, d.ID, procErr.Error())
	if err != nil {
		log.Error().Err(err).Msg("failed to nack job, treating as final")
	}
	if retried {
		job.Status = model.JobStatusPending
		job.LastError = procErr.Error()
		job.UpdatedAt = time.Now()
		if err := p.jobs.Save(ctx, repository.NoTX, job); err != nil {
			log.Error().Err(err).Msg("failed to persist retry state")
		}
		log.Warn().Err(procErr).Int("attempt", d.Attempt).Msg("inference attempt failed, retry scheduled")
		return
	}
	p.finishFailed(ctx, d, job, procErr.Error())
	metrics.ObserveJobDuration(time.Since(started))
}

// finishFailed settles a job that will not run again. The refund is best
// effort: if it fails the expiry sweep picks the reservation up later.
func (p *InferenceProcessor) finishFailed(ctx context.Context, d *adapter.Delivery, job *model.Job, reason string) {
	log := logging.With(ctx, p.log)

	refunded := false
	if job != nil && job.Params.ReservationKey != "" {
		_, err := p.tokens.Refund(ctx, job.Params.ReservationKey)
		switch {
		case err == nil:
			refunded = true
		case errors.Is(err, domain.ErrReservationNotFound):
			// already settled by a sweep or an earlier attempt
			refunded = true
		default:
			log.Error().Err(err).
				Str("reservation_key", job.Params.ReservationKey).
				Msg("CRITICAL: refund failed for finally failed job")
		}
	}

	if job != nil {
		job.Status = model.JobStatusFailed
		job.LastError = reason
		job.TokenRefunded = refunded
		job.UpdatedAt = time.Now()
		if err := p.jobs.Save(ctx, repository.NoTX, job); err != nil {
			log.Error().Err(err).Msg("failed to persist failed job")
		}
	}
	metrics.IncInferenceJob("failed")
	log.Error().Str("reason", reason).Bool("token_refunded", refunded).Msg("inference job failed permanently")
}

func (p *InferenceProcessor) keepAlive(ctx context.Context, id string) {
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(context.Background(), id); err != nil {
				p.log.Warn().Err(err).Str("job_id", id).Msg("heartbeat failed")
			}
		}
	}
}
