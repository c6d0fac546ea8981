package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"inpaint-backend/internal/usecase"
)

// LedgerSweeper periodically refunds expired token reservations. It is the
// crash backstop: a worker that dies between reserve and confirm leaves a
// pending row behind, and the sweeper returns those tokens once the
// reservation window closes.
type LedgerSweeper struct {
	interval time.Duration
	staleAge time.Duration
	tokens   usecase.TokenService
	log      *zerolog.Logger
}

func NewLedgerSweeper(interval, staleAge time.Duration, tokens usecase.TokenService, logger *zerolog.Logger) *LedgerSweeper {
	sweepLog := logger.With().Str("component", "LedgerSweeper").Logger()
	return &LedgerSweeper{
		interval: interval,
		staleAge: staleAge,
		tokens:   tokens,
		log:      &sweepLog,
	}
}

func (w *LedgerSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting ledger sweeper")

	// Recover reservations orphaned by a previous process before serving.
	n, err := w.tokens.SweepStalePending(ctx, w.staleAge)
	if err != nil {
		w.log.Error().Err(err).Msg("startup stale-pending sweep failed")
	}
	if n > 0 {
		w.log.Warn().Int("count", n).Msg("stale pending reservations refunded at startup")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping ledger sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *LedgerSweeper) sweep(ctx context.Context) {
	n, err := w.tokens.SweepExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("ledger sweep error")
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("expired reservations refunded")
	}
}
