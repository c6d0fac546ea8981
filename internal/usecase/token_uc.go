package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/repository"
	"inpaint-backend/internal/infra/metrics"
)

const (
	// DefaultReservationTTL is how long a reservation may stay unresolved
	// before the sweep treats it as abandoned.
	DefaultReservationTTL = 30 * time.Minute
	// DefaultStalePendingAge is the startup-sweep cutoff for pending
	// transactions left behind by a crashed process.
	DefaultStalePendingAge = time.Hour

	sweepBatch = 100
)

// TokenService owns the reserve/confirm/refund state machine, balance
// mutation and the transaction audit log.
//
// Every mutating operation runs inside a database transaction spanning
// the balance read, the balance write and the audit-row write, with the
// account row locked for the duration. Operations on the same account
// are linearized by that lock; operations on different accounts run in
// parallel.
type TokenService interface {
	// Reserve debits the balance and opens a reservation valid for the
	// configured TTL. Returns the reservation key, or
	// *domain.InsufficientTokensError (recorded as an aborted transaction,
	// balance untouched) when the account cannot cover the amount.
	Reserve(ctx context.Context, userID string, amount decimal.Decimal, category model.OperationType, operationRef string) (string, error)
	// Confirm finalizes a reservation as spent. The debit already happened
	// at reserve time; Confirm only finalizes bookkeeping. Returns the
	// amount actually spent (from the audit row, never recomputed) and the
	// post-debit balance.
	Confirm(ctx context.Context, reservationKey string) (spent, balance decimal.Decimal, err error)
	// Refund reverses a reservation, restoring the held balance. A second
	// refund (or a refund racing the sweep) fails with
	// domain.ErrReservationNotFound and leaves the balance alone.
	Refund(ctx context.Context, reservationKey string) (decimal.Decimal, error)
	// SweepExpired force-refunds every reservation past its validity
	// window. Safe to run concurrently with itself and with Confirm: the
	// pending row's conditional finalize makes the terminal transition
	// exclusive.
	SweepExpired(ctx context.Context) (int, error)
	// SweepStalePending force-refunds pending transactions older than the
	// given age regardless of validity window. Run once at startup to
	// recover rows orphaned by a crash.
	SweepStalePending(ctx context.Context, olderThan time.Duration) (int, error)
	// Recharge credits a target account. Caller must be an administrator.
	Recharge(ctx context.Context, adminID, targetEmail string, amount decimal.Decimal) (decimal.Decimal, error)
	// Balance reads the durable, just-committed balance. No cache sits in
	// front: the same process may have mutated it in an adjacent request.
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// Transactions lists the most recent audit rows for an account.
	Transactions(ctx context.Context, userID string, limit int) ([]*model.Transaction, error)
}

var _ TokenService = (*tokenService)(nil)

type tokenService struct {
	accounts repository.AccountRepository
	txns     repository.TransactionRepository
	tm       repository.TransactionManager
	ttl      time.Duration
	now      func() time.Time
	log      *zerolog.Logger

	// Process-local reservation cache. The pending transaction row is the
	// source of truth; this map only short-circuits expiry scans for
	// reservations born in this process.
	mu           sync.Mutex
	reservations map[string]*model.Reservation
}

func NewTokenService(
	accounts repository.AccountRepository,
	txns repository.TransactionRepository,
	tm repository.TransactionManager,
	ttl time.Duration,
	logger *zerolog.Logger,
) TokenService {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	svcLog := logger.With().Str("component", "TokenService").Logger()
	return &tokenService{
		accounts:     accounts,
		txns:         txns,
		tm:           tm,
		ttl:          ttl,
		now:          time.Now,
		log:          &svcLog,
		reservations: make(map[string]*model.Reservation),
	}
}

func (s *tokenService) Reserve(ctx context.Context, userID string, amount decimal.Decimal, category model.OperationType, operationRef string) (string, error) {
	if userID == "" || !amount.IsPositive() {
		return "", domain.ErrInvalidArgument
	}

	key := ulid.Make().String()
	var (
		insufficient *domain.InsufficientTokensError
		res          *model.Reservation
	)

	err := s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acct, err := s.accounts.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		if acct.Balance.LessThan(amount) {
			// Audit the rejection; the balance is untouched, so the
			// transaction row must still commit. The failure is carried
			// out-of-band so the enclosing tx is not rolled back.
			insufficient = domain.NewInsufficientTokensError(amount, acct.Balance)
			return s.txns.Save(ctx, tx, &model.Transaction{
				UserID:        userID,
				OperationType: category,
				OperationID:   operationRef,
				Amount:        amount.Neg(),
				BalanceBefore: acct.Balance,
				BalanceAfter:  acct.Balance,
				Status:        model.TxAborted,
				Description:   "reservation rejected: " + insufficient.Error(),
				CreatedAt:     now,
			})
		}

		newBalance := acct.Balance.Sub(amount)
		if err := s.accounts.UpdateBalance(ctx, tx, userID, newBalance); err != nil {
			return err
		}

		validUntil := now.Add(s.ttl)
		if err := s.txns.Save(ctx, tx, &model.Transaction{
			UserID:         userID,
			OperationType:  category,
			OperationID:    operationRef,
			Amount:         amount.Neg(),
			BalanceBefore:  acct.Balance,
			BalanceAfter:   newBalance,
			Status:         model.TxPending,
			ReservationKey: key,
			ValidUntil:     &validUntil,
			Description:    "reserved for " + string(category),
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		res = &model.Reservation{
			Key:          key,
			UserID:       userID,
			Amount:       amount,
			Category:     category,
			OperationRef: operationRef,
			ValidUntil:   validUntil,
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if insufficient != nil {
		metrics.IncLedgerOp("reserve_aborted")
		s.log.Warn().Str("user_id", userID).Str("required", insufficient.Required.StringFixed(2)).
			Str("current", insufficient.Current.StringFixed(2)).Msg("reservation rejected")
		return "", insufficient
	}

	s.mu.Lock()
	s.reservations[key] = res
	s.mu.Unlock()

	metrics.IncLedgerOp("reserved")
	s.log.Debug().Str("user_id", userID).Str("reservation", key).
		Str("amount", amount.StringFixed(2)).Str("category", string(category)).Msg("tokens reserved")
	return key, nil
}

func (s *tokenService) Confirm(ctx context.Context, reservationKey string) (decimal.Decimal, decimal.Decimal, error) {
	var (
		spent   decimal.Decimal
		balance decimal.Decimal
		expired bool
	)

	err := s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t, err := s.txns.FindPendingByReservationKey(ctx, tx, reservationKey)
		if err != nil {
			return err
		}
		if t.ValidUntil != nil && s.now().After(*t.ValidUntil) {
			expired = true
			return nil
		}
		if err := s.txns.Finalize(ctx, tx, t.ID, model.TxCompleted, "confirmed"); err != nil {
			return err
		}
		spent = t.Amount.Abs()
		balance = t.BalanceAfter
		return nil
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if expired {
		// The reservation outlived its window before the sweep got to it.
		// Give the tokens back, then report the expiry to the caller.
		if _, rerr := s.refund(ctx, reservationKey, "refunded: confirm arrived after expiry"); rerr != nil && !errors.Is(rerr, domain.ErrReservationNotFound) {
			s.log.Error().Err(rerr).Str("reservation", reservationKey).Msg("CRITICAL: refund of expired reservation failed; tokens stuck pending reconciliation")
		}
		return decimal.Zero, decimal.Zero, domain.ErrReservationExpired
	}

	s.dropCached(reservationKey)
	metrics.IncLedgerOp("confirmed")
	s.log.Debug().Str("reservation", reservationKey).Str("spent", spent.StringFixed(2)).Msg("reservation confirmed")
	return spent, balance, nil
}

func (s *tokenService) Refund(ctx context.Context, reservationKey string) (decimal.Decimal, error) {
	return s.refund(ctx, reservationKey, "refunded")
}

func (s *tokenService) refund(ctx context.Context, reservationKey, description string) (decimal.Decimal, error) {
	var refunded decimal.Decimal

	err := s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t, err := s.txns.FindPendingByReservationKey(ctx, tx, reservationKey)
		if err != nil {
			return err
		}
		acct, err := s.accounts.FindByIDForUpdate(ctx, tx, t.UserID)
		if err != nil {
			return err
		}
		amount := t.Amount.Abs()
		if err := s.accounts.UpdateBalance(ctx, tx, t.UserID, acct.Balance.Add(amount)); err != nil {
			return err
		}
		if err := s.txns.Finalize(ctx, tx, t.ID, model.TxRefunded, description); err != nil {
			return err
		}
		refunded = amount
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.dropCached(reservationKey)
	metrics.IncLedgerOp("refunded")
	s.log.Debug().Str("reservation", reservationKey).Str("amount", refunded.StringFixed(2)).Msg("reservation refunded")
	return refunded, nil
}

func (s *tokenService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()

	// Fast path: reservations born in this process.
	s.mu.Lock()
	var local []string
	for key, r := range s.reservations {
		if r.Expired(now) {
			local = append(local, key)
		}
	}
	s.mu.Unlock()

	swept := 0
	for _, key := range local {
		if _, err := s.refund(ctx, key, "refunded: reservation expired"); err != nil {
			if !errors.Is(err, domain.ErrReservationNotFound) {
				s.log.Error().Err(err).Str("reservation", key).Msg("expiry refund failed")
				continue
			}
			// Lost the race with a confirm/refund; the cache entry is dead.
			s.dropCached(key)
			continue
		}
		swept++
	}

	// Durable scan: reservations created by any process instance.
	pending, err := s.txns.ListExpiredPending(ctx, repository.NoTX, now, sweepBatch)
	if err != nil {
		return swept, err
	}
	for _, t := range pending {
		if _, err := s.refund(ctx, t.ReservationKey, "refunded: reservation expired"); err != nil {
			if errors.Is(err, domain.ErrReservationNotFound) {
				continue
			}
			s.log.Error().Err(err).Str("reservation", t.ReservationKey).Msg("expiry refund failed")
			continue
		}
		swept++
	}

	if swept > 0 {
		metrics.AddSweptReservations(swept)
		s.log.Info().Int("count", swept).Msg("expired reservations refunded")
	}
	return swept, nil
}

func (s *tokenService) SweepStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultStalePendingAge
	}
	cutoff := s.now().Add(-olderThan)

	stale, err := s.txns.ListPendingOlderThan(ctx, repository.NoTX, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, t := range stale {
		if _, err := s.refund(ctx, t.ReservationKey, "refunded: stale pending transaction recovered at startup"); err != nil {
			if errors.Is(err, domain.ErrReservationNotFound) {
				continue
			}
			s.log.Error().Err(err).Str("reservation", t.ReservationKey).Msg("stale pending refund failed")
			continue
		}
		swept++
	}
	if swept > 0 {
		metrics.AddSweptReservations(swept)
		s.log.Warn().Int("count", swept).Msg("stale pending transactions force-refunded")
	}
	return swept, nil
}

func (s *tokenService) Recharge(ctx context.Context, adminID, targetEmail string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrInvalidArgument
	}
	admin, err := s.accounts.FindByID(ctx, repository.NoTX, adminID)
	if err != nil {
		return decimal.Zero, err
	}
	if !admin.IsAdmin() {
		return decimal.Zero, domain.ErrNotAuthorized
	}
	target, err := s.accounts.FindByEmail(ctx, repository.NoTX, targetEmail)
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err = s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acct, err := s.accounts.FindByIDForUpdate(ctx, tx, target.ID)
		if err != nil {
			return err
		}
		balance = acct.Balance.Add(amount)
		if err := s.accounts.UpdateBalance(ctx, tx, acct.ID, balance); err != nil {
			return err
		}
		return s.txns.Save(ctx, tx, &model.Transaction{
			UserID:        acct.ID,
			OperationType: model.OpAdminRecharge,
			OperationID:   adminID,
			Amount:        amount,
			BalanceBefore: acct.Balance,
			BalanceAfter:  balance,
			Status:        model.TxCompleted,
			Description:   "recharge by administrator " + adminID,
			CreatedAt:     s.now(),
		})
	})
	if err != nil {
		return decimal.Zero, err
	}

	metrics.IncLedgerOp("recharged")
	s.log.Info().Str("admin_id", adminID).Str("user_id", target.ID).
		Str("amount", amount.StringFixed(2)).Msg("account recharged")
	return balance, nil
}

func (s *tokenService) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	acct, err := s.accounts.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

func (s *tokenService) Transactions(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.txns.ListByUser(ctx, repository.NoTX, userID, limit)
}

func (s *tokenService) dropCached(key string) {
	s.mu.Lock()
	delete(s.reservations, key)
	s.mu.Unlock()
}
