//go:build !integration

package usecase_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/adapter"
	"inpaint-backend/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

// =============================
// Transaction manager
// =============================

type noTx struct{}

// MockTxManager serializes callbacks with a mutex, standing in for the
// row lock that linearizes ledger operations against a real database.
type MockTxManager struct {
	mu sync.Mutex

	WithTxFunc func(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, opts, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, noTx{})
}

// =============================
// Repositories
// =============================

// ---- Accounts ----

type MockAccountRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Account

	SaveFunc          func(ctx context.Context, tx repository.Tx, a *model.Account) error
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.Account, error)
	UpdateBalanceFunc func(ctx context.Context, tx repository.Tx, id string, balance decimal.Decimal) error
}

var _ repository.AccountRepository = (*MockAccountRepo)(nil)

func NewMockAccountRepo() *MockAccountRepo {
	return &MockAccountRepo{byID: make(map[string]*model.Account)}
}

func (m *MockAccountRepo) Put(a *model.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.byID[a.ID] = &cp
}

func (m *MockAccountRepo) Save(ctx context.Context, tx repository.Tx, a *model.Account) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, a)
	}
	m.Put(a)
	return nil
}

func (m *MockAccountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Account, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(email)
	for _, a := range m.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockAccountRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.Account, error) {
	return m.FindByID(ctx, tx, id)
}

func (m *MockAccountRepo) UpdateBalance(ctx context.Context, tx repository.Tx, id string, balance decimal.Decimal) error {
	if m.UpdateBalanceFunc != nil {
		return m.UpdateBalanceFunc(ctx, tx, id, balance)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Balance = balance
	return nil
}

// ---- Transactions ----

type MockTransactionRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Transaction

	SaveFunc     func(ctx context.Context, tx repository.Tx, t *model.Transaction) error
	FinalizeFunc func(ctx context.Context, tx repository.Tx, id string, status model.TransactionStatus, description string) error
}

var _ repository.TransactionRepository = (*MockTransactionRepo)(nil)

func NewMockTransactionRepo() *MockTransactionRepo {
	return &MockTransactionRepo{rows: make(map[string]*model.Transaction)}
}

func (m *MockTransactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	cp := *t
	m.rows[t.ID] = &cp
	return nil
}

func (m *MockTransactionRepo) FindPendingByReservationKey(ctx context.Context, tx repository.Tx, key string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.ReservationKey == key && t.Status == model.TxPending {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrReservationNotFound
}

func (m *MockTransactionRepo) Finalize(ctx context.Context, tx repository.Tx, id string, status model.TransactionStatus, description string) error {
	if m.FinalizeFunc != nil {
		return m.FinalizeFunc(ctx, tx, id, status, description)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok || t.Status != model.TxPending {
		return domain.ErrReservationNotFound
	}
	t.Status = status
	t.Description = description
	return nil
}

func (m *MockTransactionRepo) ListExpiredPending(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, t := range m.rows {
		if t.Status == model.TxPending && t.ValidUntil != nil && now.After(*t.ValidUntil) {
			cp := *t
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockTransactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, t := range m.rows {
		if t.Status == model.TxPending && t.CreatedAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockTransactionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, t := range m.rows {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// CountByStatus is a test-side assertion helper.
func (m *MockTransactionRepo) CountByStatus(status model.TransactionStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.rows {
		if t.Status == status {
			n++
		}
	}
	return n
}

// ---- Datasets ----

type MockDatasetRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Dataset

	SaveFunc     func(ctx context.Context, tx repository.Tx, d *model.Dataset) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Dataset, error)
}

var _ repository.DatasetRepository = (*MockDatasetRepo)(nil)

func NewMockDatasetRepo() *MockDatasetRepo {
	return &MockDatasetRepo{byID: make(map[string]*model.Dataset)}
}

func (m *MockDatasetRepo) Put(d *model.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.byID[d.ID] = &cp
}

func (m *MockDatasetRepo) Save(ctx context.Context, tx repository.Tx, d *model.Dataset) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, d)
	}
	m.Put(d)
	return nil
}

func (m *MockDatasetRepo) FindByOwnerAndName(ctx context.Context, tx repository.Tx, ownerID, name string) (*model.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.OwnerID == ownerID && d.Name == name {
			cp := *d
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockDatasetRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Dataset, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MockDatasetRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string) ([]*model.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Dataset
	for _, d := range m.byID {
		if d.OwnerID == ownerID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockDatasetRepo) Delete(ctx context.Context, tx repository.Tx, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok || d.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

// ---- Jobs ----

type MockJobRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Job

	SaveFunc func(ctx context.Context, tx repository.Tx, j *model.Job) error
}

var _ repository.JobRepository = (*MockJobRepo)(nil)

func NewMockJobRepo() *MockJobRepo {
	return &MockJobRepo{byID: make(map[string]*model.Job)}
}

func (m *MockJobRepo) Save(ctx context.Context, tx repository.Tx, j *model.Job) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, j)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.byID[j.ID] = &cp
	return nil
}

func (m *MockJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MockJobRepo) FindByOwnerAndID(ctx context.Context, tx repository.Tx, ownerID, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok || j.UserID != ownerID {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MockJobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.byID {
		if j.UserID == ownerID {
			cp := *j
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// =============================
// Adapters
// =============================

// ---- Queue ----

type MockQueue struct {
	mu       sync.Mutex
	Enqueued []adapter.JobPayload
	statuses map[string]*adapter.QueueStatus

	EnqueueFunc func(ctx context.Context, p adapter.JobPayload) (string, error)
	StatusFunc  func(ctx context.Context, id string) (*adapter.QueueStatus, error)
}

var _ adapter.JobQueue = (*MockQueue)(nil)

func NewMockQueue() *MockQueue {
	return &MockQueue{statuses: make(map[string]*adapter.QueueStatus)}
}

func (m *MockQueue) SetStatus(id string, st *adapter.QueueStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = st
}

func (m *MockQueue) Enqueue(ctx context.Context, p adapter.JobPayload) (string, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Enqueued = append(m.Enqueued, p)
	id := p.JobID
	if id == "" {
		id = uuid.NewString()
	}
	m.statuses[id] = &adapter.QueueStatus{State: adapter.StateWaiting}
	return id, nil
}

func (m *MockQueue) Dequeue(ctx context.Context) (*adapter.Delivery, error) {
	return nil, domain.ErrNotFound
}

func (m *MockQueue) Heartbeat(ctx context.Context, id string) error { return nil }

func (m *MockQueue) Progress(ctx context.Context, id string, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.statuses[id]; ok {
		st.Progress = pct
	}
	return nil
}

func (m *MockQueue) Ack(ctx context.Context, id string, result *model.InferenceResult) error {
	return nil
}

func (m *MockQueue) Nack(ctx context.Context, id string, reason string) (bool, error) {
	return false, nil
}

func (m *MockQueue) Status(ctx context.Context, id string) (*adapter.QueueStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *st
	return &cp, nil
}

// ---- Inference engine ----

type MockInference struct {
	mu    sync.Mutex
	Calls int

	ProcessFunc func(ctx context.Context, userID string, ds *model.Dataset, params model.JobParams) (*model.InferenceResult, error)
}

var _ adapter.InferenceAdapter = (*MockInference)(nil)

func (m *MockInference) Process(ctx context.Context, userID string, ds *model.Dataset, params model.JobParams) (*model.InferenceResult, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, userID, ds, params)
	}
	return &model.InferenceResult{}, nil
}

func (m *MockInference) Healthy(ctx context.Context) error { return nil }
