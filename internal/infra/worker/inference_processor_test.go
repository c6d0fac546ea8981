//go:build !integration

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/adapter"
	"inpaint-backend/internal/domain/ports/repository"
	"inpaint-backend/internal/usecase"
)

func testLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

// ---- fakes ----

type fakeQueue struct {
	mu       sync.Mutex
	retried  bool
	acked    []string
	nacked   []string
	progress map[string]int
}

var _ adapter.JobQueue = (*fakeQueue)(nil)

func newFakeQueue(retried bool) *fakeQueue {
	return &fakeQueue{retried: retried, progress: make(map[string]int)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, p adapter.JobPayload) (string, error) {
	return p.JobID, nil
}
func (q *fakeQueue) Dequeue(ctx context.Context) (*adapter.Delivery, error) {
	return nil, domain.ErrNotFound
}
func (q *fakeQueue) Heartbeat(ctx context.Context, id string) error { return nil }
func (q *fakeQueue) Progress(ctx context.Context, id string, pct int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.progress[id] = pct
	return nil
}
func (q *fakeQueue) Ack(ctx context.Context, id string, result *model.InferenceResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}
func (q *fakeQueue) Nack(ctx context.Context, id string, reason string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacked = append(q.nacked, id)
	return q.retried, nil
}
func (q *fakeQueue) Status(ctx context.Context, id string) (*adapter.QueueStatus, error) {
	return nil, domain.ErrJobNotFound
}

type fakeJobs struct {
	mu   sync.Mutex
	byID map[string]*model.Job
}

var _ repository.JobRepository = (*fakeJobs)(nil)

func newFakeJobs(jobs ...*model.Job) *fakeJobs {
	f := &fakeJobs{byID: make(map[string]*model.Job)}
	for _, j := range jobs {
		cp := *j
		f.byID[j.ID] = &cp
	}
	return f
}

func (f *fakeJobs) Save(ctx context.Context, tx repository.Tx, j *model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.byID[j.ID] = &cp
	return nil
}

func (f *fakeJobs) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) FindByOwnerAndID(ctx context.Context, tx repository.Tx, ownerID, id string) (*model.Job, error) {
	return f.FindByID(ctx, tx, id)
}

func (f *fakeJobs) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, limit int) ([]*model.Job, error) {
	return nil, nil
}

type fakeDatasets struct {
	ds *model.Dataset
}

var _ repository.DatasetRepository = (*fakeDatasets)(nil)

func (f *fakeDatasets) Save(ctx context.Context, tx repository.Tx, d *model.Dataset) error {
	return nil
}
func (f *fakeDatasets) FindByOwnerAndName(ctx context.Context, tx repository.Tx, ownerID, name string) (*model.Dataset, error) {
	return f.ds, nil
}
func (f *fakeDatasets) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Dataset, error) {
	if f.ds == nil {
		return nil, domain.ErrNotFound
	}
	return f.ds, nil
}
func (f *fakeDatasets) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string) ([]*model.Dataset, error) {
	return nil, nil
}
func (f *fakeDatasets) Delete(ctx context.Context, tx repository.Tx, ownerID, id string) error {
	return nil
}

type fakeTokens struct {
	mu        sync.Mutex
	confirmed []string
	refunded  []string

	confirmErr error
	refundErr  error
}

var _ usecase.TokenService = (*fakeTokens)(nil)

func (f *fakeTokens) Reserve(ctx context.Context, userID string, amount decimal.Decimal, category model.OperationType, operationRef string) (string, error) {
	return "", errors.New("not used")
}
func (f *fakeTokens) Confirm(ctx context.Context, key string) (decimal.Decimal, decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return decimal.Zero, decimal.Zero, f.confirmErr
	}
	f.confirmed = append(f.confirmed, key)
	return decimal.Zero, decimal.Zero, nil
}
func (f *fakeTokens) Refund(ctx context.Context, key string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return decimal.Zero, f.refundErr
	}
	f.refunded = append(f.refunded, key)
	return decimal.Zero, nil
}
func (f *fakeTokens) SweepExpired(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeTokens) SweepStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}
func (f *fakeTokens) Recharge(ctx context.Context, adminID, targetEmail string, amount decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeTokens) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeTokens) Transactions(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	return nil, nil
}

type fakeEngine struct {
	result *model.InferenceResult
	err    error
	calls  int
}

var _ adapter.InferenceAdapter = (*fakeEngine)(nil)

func (f *fakeEngine) Process(ctx context.Context, userID string, ds *model.Dataset, params model.JobParams) (*model.InferenceResult, error) {
	f.calls++
	return f.result, f.err
}
func (f *fakeEngine) Healthy(ctx context.Context) error { return nil }

// ---- fixtures ----

func pendingJob() *model.Job {
	return &model.Job{
		ID:        "job-1",
		UserID:    "u1",
		DatasetID: "ds-1",
		ModelID:   "lama-v2",
		Status:    model.JobStatusPending,
		Params: model.JobParams{
			ReservationKey: "res-1",
			QuotedCost:     decimal.RequireFromString("5.75"),
		},
		CreatedAt: time.Now(),
	}
}

func delivery() *adapter.Delivery {
	return &adapter.Delivery{
		ID:      "job-1",
		Attempt: 1,
		Payload: adapter.JobPayload{JobID: "job-1", UserID: "u1", DatasetID: "ds-1", PairCount: 2},
	}
}

func newProcessor(queue *fakeQueue, jobs *fakeJobs, tokens *fakeTokens, engine *fakeEngine) *InferenceProcessor {
	datasets := &fakeDatasets{ds: &model.Dataset{ID: "ds-1", OwnerID: "u1", Pairs: []model.Pair{
		{ImagePath: "a.png", MaskPath: "a_m.png"},
	}}}
	return NewInferenceProcessor(queue, engine, jobs, datasets, tokens, 30*time.Second, testLogger())
}

// ---- tests ----

func TestHandleSuccessConfirmsAndAcks(t *testing.T) {
	queue := newFakeQueue(false)
	jobs := newFakeJobs(pendingJob())
	tokens := &fakeTokens{}
	engine := &fakeEngine{result: &model.InferenceResult{
		Images: []model.ProcessedImage{{OriginalPath: "a.png", OutputPath: "out/a.png"}},
	}}

	p := newProcessor(queue, jobs, tokens, engine)
	p.handle(context.Background(), delivery())

	job, _ := jobs.FindByID(context.Background(), repository.NoTX, "job-1")
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("status: want COMPLETED, got %s", job.Status)
	}
	if job.Result == nil || len(job.Result.Images) != 1 {
		t.Fatalf("result not persisted: %+v", job.Result)
	}
	if len(tokens.confirmed) != 1 || tokens.confirmed[0] != "res-1" {
		t.Fatalf("confirmed: %v", tokens.confirmed)
	}
	if len(tokens.refunded) != 0 {
		t.Fatalf("unexpected refunds: %v", tokens.refunded)
	}
	if len(queue.acked) != 1 {
		t.Fatalf("acked: %v", queue.acked)
	}
}

func TestHandleRetryKeepsReservation(t *testing.T) {
	queue := newFakeQueue(true)
	jobs := newFakeJobs(pendingJob())
	tokens := &fakeTokens{}
	engine := &fakeEngine{err: errors.New("engine busy")}

	p := newProcessor(queue, jobs, tokens, engine)
	p.handle(context.Background(), delivery())

	job, _ := jobs.FindByID(context.Background(), repository.NoTX, "job-1")
	if job.Status != model.JobStatusPending {
		t.Fatalf("status: want PENDING while retrying, got %s", job.Status)
	}
	if job.LastError == "" {
		t.Fatal("attempt error not recorded")
	}
	// The hold stays in place while the queue retries.
	if len(tokens.refunded) != 0 || len(tokens.confirmed) != 0 {
		t.Fatalf("ledger touched during retry: refunded=%v confirmed=%v", tokens.refunded, tokens.confirmed)
	}
	if len(queue.nacked) != 1 {
		t.Fatalf("nacked: %v", queue.nacked)
	}
}

func TestHandleFinalFailureRefunds(t *testing.T) {
	queue := newFakeQueue(false)
	jobs := newFakeJobs(pendingJob())
	tokens := &fakeTokens{}
	engine := &fakeEngine{err: errors.New("engine crashed")}

	p := newProcessor(queue, jobs, tokens, engine)
	p.handle(context.Background(), delivery())

	job, _ := jobs.FindByID(context.Background(), repository.NoTX, "job-1")
	if job.Status != model.JobStatusFailed {
		t.Fatalf("status: want FAILED, got %s", job.Status)
	}
	if !job.TokenRefunded {
		t.Fatal("token_refunded flag not set")
	}
	if len(tokens.refunded) != 1 || tokens.refunded[0] != "res-1" {
		t.Fatalf("refunded: %v", tokens.refunded)
	}
}

func TestHandleFinalFailureRefundFails(t *testing.T) {
	queue := newFakeQueue(false)
	jobs := newFakeJobs(pendingJob())
	tokens := &fakeTokens{refundErr: errors.New("db down")}
	engine := &fakeEngine{err: errors.New("engine crashed")}

	p := newProcessor(queue, jobs, tokens, engine)
	p.handle(context.Background(), delivery())

	// The job still reaches FAILED; the flag records that the refund is
	// outstanding and the sweep owns it now.
	job, _ := jobs.FindByID(context.Background(), repository.NoTX, "job-1")
	if job.Status != model.JobStatusFailed {
		t.Fatalf("status: want FAILED, got %s", job.Status)
	}
	if job.TokenRefunded {
		t.Fatal("token_refunded must stay false when the refund failed")
	}
}

func TestHandleAlreadySettledReservation(t *testing.T) {
	queue := newFakeQueue(false)
	jobs := newFakeJobs(pendingJob())
	tokens := &fakeTokens{refundErr: domain.ErrReservationNotFound}
	engine := &fakeEngine{err: errors.New("engine crashed")}

	p := newProcessor(queue, jobs, tokens, engine)
	p.handle(context.Background(), delivery())

	// A reservation already settled by the sweep counts as refunded.
	job, _ := jobs.FindByID(context.Background(), repository.NoTX, "job-1")
	if !job.TokenRefunded {
		t.Fatal("already-settled reservation should report refunded")
	}
}

func TestHandleOrphanDeliveryNacks(t *testing.T) {
	queue := newFakeQueue(false)
	jobs := newFakeJobs() // no job row for the delivery
	tokens := &fakeTokens{}
	engine := &fakeEngine{}

	p := newProcessor(queue, jobs, tokens, engine)
	p.handle(context.Background(), delivery())

	// The delivery must leave the active list right away instead of
	// waiting out the visibility window.
	if len(queue.nacked) != 1 || queue.nacked[0] != "job-1" {
		t.Fatalf("nacked: %v", queue.nacked)
	}
	if engine.calls != 0 {
		t.Fatalf("engine called for orphan delivery: %d", engine.calls)
	}
	if len(tokens.refunded) != 0 || len(tokens.confirmed) != 0 {
		t.Fatalf("ledger touched: refunded=%v confirmed=%v", tokens.refunded, tokens.confirmed)
	}
}

func TestHandleRedeliveredTerminalJobAcks(t *testing.T) {
	queue := newFakeQueue(false)
	done := pendingJob()
	done.Status = model.JobStatusCompleted
	done.Result = &model.InferenceResult{
		Images: []model.ProcessedImage{{OriginalPath: "a.png", OutputPath: "out/a.png"}},
	}
	jobs := newFakeJobs(done)
	tokens := &fakeTokens{}
	engine := &fakeEngine{}

	p := newProcessor(queue, jobs, tokens, engine)
	p.handle(context.Background(), delivery())

	// A lost ack redelivery is acked straight away, without rerunning the
	// engine or touching the already-settled reservation.
	if len(queue.acked) != 1 || queue.acked[0] != "job-1" {
		t.Fatalf("acked: %v", queue.acked)
	}
	if engine.calls != 0 {
		t.Fatalf("engine rerun for settled job: %d", engine.calls)
	}
	if len(tokens.confirmed) != 0 || len(tokens.refunded) != 0 {
		t.Fatalf("ledger touched: confirmed=%v refunded=%v", tokens.confirmed, tokens.refunded)
	}
	job, _ := jobs.FindByID(context.Background(), repository.NoTX, "job-1")
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("status rewritten: %s", job.Status)
	}
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(2, testLogger())
	pool.Start(ctx)

	var mu sync.Mutex
	ran := 0
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		err := pool.Submit(func(ctx context.Context) error {
			mu.Lock()
			ran++
			if ran == 4 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}
	pool.Stop()
}
