package adapter

import (
	"context"
	"time"

	"inpaint-backend/internal/domain/model"
)

// JobState is the queue-side view of a job's lifecycle, distinct from the
// persisted model.JobStatus owned by the orchestrator.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateDelayed   JobState = "delayed"
)

// JobPayload is what travels through the queue. The worker re-reads the
// dataset and job row from storage; the payload only carries correlation
// ids plus enough structure to validate at enqueue time.
type JobPayload struct {
	JobID     string `json:"job_id"`
	UserID    string `json:"user_id"`
	DatasetID string `json:"dataset_id"`
	PairCount int    `json:"pair_count"`
}

// Delivery is one dequeued unit of work.
type Delivery struct {
	ID      string
	Payload JobPayload
	Attempt int
}

// QueueStatus is the answer to a status poll.
type QueueStatus struct {
	State      JobState
	Progress   int
	Attempts   int
	Result     *model.InferenceResult
	Failure    string
	EnqueuedAt time.Time
}

// JobQueue is a durable FIFO-with-retry queue with at-least-once delivery.
// A delivery that is neither Acked nor Nacked within the visibility window
// is considered stalled and requeued, counted against the same attempt
// budget.
type JobQueue interface {
	// Enqueue validates the payload structurally (at least one processable
	// pair, correlation ids present; domain.ErrInvalidJobData otherwise)
	// and persists it for asynchronous pickup. The returned identifier is
	// the payload's JobID when set, otherwise queue-assigned.
	Enqueue(ctx context.Context, p JobPayload) (string, error)
	// Dequeue returns the next waiting delivery or domain.ErrNotFound when
	// the lane is empty.
	Dequeue(ctx context.Context) (*Delivery, error)
	// Heartbeat extends the visibility window of an active delivery.
	Heartbeat(ctx context.Context, id string) error
	Progress(ctx context.Context, id string, pct int) error
	// Ack finalizes a delivery as completed with its return value.
	Ack(ctx context.Context, id string, result *model.InferenceResult) error
	// Nack records a failed attempt. While attempts remain the job moves
	// to the delayed set with exponential backoff and Nack reports
	// retried=true; after the budget is exhausted the job is failed
	// permanently with the given reason.
	Nack(ctx context.Context, id string, reason string) (retried bool, err error)
	// Status reports queue state and progress. Unknown or garbage-collected
	// ids yield domain.ErrJobNotFound.
	Status(ctx context.Context, id string) (*QueueStatus, error)
}
