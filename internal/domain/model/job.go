package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusAborted   JobStatus = "ABORTED"
)

// JobParams are embedded in the job row so any worker can finalize the
// reservation that paid for the job.
type JobParams struct {
	ReservationKey string          `json:"reservation_key"`
	QuotedCost     decimal.Decimal `json:"quoted_cost"`
	ModelOptions   map[string]any  `json:"model_options,omitempty"`
}

// Job is an asynchronous inference task. The terminal status is set
// exactly once, by the worker or by the enqueue-failure path.
type Job struct {
	ID            string
	UserID        string
	DatasetID     string
	ModelID       string
	Status        JobStatus
	Params        JobParams
	Result        *InferenceResult
	LastError     string
	TokenRefunded bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusAborted:
		return true
	}
	return false
}

// InferenceResult is the payload the black-box collaborator returns for a
// completed job.
type InferenceResult struct {
	Images []ProcessedImage `json:"images,omitempty"`
	Videos []ProcessedVideo `json:"videos,omitempty"`
}

type ProcessedImage struct {
	OriginalPath string `json:"originalPath"`
	OutputPath   string `json:"outputPath"`
}

type ProcessedVideo struct {
	OriginalVideoID string `json:"originalVideoId"`
	OutputPath      string `json:"outputPath"`
}
