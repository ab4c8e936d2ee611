package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the job table
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when inserting a job id that is already taken
	ErrJobExists = errors.New("job already exists")

	// ErrInvalidTransition is returned when a status change is not an edge of the lifecycle graph
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyClaimed is returned when a conditional transition loses the race
	ErrAlreadyClaimed = errors.New("job already claimed or not in expected status")

	// ErrJobTerminal is returned when input is provided for a failed job
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrJobFinalized is returned when input is provided after the completion signal
	ErrJobFinalized = errors.New("job has been finalized")

	// ErrInvalidInput is returned for malformed or missing request fields
	ErrInvalidInput = errors.New("invalid input")

	// ErrPaymentUnavailable is returned when the payment gate cannot open a payment
	ErrPaymentUnavailable = errors.New("payment gate unavailable")

	// ErrInvalidPayload is returned when a dispatch message cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable marks the error as transient.
func (e *RetryableError) Retryable() bool {
	return true
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether any error in the chain declares itself
// transient through a Retryable() bool method.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Error kinds recorded on failed jobs.
const (
	KindAdapter     = "adapter"
	KindConsistency = "consistency"
	KindInternal    = "internal"
)

// Pipeline stages, in execution order.
const (
	StageRegulation  = "regulation"
	StageNormalize   = "normalize"
	StageStructuring = "structuring"
	StageValidation  = "validation"
	StageRender      = "render"
)

// JobError is the structured error persisted on a failed job.
type JobError struct {
	Stage     string `json:"stage"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s %s error: %s", e.Stage, e.Kind, e.Message)
}

// NewJobError captures err verbatim for the given stage.
func NewJobError(stage, kind string, err error) *JobError {
	return &JobError{
		Stage:     stage,
		Kind:      kind,
		Message:   err.Error(),
		Retryable: IsRetryable(err),
	}
}
