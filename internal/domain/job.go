package domain

import (
	"time"

	"github.com/cuongbtq/invoicegen/internal/invoice"
)

// Status is a job lifecycle state.
type Status string

// Job status constants
const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Payment status values folded into status responses.
const (
	PaymentPending   = "pending"
	PaymentConfirmed = "confirmed"
	PaymentUnknown   = "unknown"
	PaymentError     = "error"
)

// transitions is the full lifecycle graph. completed -> running is the
// re-entry edge taken when a caller supplies corrections.
var transitions = map[Status][]Status{
	StatusAwaitingPayment: {StatusRunning},
	StatusRunning:         {StatusCompleted, StatusFailed},
	StatusCompleted:       {StatusRunning},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s ends a pipeline pass.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job is one invoice-generation request and everything accumulated for it.
type Job struct {
	ID        string    `json:"job_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PaymentReference       string         `json:"payment_reference"`
	PaymentStatus          string         `json:"payment_status"`
	PaymentMetadata        map[string]any `json:"payment_metadata,omitempty"`
	PaymentCompletionError string         `json:"payment_completion_error,omitempty"`

	Input invoice.Facts `json:"input_data"`

	// RegulatoryContextSet distinguishes "looked up, nothing found" from
	// "not looked up yet"; the lookup runs at most once per job.
	RegulatoryContext    string `json:"regulatory_context"`
	RegulatoryContextSet bool   `json:"regulatory_context_set"`

	Record       *invoice.Record `json:"record,omitempty"`
	Result       string          `json:"result,omitempty"`
	ResultDigest string          `json:"result_digest,omitempty"`
	Analysis     string          `json:"analysis,omitempty"`
	Error        *JobError       `json:"error,omitempty"`
	Finalized    bool            `json:"finalized"`
}

// Clone returns a deep copy so readers never share mutable state with the
// job table.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Input = j.Input.Clone()
	if j.PaymentMetadata != nil {
		out.PaymentMetadata = make(map[string]any, len(j.PaymentMetadata))
		for k, v := range j.PaymentMetadata {
			out.PaymentMetadata[k] = v
		}
	}
	if j.Record != nil {
		rec := j.Record.Clone()
		out.Record = &rec
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return &out
}
