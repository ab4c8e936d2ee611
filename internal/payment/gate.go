// Package payment talks to the external payment gate and watches pending
// payments until they are confirmed.
package payment

import (
	"context"
	"strings"

	"github.com/cuongbtq/invoicegen/internal/domain"
)

// Request asks the gate for a payment reference for one job.
type Request struct {
	JobID               string
	InputHash           string
	PurchaserIdentifier string
}

// Payment is the gate's answer to a Request.
type Payment struct {
	Reference string
	Metadata  map[string]any
}

// Gate is the external payment gate.
type Gate interface {
	Request(ctx context.Context, req Request) (Payment, error)
	Status(ctx context.Context, reference string) (string, error)
	Complete(ctx context.Context, reference, resultHash string) error
}

// NormalizeStatus maps the gate's status vocabulary onto the values folded
// into job status responses.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed", "paid", "completed", "complete", "funds_locked", "fundslocked", "result_submitted":
		return domain.PaymentConfirmed
	case "pending", "awaiting", "waiting", "requested", "created":
		return domain.PaymentPending
	case "":
		return domain.PaymentUnknown
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}

// IsConfirmed reports whether a gate status means the job may run.
func IsConfirmed(s string) bool {
	return NormalizeStatus(s) == domain.PaymentConfirmed
}
