package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cuongbtq/invoicegen/internal/domain"
)

// LocalGate is an in-process gate for the CLI and for tests. With
// AutoConfirm set every payment is confirmed as soon as it is requested.
type LocalGate struct {
	AutoConfirm bool

	mu        sync.Mutex
	status    map[string]string
	completed map[string]string
}

// NewLocalGate creates an in-process gate.
func NewLocalGate(autoConfirm bool) *LocalGate {
	return &LocalGate{
		AutoConfirm: autoConfirm,
		status:      make(map[string]string),
		completed:   make(map[string]string),
	}
}

func (g *LocalGate) Request(_ context.Context, req Request) (Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ref := "local-" + uuid.NewString()
	g.status[ref] = domain.PaymentPending
	if g.AutoConfirm {
		g.status[ref] = domain.PaymentConfirmed
	}
	return Payment{
		Reference: ref,
		Metadata: map[string]any{
			"input_hash":                req.InputHash,
			"identifier_from_purchaser": req.PurchaserIdentifier,
		},
	}, nil
}

func (g *LocalGate) Status(_ context.Context, reference string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.status[reference]
	if !ok {
		return "", fmt.Errorf("unknown payment reference %q", reference)
	}
	return s, nil
}

func (g *LocalGate) Complete(_ context.Context, reference, resultHash string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.status[reference]; !ok {
		return fmt.Errorf("unknown payment reference %q", reference)
	}
	g.completed[reference] = resultHash
	return nil
}

// Confirm marks a payment as confirmed.
func (g *LocalGate) Confirm(reference string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[reference] = domain.PaymentConfirmed
}

// Completion returns the result hash submitted for reference.
func (g *LocalGate) Completion(reference string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.completed[reference]
	return h, ok
}
