package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/invoicegen/internal/domain"
	"github.com/cuongbtq/invoicegen/internal/invoice"
	"github.com/cuongbtq/invoicegen/internal/normalizer"
	"github.com/cuongbtq/invoicegen/internal/payment"
	"github.com/cuongbtq/invoicegen/internal/regulation"
	"github.com/cuongbtq/invoicegen/internal/render"
	"github.com/cuongbtq/invoicegen/internal/storage"
	"github.com/cuongbtq/invoicegen/internal/structuring"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func irelandSwitzerland() invoice.Facts {
	return invoice.Facts{
		SenderName:          "Emerald Support Ltd",
		SenderAddress:       "1 Grand Canal Quay, Dublin",
		SenderCountry:       "Ireland",
		RecipientName:       "Alpen Handel AG",
		RecipientAddress:    "Bahnhofstrasse 10, Zurich",
		RecipientCountry:    "Switzerland",
		DueDate:             "15 March, 2025",
		Transactions:        "Customer service, 1, €30.00",
		PurchaserIdentifier: "buyer-1",
	}
}

// fakeRegulation fans out the same queries the Serper source would issue.
type fakeRegulation struct {
	mu      sync.Mutex
	lookups int
	queries []string
}

func (f *fakeRegulation) Lookup(_ context.Context, a, b string) []normalizer.Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++

	var blocks []normalizer.Block
	for _, q := range regulation.Queries(a, b) {
		f.queries = append(f.queries, q)
		blocks = append(blocks, normalizer.Block{
			Source: "https://regs.example/" + q,
			Text:   q + " requires a VAT number on every invoice.",
		})
	}
	return blocks
}

func (f *fakeRegulation) counts() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups, append([]string(nil), f.queries...)
}

type fakeStructurer struct {
	mu       sync.Mutex
	calls    int
	requests []structuring.Request
	fn       func(req structuring.Request) (structuring.Result, error)
	delay    time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeStructurer) Structure(ctx context.Context, req structuring.Request) (structuring.Result, error) {
	if err := ctx.Err(); err != nil {
		return structuring.Result{}, err
	}
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return recordFromFacts(req), nil
}

func (f *fakeStructurer) snapshot() (int, []structuring.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]structuring.Request(nil), f.requests...)
}

func recordFromFacts(req structuring.Request) structuring.Result {
	f := req.Facts
	return structuring.Result{
		Record: invoice.Record{
			SenderInfo:       []string{f.SenderName, f.SenderAddress},
			SenderCountry:    f.SenderCountry,
			RecipientInfo:    []string{f.RecipientName, f.RecipientAddress},
			RecipientCountry: f.RecipientCountry,
			DueDate:          f.DueDate,
			Descriptions:     []string{"Customer service"},
			Quantities:       []float64{1},
			UnitPrices:       []string{"€30.00"},
			LineTotals:       []string{"€30.00"},
			Total:            "€30.00",
			Currency:         "€",
		},
		Analysis: fmt.Sprintf("Customer service supplied from %s to %s. The recipient tax id is exempt "+
			"because the service is outside the scope of %s VAT.", f.SenderCountry, f.RecipientCountry, f.SenderCountry),
	}
}

type countingRenderer struct {
	inner *render.Renderer
	calls atomic.Int32
}

func (r *countingRenderer) Render(ctx context.Context, rec invoice.Record) (render.Document, error) {
	r.calls.Add(1)
	return r.inner.Render(ctx, rec)
}

// testGate wraps the local gate with switchable failures.
type testGate struct {
	*payment.LocalGate
	requests     atomic.Int32
	failStatus   atomic.Bool
	failComplete atomic.Bool
}

func (g *testGate) Request(ctx context.Context, req payment.Request) (payment.Payment, error) {
	g.requests.Add(1)
	return g.LocalGate.Request(ctx, req)
}

func (g *testGate) Status(ctx context.Context, ref string) (string, error) {
	if g.failStatus.Load() {
		return "", errors.New("gate unavailable")
	}
	return g.LocalGate.Status(ctx, ref)
}

func (g *testGate) Complete(ctx context.Context, ref, hash string) error {
	if g.failComplete.Load() {
		return errors.New("gate rejected result")
	}
	return g.LocalGate.Complete(ctx, ref, hash)
}

// spyStore records every status a job is stored in. With honorCtx set,
// Save fails on a canceled context the way a database driver does.
type spyStore struct {
	*storage.MemoryStore
	honorCtx atomic.Bool

	mu      sync.Mutex
	history map[string][]domain.Status
}

func (s *spyStore) record(id string, st domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[id] = append(s.history[id], st)
}

func (s *spyStore) Create(ctx context.Context, job *domain.Job) error {
	err := s.MemoryStore.Create(ctx, job)
	if err == nil {
		s.record(job.ID, job.Status)
	}
	return err
}

func (s *spyStore) Transition(ctx context.Context, id string, from, to domain.Status) (*domain.Job, error) {
	job, err := s.MemoryStore.Transition(ctx, id, from, to)
	if err == nil {
		s.record(id, to)
	}
	return job, err
}

func (s *spyStore) Save(ctx context.Context, job *domain.Job) error {
	if s.honorCtx.Load() && ctx.Err() != nil {
		return ctx.Err()
	}
	err := s.MemoryStore.Save(ctx, job)
	if err == nil {
		s.record(job.ID, job.Status)
	}
	return err
}

func (s *spyStore) assertLifecycle(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, statuses := range s.history {
		require.NotEmpty(t, statuses)
		assert.Equal(t, domain.StatusAwaitingPayment, statuses[0], "job %s", id)
		for i := 1; i < len(statuses); i++ {
			from, to := statuses[i-1], statuses[i]
			assert.True(t, from == to || domain.CanTransition(from, to),
				"job %s took %s -> %s", id, from, to)
		}
	}
}

type harness struct {
	orch       *Orchestrator
	store      *spyStore
	gate       *testGate
	monitor    *payment.Monitor
	regulation *fakeRegulation
	structurer *fakeStructurer
	renderer   *countingRenderer
}

func newHarness(t *testing.T, pollInterval time.Duration, opts ...Option) *harness {
	t.Helper()
	logger := discardLogger()

	var seq atomic.Int32
	r, err := render.New(render.Config{OutputDir: t.TempDir()}, logger,
		render.WithClock(func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }),
		render.WithNumberGenerator(func() (string, error) {
			return fmt.Sprintf("INV-%04d", seq.Add(1)), nil
		}),
	)
	require.NoError(t, err)

	h := &harness{
		store:      &spyStore{MemoryStore: storage.NewMemoryStore(), history: map[string][]domain.Status{}},
		gate:       &testGate{LocalGate: payment.NewLocalGate(false)},
		regulation: &fakeRegulation{},
		structurer: &fakeStructurer{},
		renderer:   &countingRenderer{inner: r},
	}
	h.monitor = payment.NewMonitor(h.gate, pollInterval, logger, payment.WithSettleInterval(5*time.Millisecond))
	h.orch = New(Deps{
		Store:      h.store,
		Gate:       h.gate,
		Monitor:    h.monitor,
		Regulation: h.regulation,
		Structurer: h.structurer,
		Renderer:   h.renderer,
	}, logger, opts...)
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) completedJob(t *testing.T, facts invoice.Facts) *domain.Job {
	t.Helper()
	ctx := context.Background()

	res, err := h.orch.Create(ctx, facts)
	require.NoError(t, err)
	require.NoError(t, h.orch.OnPaymentConfirmed(ctx, res.JobID))

	job, err := h.store.Get(ctx, res.JobID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, job.Status, "job error: %+v", job.Error)
	return job
}

func TestOrchestrator_IrelandToSwitzerland(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)
	assert.NotEmpty(t, res.PaymentReference)
	assert.NotEmpty(t, res.Metadata["input_hash"])

	require.NoError(t, h.orch.OnPaymentConfirmed(ctx, res.JobID))

	job, err := h.orch.GetStatus(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, domain.PaymentConfirmed, job.PaymentStatus)
	assert.Nil(t, job.Error)

	require.NotEmpty(t, job.Result)
	info, err := os.Stat(job.Result)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Contains(t, job.Analysis, "Ireland")
	assert.Contains(t, job.Analysis, "Switzerland")

	lookups, queries := h.regulation.counts()
	assert.Equal(t, 1, lookups)
	assert.Equal(t, []string{"Invoice regulations in Ireland", "Invoice regulations in Switzerland"}, queries)

	_, reqs := h.structurer.snapshot()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].RegulatoryContext, "Source: https://regs.example/Invoice regulations in Ireland")
	assert.Equal(t, job.RegulatoryContext, reqs[0].RegulatoryContext)

	digest, ok := h.gate.Completion(job.PaymentReference)
	assert.True(t, ok)
	assert.Equal(t, job.ResultDigest, digest)
	assert.Len(t, digest, 64)

	assert.Equal(t, 0, h.monitor.Open())
	h.store.assertLifecycle(t)
}

func TestOrchestrator_NoWorkBeforePayment(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)

	job, err := h.orch.ProvideInput(ctx, res.JobID, invoice.Facts{Notes: "Thank you for your business"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, job.Status)

	stored, err := h.store.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, "Thank you for your business", stored.Input.Notes)
	assert.False(t, stored.RegulatoryContextSet)

	lookups, _ := h.regulation.counts()
	calls, _ := h.structurer.snapshot()
	assert.Zero(t, lookups)
	assert.Zero(t, calls)
	assert.Zero(t, h.renderer.calls.Load())
	assert.Equal(t, 1, h.monitor.Open())
}

func TestOrchestrator_DuplicateConfirmationIsNoop(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	before := h.completedJob(t, irelandSwitzerland())

	content, err := os.ReadFile(before.Result)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.orch.OnPaymentConfirmed(ctx, before.ID))
	}

	after, err := h.store.Get(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Result, after.Result)
	assert.Equal(t, before.Analysis, after.Analysis)
	assert.Equal(t, before.ResultDigest, after.ResultDigest)

	again, err := os.ReadFile(after.Result)
	require.NoError(t, err)
	assert.Equal(t, content, again)

	calls, _ := h.structurer.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(1), h.renderer.calls.Load())
}

func TestOrchestrator_ProvideInputPlaceholdersKeepInput(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	before := h.completedJob(t, irelandSwitzerland())

	patch := invoice.Facts{
		SenderName:       "string",
		RecipientCountry: "N/A",
		DueDate:          "   ",
		Notes:            "null",
		Taxes:            "-",
	}
	job, err := h.orch.ProvideInput(ctx, before.ID, patch, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, before.Input, job.Input)

	stored, err := h.store.Get(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Input, stored.Input)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.NotEqual(t, before.Result, stored.Result)
	assert.FileExists(t, stored.Result)

	assert.Equal(t, int32(2), h.renderer.calls.Load())
	lookups, _ := h.regulation.counts()
	assert.Equal(t, 1, lookups)
}

func TestOrchestrator_ProvideInputPatchesOneField(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	before := h.completedJob(t, irelandSwitzerland())

	job, err := h.orch.ProvideInput(ctx, before.ID, invoice.Facts{DueDate: "30 April, 2025"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)

	want := before.Input
	want.DueDate = "30 April, 2025"

	stored, err := h.store.Get(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, want, stored.Input)
	require.NotNil(t, stored.Record)
	assert.Equal(t, "30 April, 2025", stored.Record.DueDate)
	assert.Equal(t, before.RegulatoryContext, stored.RegulatoryContext)

	lookups, queries := h.regulation.counts()
	assert.Equal(t, 1, lookups)
	assert.Len(t, queries, 2)

	calls, reqs := h.structurer.snapshot()
	require.Equal(t, 2, calls)
	assert.Equal(t, reqs[0].RegulatoryContext, reqs[1].RegulatoryContext)
	assert.Equal(t, "30 April, 2025", reqs[1].Facts.DueDate)
	h.store.assertLifecycle(t)
}

func TestOrchestrator_SameJurisdictionQueriedOnce(t *testing.T) {
	h := newHarness(t, 0)
	facts := irelandSwitzerland()
	facts.SenderCountry = "Germany"
	facts.RecipientCountry = "germany"

	h.completedJob(t, facts)

	lookups, queries := h.regulation.counts()
	assert.Equal(t, 1, lookups)
	assert.Equal(t, []string{"Invoice regulations in Germany"}, queries)
}

func TestOrchestrator_LineItemMismatchFails(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.structurer.fn = func(req structuring.Request) (structuring.Result, error) {
		res := recordFromFacts(req)
		res.Record.Descriptions = []string{"Setup", "Support", "Training"}
		res.Record.Quantities = []float64{1, 2}
		res.Record.UnitPrices = []string{"€10.00", "€10.00", "€10.00"}
		res.Record.LineTotals = []string{"€10.00", "€20.00", "€10.00"}
		res.Record.Total = "€40.00"
		return res, nil
	}

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)
	require.NoError(t, h.orch.OnPaymentConfirmed(ctx, res.JobID))

	job, err := h.orch.GetStatus(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, domain.StageValidation, job.Error.Stage)
	assert.Equal(t, domain.KindConsistency, job.Error.Kind)
	assert.Contains(t, job.Error.Message, "3 descriptions, 2 quantities")
	assert.Empty(t, job.Result)
	assert.Zero(t, h.renderer.calls.Load())
	assert.Equal(t, 0, h.monitor.Open())

	_, completed := h.gate.Completion(job.PaymentReference)
	assert.False(t, completed)

	_, err = h.orch.ProvideInput(ctx, res.JobID, invoice.Facts{Notes: "retry"}, "")
	assert.ErrorIs(t, err, domain.ErrJobTerminal)
	h.store.assertLifecycle(t)
}

func TestOrchestrator_StructuringFailureIsRecorded(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.structurer.fn = func(structuring.Request) (structuring.Result, error) {
		return structuring.Result{}, domain.NewRetryableError(errors.New("rate limited"))
	}

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)
	require.NoError(t, h.orch.OnPaymentConfirmed(ctx, res.JobID))

	job, err := h.store.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, domain.StageStructuring, job.Error.Stage)
	assert.Equal(t, domain.KindAdapter, job.Error.Kind)
	assert.True(t, job.Error.Retryable)
	assert.Contains(t, job.Error.Message, "rate limited")
	assert.True(t, job.RegulatoryContextSet)
}

func TestOrchestrator_CompletionSignal(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	pending, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)
	_, err = h.orch.ProvideInput(ctx, pending.JobID, invoice.Facts{}, "done")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	before := h.completedJob(t, irelandSwitzerland())

	job, err := h.orch.ProvideInput(ctx, before.ID, invoice.Facts{DueDate: "01 May, 2025"}, " DONE ")
	require.NoError(t, err)
	assert.True(t, job.Finalized)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, before.Input, job.Input)
	assert.Equal(t, before.Result, job.Result)

	calls, _ := h.structurer.snapshot()
	assert.Equal(t, 1, calls)

	_, err = h.orch.ProvideInput(ctx, before.ID, invoice.Facts{Notes: "late"}, "")
	assert.ErrorIs(t, err, domain.ErrJobFinalized)
}

func TestOrchestrator_UnknownJob(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.orch.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = h.orch.ProvideInput(ctx, "missing", invoice.Facts{}, "")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.ErrorIs(t, h.orch.OnPaymentConfirmed(ctx, "missing"), domain.ErrJobNotFound)
	_, err = h.orch.HandlePaymentEvent(ctx, "missing-ref", "confirmed")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestOrchestrator_CreateRejectsInvalidFacts(t *testing.T) {
	h := newHarness(t, 0)
	facts := irelandSwitzerland()
	facts.SenderName = "none"
	facts.Transactions = ""

	_, err := h.orch.Create(context.Background(), facts)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorContains(t, err, "sender_name")
	assert.Zero(t, h.gate.requests.Load())
}

func TestOrchestrator_GetStatusFoldsPaymentStatus(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)

	job, err := h.orch.GetStatus(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, job.PaymentStatus)
	assert.Equal(t, domain.StatusAwaitingPayment, job.Status)

	h.gate.failStatus.Store(true)
	job, err = h.orch.GetStatus(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentError, job.PaymentStatus)
	assert.Equal(t, domain.StatusAwaitingPayment, job.Status)
	h.gate.failStatus.Store(false)

	h.gate.Confirm(res.PaymentReference)
	job, err = h.orch.GetStatus(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, job.PaymentStatus)
	assert.Equal(t, domain.StatusAwaitingPayment, job.Status)

	stored, err := h.store.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, stored.PaymentStatus)
}

func TestOrchestrator_GetStatusClosesSubscriptionOfFinishedJob(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)

	// Simulate a worker in another process finishing the job.
	job, err := h.store.Transition(ctx, res.JobID, domain.StatusAwaitingPayment, domain.StatusRunning)
	require.NoError(t, err)
	job.Status = domain.StatusCompleted
	require.NoError(t, h.store.Save(ctx, job))

	sub, open := h.monitor.Lookup(res.JobID)
	require.True(t, open)

	h.gate.failStatus.Store(true)
	got, err := h.orch.GetStatus(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.NotEqual(t, domain.PaymentError, got.PaymentStatus)

	<-sub.Done()
	assert.Equal(t, 0, h.monitor.Open())
}

func TestOrchestrator_HandlePaymentEvent(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)

	id, err := h.orch.HandlePaymentEvent(ctx, res.PaymentReference, "pending")
	require.NoError(t, err)
	assert.Equal(t, res.JobID, id)
	h.orch.Wait()

	job, err := h.store.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, job.Status)

	_, err = h.orch.HandlePaymentEvent(ctx, res.PaymentReference, "FundsLocked")
	require.NoError(t, err)
	h.orch.Wait()

	job, err = h.store.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)

	_, err = h.orch.HandlePaymentEvent(ctx, res.PaymentReference, "confirmed")
	require.NoError(t, err)
	h.orch.Wait()

	calls, _ := h.structurer.snapshot()
	assert.Equal(t, 1, calls)
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, jobID)
	return nil
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

func TestOrchestrator_DispatcherReceivesConfirmations(t *testing.T) {
	d := &recordingDispatcher{}
	h := newHarness(t, 0, WithDispatcher(d))
	ctx := context.Background()

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)
	_, err = h.orch.HandlePaymentEvent(ctx, res.PaymentReference, "confirmed")
	require.NoError(t, err)

	d.mu.Lock()
	assert.Equal(t, []string{res.JobID}, d.ids)
	d.mu.Unlock()

	job, err := h.store.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, job.Status)
}

func TestOrchestrator_PollingMonitorRunsPipeline(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	ctx := context.Background()

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	job, err := h.store.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, job.Status)

	h.gate.Confirm(res.PaymentReference)
	require.Eventually(t, func() bool {
		job, err := h.store.Get(ctx, res.JobID)
		return err == nil && job.Status == domain.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	h.orch.Wait()
	assert.Equal(t, 0, h.monitor.Open())
}

func TestOrchestrator_SerializesTriggersPerJob(t *testing.T) {
	h := newHarness(t, 0)
	h.structurer.delay = 5 * time.Millisecond
	ctx := context.Background()

	res, err := h.orch.Create(ctx, irelandSwitzerland())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- h.orch.OnPaymentConfirmed(ctx, res.JobID)
		}()
		go func(i int) {
			defer wg.Done()
			_, err := h.orch.ProvideInput(ctx, res.JobID, invoice.Facts{Notes: fmt.Sprintf("note %d", i)}, "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), h.structurer.maxActive.Load())

	job, err := h.store.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 0, h.orch.locks.held())
	h.store.assertLifecycle(t)
}

func TestOrchestrator_PaymentCompletionErrorIsSurfaced(t *testing.T) {
	h := newHarness(t, 0)
	h.gate.failComplete.Store(true)

	job := h.completedJob(t, irelandSwitzerland())
	assert.Contains(t, job.PaymentCompletionError, "gate rejected result")
	assert.NotEmpty(t, job.Result)

	h.gate.failComplete.Store(false)
	_, err := h.orch.ProvideInput(context.Background(), job.ID, invoice.Facts{}, "")
	require.NoError(t, err)

	stored, err := h.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PaymentCompletionError)
}

func TestInputHash(t *testing.T) {
	a, err := InputHash(irelandSwitzerland())
	require.NoError(t, err)
	b, err := InputHash(irelandSwitzerland())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other := irelandSwitzerland()
	other.DueDate = "16 March, 2025"
	c, err := InputHash(other)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestIsCompletionSignal(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"done", true},
		{"DONE", true},
		{"  Done\n", true},
		{"", false},
		{"done!", false},
		{"not done", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCompletionSignal(tt.in))
		})
	}
}

func TestJobLocks(t *testing.T) {
	locks := newJobLocks()

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("job-1")
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, locks.held())

	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	assert.Equal(t, 2, locks.held())
	unlockA()
	unlockB()
	assert.Equal(t, 0, locks.held())
}

func TestOrchestrator_CanceledCallerDoesNotStrandJob(t *testing.T) {
	h := newHarness(t, 0)
	h.store.honorCtx.Store(true)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orch.Create(context.Background(), irelandSwitzerland())
	require.NoError(t, err)
	require.NoError(t, h.orch.OnPaymentConfirmed(canceled, res.JobID))

	job, err := h.store.Get(context.Background(), res.JobID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, job.Status, "job error: %+v", job.Error)

	job, err = h.orch.ProvideInput(canceled, res.JobID, invoice.Facts{DueDate: "30 April, 2025"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Nil(t, job.Error)

	stored, err := h.store.Get(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "30 April, 2025", stored.Input.DueDate)

	job, err = h.orch.ProvideInput(context.Background(), res.JobID, invoice.Facts{}, "done")
	require.NoError(t, err)
	assert.True(t, job.Finalized)
	h.store.assertLifecycle(t)
}

func TestOrchestrator_RerunFailureIsTerminal(t *testing.T) {
	tests := []struct {
		name      string
		fn        func(req structuring.Request) (structuring.Result, error)
		wantStage string
		wantKind  string
	}{
		{
			name: "structuring error",
			fn: func(structuring.Request) (structuring.Result, error) {
				return structuring.Result{}, errors.New("model quota exhausted")
			},
			wantStage: domain.StageStructuring,
			wantKind:  domain.KindAdapter,
		},
		{
			name: "inconsistent record",
			fn: func(req structuring.Request) (structuring.Result, error) {
				res := recordFromFacts(req)
				res.Record.Quantities = []float64{1, 1}
				return res, nil
			},
			wantStage: domain.StageValidation,
			wantKind:  domain.KindConsistency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			ctx := context.Background()
			before := h.completedJob(t, irelandSwitzerland())
			require.NotEmpty(t, before.Result)

			h.structurer.fn = tt.fn
			job, err := h.orch.ProvideInput(ctx, before.ID, invoice.Facts{DueDate: "30 April, 2025"}, "")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFailed, job.Status)

			stored, err := h.store.Get(ctx, before.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFailed, stored.Status)
			require.NotNil(t, stored.Error)
			assert.Equal(t, tt.wantStage, stored.Error.Stage)
			assert.Equal(t, tt.wantKind, stored.Error.Kind)
			assert.Empty(t, stored.Result)
			assert.Empty(t, stored.ResultDigest)
			assert.Empty(t, stored.Analysis)
			assert.Equal(t, int32(1), h.renderer.calls.Load())

			_, err = h.orch.ProvideInput(ctx, before.ID, invoice.Facts{Notes: "retry"}, "")
			assert.ErrorIs(t, err, domain.ErrJobTerminal)
			h.store.assertLifecycle(t)
		})
	}
}

func TestOrchestrator_SubscriptionClosedWhenAnotherProcessFinishes(t *testing.T) {
	tests := []struct {
		name         string
		pollInterval time.Duration
		confirm      func(t *testing.T, h *harness, res CreateResult)
	}{
		{
			name: "webhook",
			confirm: func(t *testing.T, h *harness, res CreateResult) {
				_, err := h.orch.HandlePaymentEvent(context.Background(), res.PaymentReference, "confirmed")
				require.NoError(t, err)
			},
		},
		{
			name:         "polling",
			pollInterval: 5 * time.Millisecond,
			confirm: func(t *testing.T, h *harness, res CreateResult) {
				h.gate.Confirm(res.PaymentReference)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			h := newHarness(t, tt.pollInterval, WithDispatcher(d))
			ctx := context.Background()

			// The worker process shares the job table but not the monitor.
			remote := New(Deps{
				Store:      h.store,
				Gate:       h.gate,
				Regulation: h.regulation,
				Structurer: h.structurer,
				Renderer:   h.renderer,
			}, discardLogger())
			t.Cleanup(remote.Close)

			res, err := h.orch.Create(ctx, irelandSwitzerland())
			require.NoError(t, err)
			sub, open := h.monitor.Lookup(res.JobID)
			require.True(t, open)

			tt.confirm(t, h, res)
			require.Eventually(t, func() bool { return len(d.dispatched()) == 1 }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, 1, h.monitor.Open())

			require.NoError(t, remote.OnPaymentConfirmed(ctx, res.JobID))

			select {
			case <-sub.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("subscription left open after the job completed elsewhere")
			}
			assert.Equal(t, 0, h.monitor.Open())
		})
	}
}

func TestOrchestrator_ResumeReopensPendingSubscriptions(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	ctx := context.Background()

	h.completedJob(t, irelandSwitzerland())

	// A job left behind by a previous process.
	p, err := h.gate.Request(ctx, payment.Request{JobID: "job-before-restart"})
	require.NoError(t, err)
	require.NoError(t, h.store.Create(ctx, &domain.Job{
		ID:               "job-before-restart",
		Status:           domain.StatusAwaitingPayment,
		PaymentReference: p.Reference,
		PaymentStatus:    domain.PaymentPending,
		Input:            irelandSwitzerland(),
	}))
	require.Equal(t, 0, h.monitor.Open())

	n, err := h.orch.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, open := h.monitor.Lookup("job-before-restart")
	assert.True(t, open)

	h.gate.Confirm(p.Reference)
	require.Eventually(t, func() bool {
		job, err := h.store.Get(ctx, "job-before-restart")
		return err == nil && job.Status == domain.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	h.orch.Wait()
	require.Eventually(t, func() bool { return h.monitor.Open() == 0 }, 2*time.Second, 5*time.Millisecond)
}
