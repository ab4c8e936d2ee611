package payment

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSettleInterval is how often a confirmed subscription checks whether
// its job has settled when gate polling is disabled.
const DefaultSettleInterval = 2 * time.Second

// Handlers are the callbacks of one subscription.
type Handlers struct {
	// OnConfirmed is invoked at most once, when polling sees the payment
	// confirmed.
	OnConfirmed func(jobID string)

	// Settled reports whether the job has reached a terminal state. Once
	// the payment is confirmed it is checked on every tick and the
	// subscription is closed as soon as it returns true. This covers jobs
	// that finish in another process.
	Settled func(ctx context.Context, jobID string) bool
}

// Subscription tracks one job's pending payment. It stays open until the
// job first reaches a terminal state, even after the confirmation fired.
type Subscription struct {
	JobID     string
	Reference string

	handlers  Handlers
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
	done      chan struct{}
	confirmed atomic.Bool
	watching  bool
}

// Done is closed when the subscription is torn down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Confirmed reports whether the payment was seen confirmed.
func (s *Subscription) Confirmed() bool {
	return s.confirmed.Load()
}

func (s *Subscription) close() bool {
	closed := false
	s.once.Do(func() {
		s.cancel()
		close(s.done)
		closed = true
	})
	return closed
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithSettleInterval overrides DefaultSettleInterval.
func WithSettleInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.settleInterval = d
		}
	}
}

// Monitor owns the open subscriptions. When interval is positive it polls
// the gate for each of them until the payment is confirmed; confirmed
// subscriptions are then watched until their job settles.
type Monitor struct {
	gate           Gate
	interval       time.Duration
	settleInterval time.Duration
	logger         *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
	wg   sync.WaitGroup
}

// NewMonitor creates a monitor. A non-positive interval disables gate
// polling; confirmations then arrive only through the payment webhook.
func NewMonitor(gate Gate, interval time.Duration, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		gate:           gate,
		interval:       interval,
		settleInterval: DefaultSettleInterval,
		logger:         logger,
		subs:           make(map[string]*Subscription),
	}
	if interval > 0 {
		m.settleInterval = interval
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a subscription for jobID. Subscribing an already
// subscribed job returns the existing subscription.
func (m *Monitor) Subscribe(jobID, reference string, h Handlers) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.subs[jobID]; ok {
		return s
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		JobID:     jobID,
		Reference: reference,
		handlers:  h,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.subs[jobID] = s

	if m.interval > 0 && h.OnConfirmed != nil {
		m.watchLocked(s)
	}

	m.logger.Debug("Payment subscription opened",
		slog.String("job_id", jobID),
		slog.String("payment_reference", reference),
	)
	return s
}

// MarkConfirmed records a confirmation that arrived outside polling, such
// as a webhook, and starts watching the job until it settles. It reports
// whether jobID has an open subscription.
func (m *Monitor) MarkConfirmed(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[jobID]
	if !ok {
		return false
	}
	s.confirmed.Store(true)
	if s.handlers.Settled != nil {
		m.watchLocked(s)
	}
	return true
}

// watchLocked starts the subscription goroutine once. m.mu must be held so
// that Stop never misses a goroutine.
func (m *Monitor) watchLocked(s *Subscription) {
	if s.watching {
		return
	}
	s.watching = true
	m.wg.Add(1)
	go m.watch(s)
}

func (m *Monitor) watch(s *Subscription) {
	defer m.wg.Done()

	interval := m.interval
	if interval <= 0 || s.confirmed.Load() {
		interval = m.settleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if !s.confirmed.Load() {
			if m.pollOnce(s) {
				ticker.Reset(m.settleInterval)
			}
			continue
		}

		if s.handlers.Settled == nil {
			return
		}
		if s.handlers.Settled(s.ctx, s.JobID) {
			m.Close(s.JobID)
			return
		}
	}
}

// pollOnce queries the gate and fires OnConfirmed on confirmation. It
// reports whether the payment is now confirmed.
func (m *Monitor) pollOnce(s *Subscription) bool {
	status, err := m.gate.Status(s.ctx, s.Reference)
	if err != nil {
		if s.ctx.Err() == nil {
			m.logger.Warn("Payment status poll failed",
				slog.String("job_id", s.JobID),
				slog.Any("error", err),
			)
		}
		return false
	}
	if !IsConfirmed(status) {
		return false
	}
	if !s.confirmed.CompareAndSwap(false, true) {
		return true
	}

	m.logger.Info("Payment confirmed",
		slog.String("job_id", s.JobID),
		slog.String("payment_reference", s.Reference),
	)
	if s.handlers.OnConfirmed != nil {
		s.handlers.OnConfirmed(s.JobID)
	}
	return true
}

// Lookup returns the open subscription of jobID.
func (m *Monitor) Lookup(jobID string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[jobID]
	return s, ok
}

// Close tears down the subscription of jobID. It reports true only for the
// call that actually closed it.
func (m *Monitor) Close(jobID string) bool {
	m.mu.Lock()
	s, ok := m.subs[jobID]
	delete(m.subs, jobID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	closed := s.close()
	if closed {
		m.logger.Debug("Payment subscription closed", slog.String("job_id", jobID))
	}
	return closed
}

// Open returns the number of open subscriptions.
func (m *Monitor) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Stop closes every subscription and waits for their goroutines to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	m.wg.Wait()
}
