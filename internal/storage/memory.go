package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/invoicegen/internal/domain"
)

// slot is one arena entry. Its mutex guards the job only, so unrelated jobs
// never contend.
type slot struct {
	mu  sync.Mutex
	job *domain.Job
}

// MemoryStore is an in-process arena of jobs keyed by id.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]*slot
	byRef map[string]string
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[string]*slot),
		byRef: make(map[string]string),
		now:   time.Now,
	}
}

func (s *MemoryStore) slot(id string) (*slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return sl, nil
}

func (s *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[job.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}

	stored := job.Clone()
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.slots[job.ID] = &slot{job: stored}
	if job.PaymentReference != "" {
		s.byRef[job.PaymentReference] = job.ID
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Job, error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.job.Clone(), nil
}

func (s *MemoryStore) GetByPaymentReference(ctx context.Context, ref string) (*domain.Job, error) {
	s.mu.RLock()
	id, ok := s.byRef[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) ListByStatus(_ context.Context, status domain.Status) ([]*domain.Job, error) {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	var jobs []*domain.Job
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.job.Status == status {
			jobs = append(jobs, sl.job.Clone())
		}
		sl.mu.Unlock()
	}
	slices.SortFunc(jobs, func(a, b *domain.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return jobs, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to domain.Status) (*domain.Job, error) {
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.job.Status != from {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrAlreadyClaimed, id, sl.job.Status)
	}
	sl.job.Status = to
	sl.job.UpdatedAt = s.now().UTC()
	return sl.job.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, job *domain.Job) error {
	sl, err := s.slot(job.ID)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !slices.Contains(priorStatuses(job.Status), string(sl.job.Status)) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, sl.job.Status, job.Status)
	}

	stored := job.Clone()
	stored.CreatedAt = sl.job.CreatedAt
	stored.UpdatedAt = s.now().UTC()
	sl.job = stored

	if job.PaymentReference != "" {
		s.mu.Lock()
		s.byRef[job.PaymentReference] = job.ID
		s.mu.Unlock()
	}
	return nil
}
