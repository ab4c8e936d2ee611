package orchestrator

import "sync"

// jobLocks hands out one mutex per job id. Entries are reference counted
// and dropped when the last holder releases, so the map only holds jobs
// that are being worked on.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[string]*jobLock)}
}

// Lock blocks until the job's lock is held and returns its release func.
func (l *jobLocks) Lock(jobID string) func() {
	l.mu.Lock()
	lk, ok := l.locks[jobID]
	if !ok {
		lk = &jobLock{}
		l.locks[jobID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()

	return func() {
		lk.mu.Unlock()

		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, jobID)
		}
		l.mu.Unlock()
	}
}

// held returns the number of jobs with a holder or waiter.
func (l *jobLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
