package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and dev mode. It mirrors
// the Redis store's semantics without durability.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]map[string]*Job // queue -> id -> job
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]map[string]*Job),
		now:  time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) queueJobs(queue string) map[string]*Job {
	q, ok := s.jobs[queue]
	if !ok {
		q = make(map[string]*Job)
		s.jobs[queue] = q
	}
	return q
}

// Enqueue inserts a waiting job, enforcing ID idempotency for non-terminal
// duplicates.
func (s *MemoryStore) Enqueue(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueJobs(job.Queue)
	if existing, ok := q[job.ID]; ok && !existing.State.Terminal() {
		return ErrJobAlreadyExists
	}

	cp := *job
	cp.State = StateWaiting
	q[job.ID] = &cp
	return nil
}

// Dequeue claims the earliest ready waiting job and marks it active.
func (s *MemoryStore) Dequeue(_ context.Context, queue string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var next *Job
	for _, j := range s.queueJobs(queue) {
		if j.State != StateWaiting || j.RunAt.After(now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	next.State = StateActive
	next.AttemptsMade++

	cp := *next
	return &cp, nil
}

// Complete transitions a job to the completed terminal state.
func (s *MemoryStore) Complete(_ context.Context, job *Job, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.queueJobs(job.Queue)[job.ID]
	if !ok {
		return ErrJobNotFound
	}

	stored.State = StateCompleted
	stored.Result = result
	stored.AttemptsMade = job.AttemptsMade
	stored.FinishedAt = s.now()
	return nil
}

// Retry schedules another attempt.
func (s *MemoryStore) Retry(_ context.Context, job *Job, lastError string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.queueJobs(job.Queue)[job.ID]
	if !ok {
		return ErrJobNotFound
	}

	stored.State = StateWaiting
	stored.LastError = lastError
	stored.AttemptsMade = job.AttemptsMade
	stored.RunAt = runAt
	return nil
}

// Fail transitions a job to the failed terminal state.
func (s *MemoryStore) Fail(_ context.Context, job *Job, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.queueJobs(job.Queue)[job.ID]
	if !ok {
		return ErrJobNotFound
	}

	stored.State = StateFailed
	stored.LastError = lastError
	stored.AttemptsMade = job.AttemptsMade
	stored.FinishedAt = s.now()
	return nil
}

// Get returns a copy of the stored job.
func (s *MemoryStore) Get(_ context.Context, queue, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.queueJobs(queue)[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	cp := *stored
	return &cp, nil
}

// Counts returns per-state totals for a queue.
func (s *MemoryStore) Counts(_ context.Context, queue string) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counts
	for _, j := range s.queueJobs(queue) {
		switch j.State {
		case StateWaiting:
			c.Waiting++
		case StateActive:
			c.Active++
		case StateCompleted:
			c.Completed++
		case StateFailed:
			c.Failed++
		}
	}
	return c, nil
}

// Prune drops the oldest terminal jobs beyond the retention counts.
func (s *MemoryStore) Prune(_ context.Context, queue string, keepCompleted, keepFailed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueJobs(queue)
	s.pruneState(q, StateCompleted, keepCompleted)
	s.pruneState(q, StateFailed, keepFailed)
	return nil
}

func (s *MemoryStore) pruneState(q map[string]*Job, state State, keep int) {
	if keep < 0 {
		return
	}

	var terminal []*Job
	for _, j := range q {
		if j.State == state {
			terminal = append(terminal, j)
		}
	}
	if len(terminal) <= keep {
		return
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].FinishedAt.Before(terminal[j].FinishedAt)
	})
	for _, j := range terminal[:len(terminal)-keep] {
		delete(q, j.ID)
	}
}
