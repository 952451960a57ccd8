package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config defines a named queue and its default policies.
type Config struct {
	// Name is the queue identifier.
	Name string

	// Attempts is the total attempt budget per job (first run + retries).
	Attempts int

	// Backoff is the default delay-before-retry rule.
	Backoff BackoffPolicy

	// Concurrency is the number of jobs a worker executes simultaneously.
	Concurrency int

	// KeepCompleted / KeepFailed bound how many terminal jobs are retained.
	KeepCompleted int
	KeepFailed    int
}

// Queue is a named durable work queue.
type Queue struct {
	cfg   Config
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a queue over the given store.
func New(cfg Config, store Store, log zerolog.Logger) *Queue {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Backoff.Delay <= 0 {
		cfg.Backoff = BackoffPolicy{Type: BackoffExponential, Delay: time.Second}
	}
	if cfg.KeepCompleted <= 0 {
		cfg.KeepCompleted = 100
	}
	if cfg.KeepFailed <= 0 {
		cfg.KeepFailed = 500
	}

	return &Queue{
		cfg:   cfg,
		store: store,
		log:   log.With().Str("component", "queue").Str("queue", cfg.Name).Logger(),
		now:   time.Now,
	}
}

// Name returns the queue identifier.
func (q *Queue) Name() string { return q.cfg.Name }

// Config returns the queue's configuration.
func (q *Queue) Config() Config { return q.cfg }

// Store returns the backing store.
func (q *Queue) Store() Store { return q.store }

// EnqueueOption overrides queue defaults for a single job.
type EnqueueOption func(*Job)

// WithJobID assigns a caller-chosen ID, making the enqueue idempotent:
// duplicate enqueues of the same logical unit of work collapse into one
// execution while the first job is still waiting or active.
func WithJobID(id string) EnqueueOption {
	return func(j *Job) { j.ID = id }
}

// WithAttempts overrides the queue's attempt budget for this job.
func WithAttempts(n int) EnqueueOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// WithBackoff overrides the queue's backoff policy for this job.
func WithBackoff(p BackoffPolicy) EnqueueOption {
	return func(j *Job) { j.Backoff = p }
}

// WithDelay schedules the job to run no earlier than now+d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(j *Job) { j.RunAt = j.RunAt.Add(d) }
}

// Enqueue adds a job to the queue and returns its handle. If a job with the
// same caller-assigned ID is already waiting or active, the existing job is
// returned and nothing new is enqueued.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue %s: marshal payload for %s: %w", q.cfg.Name, name, err)
	}

	now := q.now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		Name:        name,
		Queue:       q.cfg.Name,
		Payload:     data,
		State:       StateWaiting,
		MaxAttempts: q.cfg.Attempts,
		Backoff:     q.cfg.Backoff,
		CreatedAt:   now,
		RunAt:       now,
	}
	for _, opt := range opts {
		opt(job)
	}

	if err := q.store.Enqueue(ctx, job); err != nil {
		if errors.Is(err, ErrJobAlreadyExists) {
			existing, getErr := q.store.Get(ctx, q.cfg.Name, job.ID)
			if getErr != nil {
				return nil, fmt.Errorf("queue %s: fetch existing job %s: %w", q.cfg.Name, job.ID, getErr)
			}
			q.log.Debug().
				Str("job_id", job.ID).
				Str("job_name", name).
				Msg("Duplicate enqueue collapsed into existing job")
			return existing, nil
		}
		return nil, fmt.Errorf("queue %s: enqueue %s: %w", q.cfg.Name, name, err)
	}

	q.log.Info().
		Str("job_id", job.ID).
		Str("job_name", name).
		Msg("Job enqueued")
	return job, nil
}

// AwaitPollInterval is how often Await re-reads a job's state.
const AwaitPollInterval = 250 * time.Millisecond

// Await blocks until the job reaches a terminal state and returns its result.
// A failed job surfaces its final error. The context bounds the wait.
func (q *Queue) Await(ctx context.Context, jobID string) (json.RawMessage, error) {
	ticker := time.NewTicker(AwaitPollInterval)
	defer ticker.Stop()

	for {
		job, err := q.store.Get(ctx, q.cfg.Name, jobID)
		if err != nil {
			return nil, fmt.Errorf("queue %s: await %s: %w", q.cfg.Name, jobID, err)
		}

		switch job.State {
		case StateCompleted:
			return job.Result, nil
		case StateFailed:
			return nil, fmt.Errorf("queue %s: job %s (%s) failed: %s", q.cfg.Name, jobID, job.Name, job.LastError)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Counts returns the queue's per-state job totals.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	return q.store.Counts(ctx, q.cfg.Name)
}
