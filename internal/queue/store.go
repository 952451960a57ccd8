package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Store persists jobs for one or more queues.
//
// Implementations: Redis (production, shared across processes) and in-memory
// (tests, dev mode). Both provide the same visibility semantics: a dequeued
// job is active until explicitly completed or failed; jobs abandoned by a
// crashed worker stay active in the store and are surfaced by counts rather
// than silently dropped.
type Store interface {
	// Enqueue inserts a new waiting job. If a job with the same ID is
	// already waiting or active on the queue it returns ErrJobAlreadyExists
	// and leaves the existing job untouched. A terminal job with the same ID
	// is superseded by the new one.
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue claims the next ready job (RunAt <= now) on the queue and
	// marks it active, incrementing AttemptsMade. Returns (nil, nil) when no
	// job is ready.
	Dequeue(ctx context.Context, queue string) (*Job, error)

	// Complete transitions an active job to completed with its result.
	Complete(ctx context.Context, job *Job, result json.RawMessage) error

	// Retry transitions an active job back to waiting with a new RunAt.
	Retry(ctx context.Context, job *Job, lastError string, runAt time.Time) error

	// Fail transitions an active job to the terminal failed state.
	Fail(ctx context.Context, job *Job, lastError string) error

	// Get returns a job by queue and ID, or ErrJobNotFound.
	Get(ctx context.Context, queue, id string) (*Job, error)

	// Counts returns the per-state job counts for a queue.
	Counts(ctx context.Context, queue string) (Counts, error)

	// Prune enforces the retention policy, keeping at most keepCompleted
	// completed and keepFailed failed jobs per queue (oldest pruned first).
	Prune(ctx context.Context, queue string, keepCompleted, keepFailed int) error
}
