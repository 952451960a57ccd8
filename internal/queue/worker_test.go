package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder captures worker lifecycle events for assertions.
type eventRecorder struct {
	mu        sync.Mutex
	completed []*Job
	failed    []*Job
	failedErr []error
	errors    []error
}

func (r *eventRecorder) options() []WorkerOption {
	return []WorkerOption{
		WithPollInterval(10 * time.Millisecond),
		OnCompleted(func(job *Job, _ json.RawMessage) {
			r.mu.Lock()
			r.completed = append(r.completed, job)
			r.mu.Unlock()
		}),
		OnFailed(func(job *Job, err error) {
			r.mu.Lock()
			r.failed = append(r.failed, job)
			r.failedErr = append(r.failedErr, err)
			r.mu.Unlock()
		}),
		OnError(func(err error) {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
		}),
	}
}

func (r *eventRecorder) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

func (r *eventRecorder) failedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failed)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func stopWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
}

func TestWorker_DispatchesByJobName(t *testing.T) {
	q, _ := newTestQueue(t, Config{Name: "content-fetch", Concurrency: 1})
	rec := &eventRecorder{}
	w := NewWorker(q, zerolog.Nop(), rec.options()...)

	var gotPayload atomic.Value
	w.MustHandle("fetch-markets", func(ctx context.Context, job *Job) (any, error) {
		var p map[string]string
		require.NoError(t, job.UnmarshalPayload(&p))
		gotPayload.Store(p["day"])
		return map[string]any{"success": true}, nil
	})

	_, err := q.Enqueue(context.Background(), "fetch-markets", map[string]string{"day": "2024-03-15"})
	require.NoError(t, err)

	w.Start()
	defer stopWorker(t, w)

	waitFor(t, 2*time.Second, func() bool { return rec.completedCount() == 1 })
	assert.Equal(t, "2024-03-15", gotPayload.Load())

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Completed)
}

func TestWorker_RetriesUntilBudgetExhausted(t *testing.T) {
	q, _ := newTestQueue(t, Config{
		Name:     "content-fetch",
		Attempts: 3,
		Backoff:  BackoffPolicy{Type: BackoffFixed, Delay: 10 * time.Millisecond},
	})
	rec := &eventRecorder{}
	w := NewWorker(q, zerolog.Nop(), rec.options()...)

	var attempts atomic.Int32
	w.MustHandle("flaky", func(ctx context.Context, job *Job) (any, error) {
		attempts.Add(1)
		return nil, errors.New("upstream 503")
	})

	job, err := q.Enqueue(context.Background(), "flaky", nil, WithJobID("flaky-1"))
	require.NoError(t, err)

	w.Start()
	defer stopWorker(t, w)

	waitFor(t, 3*time.Second, func() bool { return rec.failedCount() == 1 })

	assert.Equal(t, int32(3), attempts.Load())
	assert.Contains(t, rec.failedErr[0].Error(), "upstream 503")

	stored, err := q.Store().Get(context.Background(), q.Name(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
	assert.Equal(t, 3, stored.AttemptsMade)
}

func TestWorker_SucceedsAfterRetry(t *testing.T) {
	q, _ := newTestQueue(t, Config{
		Name:     "summarize",
		Attempts: 3,
		Backoff:  BackoffPolicy{Type: BackoffFixed, Delay: 10 * time.Millisecond},
	})
	rec := &eventRecorder{}
	w := NewWorker(q, zerolog.Nop(), rec.options()...)

	var attempts atomic.Int32
	w.MustHandle("summarize-news", func(ctx context.Context, job *Job) (any, error) {
		if attempts.Add(1) < 2 {
			return nil, errors.New("rate limited")
		}
		return map[string]any{"success": true}, nil
	})

	_, err := q.Enqueue(context.Background(), "summarize-news", nil)
	require.NoError(t, err)

	w.Start()
	defer stopWorker(t, w)

	waitFor(t, 3*time.Second, func() bool { return rec.completedCount() == 1 })
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, 0, rec.failedCount())
}

func TestWorker_UnrecoverableErrorSkipsRetries(t *testing.T) {
	q, _ := newTestQueue(t, Config{
		Name:     "newsletter",
		Attempts: 3,
		Backoff:  BackoffPolicy{Type: BackoffFixed, Delay: 10 * time.Millisecond},
	})
	rec := &eventRecorder{}
	w := NewWorker(q, zerolog.Nop(), rec.options()...)

	var attempts atomic.Int32
	w.MustHandle("generate-newsletter", func(ctx context.Context, job *Job) (any, error) {
		attempts.Add(1)
		return nil, Unrecoverablef("missing required news input")
	})

	_, err := q.Enqueue(context.Background(), "generate-newsletter", nil)
	require.NoError(t, err)

	w.Start()
	defer stopWorker(t, w)

	waitFor(t, 2*time.Second, func() bool { return rec.failedCount() == 1 })
	assert.Equal(t, int32(1), attempts.Load(), "validation errors must not be retried")
}

func TestWorker_UnknownJobNameFailsImmediately(t *testing.T) {
	q, _ := newTestQueue(t, Config{Name: "content-fetch", Attempts: 3})
	rec := &eventRecorder{}
	w := NewWorker(q, zerolog.Nop(), rec.options()...)
	w.MustHandle("fetch-markets", func(ctx context.Context, job *Job) (any, error) {
		return nil, nil
	})

	job, err := q.Enqueue(context.Background(), "fetch-everything", nil)
	require.NoError(t, err)

	w.Start()
	defer stopWorker(t, w)

	waitFor(t, 2*time.Second, func() bool { return rec.failedCount() == 1 })
	assert.ErrorIs(t, rec.failedErr[0], ErrUnknownJobName)

	stored, err := q.Store().Get(context.Background(), q.Name(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
	assert.Equal(t, 1, stored.AttemptsMade)
}

func TestWorker_HandlerCollisionRejected(t *testing.T) {
	q, _ := newTestQueue(t, Config{Name: "content-fetch"})
	w := NewWorker(q, zerolog.Nop())

	require.NoError(t, w.Handle("fetch-news", func(ctx context.Context, job *Job) (any, error) {
		return nil, nil
	}))
	err := w.Handle("fetch-news", func(ctx context.Context, job *Job) (any, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestWorker_ConcurrencyBound(t *testing.T) {
	q, _ := newTestQueue(t, Config{Name: "content-fetch", Concurrency: 3})
	rec := &eventRecorder{}
	w := NewWorker(q, zerolog.Nop(), rec.options()...)

	var current, peak atomic.Int32
	w.MustHandle("fetch", func(ctx context.Context, job *Job) (any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		current.Add(-1)
		return map[string]any{"success": true}, nil
	})

	for i := 0; i < 9; i++ {
		_, err := q.Enqueue(context.Background(), "fetch", nil)
		require.NoError(t, err)
	}

	w.Start()
	defer stopWorker(t, w)

	waitFor(t, 5*time.Second, func() bool { return rec.completedCount() == 9 })
	assert.LessOrEqual(t, peak.Load(), int32(3), "at most 3 jobs may run simultaneously")
	assert.GreaterOrEqual(t, peak.Load(), int32(2), "jobs should overlap")
}

func TestWorker_GracefulStopFinishesInFlightJob(t *testing.T) {
	q, _ := newTestQueue(t, Config{Name: "newsletter", Concurrency: 1})
	rec := &eventRecorder{}
	w := NewWorker(q, zerolog.Nop(), rec.options()...)

	started := make(chan struct{})
	w.MustHandle("slow", func(ctx context.Context, job *Job) (any, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return map[string]any{"success": true}, nil
	})

	_, err := q.Enqueue(context.Background(), "slow", nil)
	require.NoError(t, err)

	w.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	assert.Equal(t, 1, rec.completedCount(), "in-flight job must finish before shutdown")
}
