package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HandlerFunc executes one job and returns its JSON-serializable result.
// Failure is signalled by returning an error; wrap with Unrecoverable to skip
// the remaining retry budget.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// Worker binds to exactly one queue and runs up to the queue's configured
// concurrency jobs simultaneously, dispatching by job name to registered
// handlers.
type Worker struct {
	queue        *Queue
	store        Store
	handlers     map[string]HandlerFunc
	pollInterval time.Duration
	log          zerolog.Logger

	// Lifecycle event callbacks. onFailed fires only after the attempt
	// budget is exhausted (or on an unrecoverable error) and carries the
	// final error. onError reports infrastructure failures unrelated to any
	// single job.
	onCompleted func(job *Job, result json.RawMessage)
	onFailed    func(job *Job, err error)
	onError     func(err error)

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets how often an idle worker slot polls the store.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

// OnCompleted registers the completed(job, result) event callback.
func OnCompleted(fn func(job *Job, result json.RawMessage)) WorkerOption {
	return func(w *Worker) { w.onCompleted = fn }
}

// OnFailed registers the failed(job, err) event callback.
func OnFailed(fn func(job *Job, err error)) WorkerOption {
	return func(w *Worker) { w.onFailed = fn }
}

// OnError registers the worker-level error(err) event callback.
func OnError(fn func(err error)) WorkerOption {
	return func(w *Worker) { w.onError = fn }
}

// NewWorker creates a worker for the given queue.
func NewWorker(q *Queue, log zerolog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:        q,
		store:        q.Store(),
		handlers:     make(map[string]HandlerFunc),
		pollInterval: time.Second,
		log:          log.With().Str("component", "worker").Str("queue", q.Name()).Logger(),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers a handler for a job name. Registering the same name twice
// is a programming error and is rejected.
func (w *Worker) Handle(name string, fn HandlerFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.handlers[name]; exists {
		return fmt.Errorf("worker %s: handler already registered for %q", w.queue.Name(), name)
	}
	w.handlers[name] = fn
	return nil
}

// MustHandle registers a handler and panics on collision. Used at wiring time
// where a duplicate registration is unrecoverable anyway.
func (w *Worker) MustHandle(name string, fn HandlerFunc) {
	if err := w.Handle(name, fn); err != nil {
		panic(err)
	}
}

// Start launches one dequeue loop per concurrency slot. It returns
// immediately.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true

	concurrency := w.queue.Config().Concurrency
	w.log.Info().Int("concurrency", concurrency).Msg("Worker started")

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.dequeueLoop()
	}
}

// Stop signals all slots to stop accepting new jobs and waits for in-flight
// jobs to finish. If ctx expires first, remaining jobs stay active in the
// store and are retried on restart per the store's visibility semantics;
// acknowledgment state is never silently dropped.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info().Msg("Worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.log.Warn().Msg("Worker shutdown timed out with jobs still in flight")
		return ctx.Err()
	}
}

func (w *Worker) dequeueLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		job, err := w.store.Dequeue(context.Background(), w.queue.Name())
		if err != nil {
			// Infrastructure failure (e.g. broker disconnect) - not tied to
			// any single job.
			w.log.Error().Err(err).Msg("Dequeue failed")
			if w.onError != nil {
				w.onError(err)
			}
			w.sleep()
			continue
		}
		if job == nil {
			w.sleep()
			continue
		}

		w.process(job)
	}
}

func (w *Worker) process(job *Job) {
	log := w.log.With().
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Int("attempt", job.AttemptsMade).
		Logger()

	w.mu.Lock()
	handler, ok := w.handlers[job.Name]
	w.mu.Unlock()

	if !ok {
		// Unknown job names are fatal handler errors: no retry can fix them.
		err := fmt.Errorf("%w: %q", ErrUnknownJobName, job.Name)
		log.Error().Err(err).Msg("Job failed")
		w.failTerminal(job, err)
		return
	}

	result, err := handler(context.Background(), job)
	if err != nil {
		if !IsUnrecoverable(err) && job.AttemptsLeft() {
			runAt := time.Now().UTC().Add(job.RetryDelay())
			log.Warn().Err(err).Time("retry_at", runAt).Msg("Job failed, scheduling retry")
			if retryErr := w.store.Retry(context.Background(), job, err.Error(), runAt); retryErr != nil {
				log.Error().Err(retryErr).Msg("Failed to schedule retry")
				if w.onError != nil {
					w.onError(retryErr)
				}
			}
			return
		}

		log.Error().Err(err).Msg("Job failed permanently")
		w.failTerminal(job, err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("Job result not serializable")
		w.failTerminal(job, fmt.Errorf("marshal result: %w", err))
		return
	}

	if err := w.store.Complete(context.Background(), job, data); err != nil {
		log.Error().Err(err).Msg("Failed to record job completion")
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	job.State = StateCompleted
	job.Result = data
	log.Info().Msg("Job completed")

	w.pruneRetention(job.Queue)

	if w.onCompleted != nil {
		w.onCompleted(job, data)
	}
}

func (w *Worker) failTerminal(job *Job, cause error) {
	if err := w.store.Fail(context.Background(), job, cause.Error()); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record job failure")
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	job.State = StateFailed
	job.LastError = cause.Error()

	w.pruneRetention(job.Queue)

	if w.onFailed != nil {
		w.onFailed(job, cause)
	}
}

func (w *Worker) pruneRetention(queueName string) {
	cfg := w.queue.Config()
	if err := w.store.Prune(context.Background(), queueName, cfg.KeepCompleted, cfg.KeepFailed); err != nil {
		w.log.Warn().Err(err).Msg("Retention pruning failed")
	}
}

func (w *Worker) sleep() {
	select {
	case <-time.After(w.pollInterval):
	case <-w.stopCh:
	}
}
