// Package queue implements named durable work queues backed by a pluggable
// store (Redis in production, in-memory for tests and dev mode), with
// per-queue retry policies, idempotent enqueue by caller-assigned job ID,
// bounded-concurrency workers and retention pruning of terminal jobs.
package queue

import (
	"encoding/json"
	"time"

	"github.com/marketbrief/marketbrief/internal/backoff"
)

// State is the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is queued and ready (or scheduled) to run.
	StateWaiting State = "waiting"
	// StateActive means a worker is currently executing the job.
	StateActive State = "active"
	// StateCompleted is the terminal success state.
	StateCompleted State = "completed"
	// StateFailed is the terminal failure state, reached after the attempt
	// budget is exhausted or on an unrecoverable error.
	StateFailed State = "failed"
)

// Terminal reports whether the state is completed or failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// BackoffType selects the delay growth rule between retries.
type BackoffType string

const (
	// BackoffFixed waits the same delay before every retry.
	BackoffFixed BackoffType = "fixed"
	// BackoffExponential doubles the delay on each retry.
	BackoffExponential BackoffType = "exponential"
)

// BackoffPolicy is the delay-before-retry rule for failed attempts.
type BackoffPolicy struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Strategy returns the backoff strategy for this policy.
func (p BackoffPolicy) Strategy() backoff.Strategy {
	if p.Type == BackoffFixed {
		return backoff.NewConstant(p.Delay)
	}
	return backoff.NewExponential(p.Delay, 5*time.Minute)
}

// Job is a unit of work on a named queue.
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Queue        string          `json:"queue"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	State        State           `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      BackoffPolicy   `json:"backoff"`
	CreatedAt    time.Time       `json:"created_at"`
	RunAt        time.Time       `json:"run_at"`
	FinishedAt   time.Time       `json:"finished_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// RetryDelay returns how long to wait before the next attempt, based on the
// number of attempts already made.
func (j *Job) RetryDelay() time.Duration {
	return j.Backoff.Strategy().Delay(j.AttemptsMade)
}

// AttemptsLeft reports whether the job still has retry budget.
func (j *Job) AttemptsLeft() bool {
	return j.AttemptsMade < j.MaxAttempts
}

// UnmarshalPayload decodes the job payload into v.
func (j *Job) UnmarshalPayload(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

// Counts is a per-queue snapshot of job states, used by the ops API.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
