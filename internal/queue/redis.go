package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore persists jobs in Redis: one hash per job, a per-queue sorted set
// of ready job IDs scored by RunAt, and per-queue sorted sets of terminal jobs
// scored by FinishedAt for retention pruning.
type RedisStore struct {
	client goredis.Cmdable
}

// NewRedisStore creates a Store backed by the given Redis client. The caller
// owns the client lifecycle.
func NewRedisStore(client goredis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func jobKey(queue, id string) string      { return "brief:job:" + queue + ":" + id }
func readyKey(queue string) string        { return "brief:ready:" + queue }
func jobIDsKey(queue string) string       { return "brief:jobs:" + queue }
func terminalKey(queue string, s State) string {
	return "brief:" + string(s) + ":" + queue
}

// Enqueue inserts a waiting job, enforcing ID idempotency for non-terminal
// duplicates.
func (s *RedisStore) Enqueue(ctx context.Context, job *Job) error {
	key := jobKey(job.Queue, job.ID)

	state, err := s.client.HGet(ctx, key, "state").Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("queue/redis: enqueue check: %w", err)
	}
	if err == nil && !State(state).Terminal() {
		return ErrJobAlreadyExists
	}

	cp := *job
	cp.State = StateWaiting

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key) // drop a superseded terminal job's fields
	pipe.HSet(ctx, key, jobToMap(&cp))
	pipe.SAdd(ctx, jobIDsKey(job.Queue), job.ID)
	pipe.ZAdd(ctx, readyKey(job.Queue), goredis.Z{
		Score:  float64(cp.RunAt.UnixMilli()),
		Member: job.ID,
	})
	pipe.ZRem(ctx, terminalKey(job.Queue, StateCompleted), job.ID)
	pipe.ZRem(ctx, terminalKey(job.Queue, StateFailed), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: enqueue: %w", err)
	}
	return nil
}

// Dequeue pops the job with the earliest RunAt. Jobs scheduled in the future
// are pushed back untouched.
func (s *RedisStore) Dequeue(ctx context.Context, queue string) (*Job, error) {
	now := time.Now().UTC()

	members, err := s.client.ZPopMin(ctx, readyKey(queue), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: dequeue zpopmin: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	z := members[0]
	id, ok := z.Member.(string)
	if !ok {
		return nil, nil
	}

	if int64(z.Score) > now.UnixMilli() {
		// Not due yet - return it to the ready set.
		if err := s.client.ZAdd(ctx, readyKey(queue), z).Err(); err != nil {
			return nil, fmt.Errorf("queue/redis: dequeue requeue: %w", err)
		}
		return nil, nil
	}

	key := jobKey(queue, id)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "state", string(StateActive))
	pipe.HIncrBy(ctx, key, "attempts_made", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue/redis: dequeue claim: %w", err)
	}

	return s.getByKey(ctx, key)
}

// Complete transitions the job to completed and records the result.
func (s *RedisStore) Complete(ctx context.Context, job *Job, result json.RawMessage) error {
	now := time.Now().UTC()
	key := jobKey(job.Queue, job.ID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(StateCompleted),
		"result", string(result),
		"finished_at", now.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, terminalKey(job.Queue, StateCompleted), goredis.Z{
		Score:  float64(now.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: complete: %w", err)
	}
	return nil
}

// Retry returns the job to the waiting state with a delayed RunAt.
func (s *RedisStore) Retry(ctx context.Context, job *Job, lastError string, runAt time.Time) error {
	key := jobKey(job.Queue, job.ID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(StateWaiting),
		"last_error", lastError,
		"run_at", runAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, readyKey(job.Queue), goredis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: retry: %w", err)
	}
	return nil
}

// Fail transitions the job to the terminal failed state.
func (s *RedisStore) Fail(ctx context.Context, job *Job, lastError string) error {
	now := time.Now().UTC()
	key := jobKey(job.Queue, job.ID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(StateFailed),
		"last_error", lastError,
		"finished_at", now.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, terminalKey(job.Queue, StateFailed), goredis.Z{
		Score:  float64(now.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: fail: %w", err)
	}
	return nil
}

// Get returns a job by queue and ID.
func (s *RedisStore) Get(ctx context.Context, queue, id string) (*Job, error) {
	return s.getByKey(ctx, jobKey(queue, id))
}

// Counts returns the per-state totals for a queue.
func (s *RedisStore) Counts(ctx context.Context, queue string) (Counts, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey(queue)).Result()
	if err != nil {
		return Counts{}, fmt.Errorf("queue/redis: counts: %w", err)
	}

	var c Counts
	for _, id := range ids {
		state, err := s.client.HGet(ctx, jobKey(queue, id), "state").Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return Counts{}, fmt.Errorf("queue/redis: counts state: %w", err)
		}
		switch State(state) {
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

// Prune removes the oldest terminal jobs beyond the retention counts.
func (s *RedisStore) Prune(ctx context.Context, queue string, keepCompleted, keepFailed int) error {
	if err := s.pruneState(ctx, queue, StateCompleted, keepCompleted); err != nil {
		return err
	}
	return s.pruneState(ctx, queue, StateFailed, keepFailed)
}

func (s *RedisStore) pruneState(ctx context.Context, queue string, state State, keep int) error {
	if keep < 0 {
		return nil
	}

	tkey := terminalKey(queue, state)
	total, err := s.client.ZCard(ctx, tkey).Result()
	if err != nil {
		return fmt.Errorf("queue/redis: prune card: %w", err)
	}
	excess := total - int64(keep)
	if excess <= 0 {
		return nil
	}

	// Oldest first (lowest FinishedAt score).
	ids, err := s.client.ZRange(ctx, tkey, 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("queue/redis: prune range: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, jobKey(queue, id))
		pipe.ZRem(ctx, tkey, id)
		pipe.SRem(ctx, jobIDsKey(queue), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: prune exec: %w", err)
	}
	return nil
}

func (s *RedisStore) getByKey(ctx context.Context, key string) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromMap(fields)
}

func jobToMap(j *Job) map[string]any {
	m := map[string]any{
		"id":            j.ID,
		"name":          j.Name,
		"queue":         j.Queue,
		"payload":       string(j.Payload),
		"state":         string(j.State),
		"attempts_made": j.AttemptsMade,
		"max_attempts":  j.MaxAttempts,
		"backoff_type":  string(j.Backoff.Type),
		"backoff_ms":    j.Backoff.Delay.Milliseconds(),
		"created_at":    j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"run_at":        j.RunAt.UTC().Format(time.RFC3339Nano),
		"last_error":    j.LastError,
		"result":        string(j.Result),
	}
	if !j.FinishedAt.IsZero() {
		m["finished_at"] = j.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func jobFromMap(fields map[string]string) (*Job, error) {
	j := &Job{
		ID:        fields["id"],
		Name:      fields["name"],
		Queue:     fields["queue"],
		State:     State(fields["state"]),
		LastError: fields["last_error"],
	}
	if p := fields["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if r := fields["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}

	var err error
	if j.AttemptsMade, err = atoiField(fields, "attempts_made"); err != nil {
		return nil, err
	}
	if j.MaxAttempts, err = atoiField(fields, "max_attempts"); err != nil {
		return nil, err
	}

	j.Backoff.Type = BackoffType(fields["backoff_type"])
	if ms, err := atoiField(fields, "backoff_ms"); err == nil {
		j.Backoff.Delay = time.Duration(ms) * time.Millisecond
	}

	if j.CreatedAt, err = timeField(fields, "created_at"); err != nil {
		return nil, err
	}
	if j.RunAt, err = timeField(fields, "run_at"); err != nil {
		return nil, err
	}
	if fields["finished_at"] != "" {
		if j.FinishedAt, err = timeField(fields, "finished_at"); err != nil {
			return nil, err
		}
	}

	return j, nil
}

func atoiField(fields map[string]string, name string) (int, error) {
	v := fields[name]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("queue/redis: bad %s field %q: %w", name, v, err)
	}
	return n, nil
}

func timeField(fields map[string]string, name string) (time.Time, error) {
	v := fields[name]
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("queue/redis: bad %s field %q: %w", name, v, err)
	}
	return t, nil
}
