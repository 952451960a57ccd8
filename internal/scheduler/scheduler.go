// Package scheduler registers recurring pipeline jobs on a UTC cron.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/jobs"
	"github.com/marketbrief/marketbrief/internal/queue"
)

// Registration is one recurring job: enqueue JobName on Queue whenever Spec
// fires. Specs are interpreted in UTC, avoiding daylight-saving ambiguity.
type Registration struct {
	Queue   string
	JobName string
	Spec    string
}

func (r Registration) key() string {
	return r.Queue + "|" + r.JobName + "|" + r.Spec + "|UTC"
}

// Scheduler owns the cron runner and the set of registered triggers.
type Scheduler struct {
	cron   *cron.Cron
	queues map[string]*queue.Queue
	log    zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	registered map[string]cron.EntryID
}

// New creates a scheduler over the given queues.
func New(queues map[string]*queue.Queue, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		queues:     queues,
		log:        log.With().Str("component", "scheduler").Logger(),
		now:        time.Now,
		registered: make(map[string]cron.EntryID),
	}
}

// Register adds a recurring trigger. Registering the same (queue, job, spec)
// tuple again is a no-op, so restarts never accumulate duplicate triggers.
func (s *Scheduler) Register(r Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.registered[r.key()]; exists {
		s.log.Debug().Str("job", r.JobName).Str("spec", r.Spec).Msg("Schedule already registered, skipping")
		return nil
	}

	q, ok := s.queues[r.Queue]
	if !ok {
		return fmt.Errorf("scheduler: unknown queue %q for job %s", r.Queue, r.JobName)
	}

	id, err := s.cron.AddFunc(r.Spec, func() {
		s.trigger(q, r)
	})
	if err != nil {
		return fmt.Errorf("scheduler: register %s on %s (%q): %w", r.JobName, r.Queue, r.Spec, err)
	}
	s.registered[r.key()] = id

	s.log.Info().
		Str("queue", r.Queue).
		Str("job", r.JobName).
		Str("spec", r.Spec).
		Msg("Schedule registered")
	return nil
}

// RegisterAll registers a schedule table, stopping at the first error.
func (s *Scheduler) RegisterAll(table []Registration) error {
	for _, r := range table {
		if err := s.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// trigger enqueues one run of a recurring job. The ID is derived from the
// trigger time, so a trigger that fires while the previous run of the same
// instant is still queued collapses into it.
func (s *Scheduler) trigger(q *queue.Queue, r Registration) {
	id := fmt.Sprintf("%s-%d", r.JobName, s.now().UTC().UnixMilli())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := q.Enqueue(ctx, r.JobName, nil, queue.WithJobID(id)); err != nil {
		s.log.Error().Err(err).Str("job", r.JobName).Str("queue", r.Queue).Msg("Failed to enqueue scheduled job")
		return
	}
	s.log.Debug().Str("job", r.JobName).Str("job_id", id).Msg("Scheduled job enqueued")
}

// Registered returns the number of distinct registered triggers.
func (s *Scheduler) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registered)
}

// Start begins firing triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("schedules", s.Registered()).Msg("Scheduler started")
}

// Stop halts the cron runner and waits for in-flight trigger functions.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// DefaultSchedule is the pipeline's static schedule table. Dependent chart
// jobs are chained as continuations at run time; the signal slot an hour
// after the averages slot stays only as a safety net if a continuation was
// lost.
func DefaultSchedule() []Registration {
	return []Registration{
		// Sub-daily, weekdays during the market-hours window (UTC). Chart
		// averages run on the same cadence offset by an hour; each run
		// chains its signal update, so intraday signals track intraday
		// averages.
		{Queue: jobs.QueueContentFetch, JobName: jobs.JobPortfolioSnapshot, Spec: "0 14-21/2 * * 1-5"},
		{Queue: jobs.QueueContentFetch, JobName: jobs.JobChartAverages, Spec: "0 15-21/2 * * 1-5"},

		// Daily, staggered across distinct UTC hours.
		{Queue: jobs.QueueContentFetch, JobName: jobs.JobFetchCommodities, Spec: "0 5 * * *"},
		{Queue: jobs.QueueContentFetch, JobName: jobs.JobFetchVCFunding, Spec: "0 6 * * *"},
		{Queue: jobs.QueueOrchestration, JobName: jobs.JobDailyOrchestration, Spec: "0 7 * * *"},
		{Queue: jobs.QueueContentFetch, JobName: jobs.JobChartAverages, Spec: "0 8 * * *"},
		{Queue: jobs.QueueContentFetch, JobName: jobs.JobChartSignals, Spec: "0 9 * * *"},

		// Weekly aggregates.
		{Queue: jobs.QueueContentFetch, JobName: jobs.JobTopInvestors, Spec: "0 10 * * 1"},
		{Queue: jobs.QueueContentFetch, JobName: jobs.JobChartSummary, Spec: "0 11 * * 5"},
	}
}
