package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbrief/marketbrief/internal/jobs"
	"github.com/marketbrief/marketbrief/internal/queue"
)

func newTestScheduler(t *testing.T) (*Scheduler, map[string]*queue.Queue, *queue.MemoryStore) {
	t.Helper()

	store := queue.NewMemoryStore()
	queues := make(map[string]*queue.Queue)
	for _, cfg := range jobs.QueueConfigs() {
		queues[cfg.Name] = queue.New(cfg, store, zerolog.Nop())
	}
	return New(queues, zerolog.Nop()), queues, store
}

func TestRegister_IsIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	r := Registration{Queue: jobs.QueueContentFetch, JobName: jobs.JobFetchCommodities, Spec: "0 5 * * *"}
	require.NoError(t, s.Register(r))
	require.NoError(t, s.Register(r), "re-registration must not error")

	assert.Equal(t, 1, s.Registered(), "duplicate triggers must not accumulate")
}

func TestRegister_RejectsUnknownQueueAndBadSpec(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	err := s.Register(Registration{Queue: "nope", JobName: jobs.JobFetchCommodities, Spec: "0 5 * * *"})
	assert.ErrorContains(t, err, "unknown queue")

	err = s.Register(Registration{Queue: jobs.QueueContentFetch, JobName: jobs.JobFetchCommodities, Spec: "not a cron spec"})
	assert.Error(t, err)
}

func TestRegisterAll_DefaultSchedule(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	require.NoError(t, s.RegisterAll(DefaultSchedule()))
	assert.Equal(t, len(DefaultSchedule()), s.Registered())

	// A second pass over the same table (a restart) adds nothing.
	require.NoError(t, s.RegisterAll(DefaultSchedule()))
	assert.Equal(t, len(DefaultSchedule()), s.Registered())
}

func TestDefaultSchedule_MarketHoursCadence(t *testing.T) {
	specs := make(map[string][]string)
	for _, r := range DefaultSchedule() {
		specs[r.JobName] = append(specs[r.JobName], r.Spec)
	}

	// Market-hours-sensitive data refreshes sub-daily on weekdays, not just
	// in the daily batch.
	assert.Contains(t, specs[jobs.JobPortfolioSnapshot], "0 14-21/2 * * 1-5")
	assert.Contains(t, specs[jobs.JobChartAverages], "0 15-21/2 * * 1-5")
}

func TestTrigger_EnqueuesWithDerivedID(t *testing.T) {
	s, queues, store := newTestScheduler(t)
	s.now = func() time.Time { return time.UnixMilli(1700000000000).UTC() }

	r := Registration{Queue: jobs.QueueContentFetch, JobName: jobs.JobFetchCommodities, Spec: "0 5 * * *"}
	s.trigger(queues[jobs.QueueContentFetch], r)

	job, err := store.Get(context.Background(), jobs.QueueContentFetch, "fetch-commodities-1700000000000")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobFetchCommodities, job.Name)
	assert.Equal(t, queue.StateWaiting, job.State)

	// The same trigger instant firing twice collapses into one job.
	s.trigger(queues[jobs.QueueContentFetch], r)
	counts, err := store.Counts(context.Background(), jobs.QueueContentFetch)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)
}
