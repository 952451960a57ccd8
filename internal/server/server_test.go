package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbrief/marketbrief/internal/cache"
	"github.com/marketbrief/marketbrief/internal/database"
	"github.com/marketbrief/marketbrief/internal/domain"
	"github.com/marketbrief/marketbrief/internal/jobs"
	"github.com/marketbrief/marketbrief/internal/queue"
)

func newTestServer(t *testing.T) (*Server, *queue.MemoryStore) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	store := queue.NewMemoryStore()
	queues := make(map[string]*queue.Queue)
	for _, cfg := range jobs.QueueConfigs() {
		queues[cfg.Name] = queue.New(cfg, store, log)
	}

	markets := cache.NewNamespace[domain.MarketData]("markets", log)
	markets.Set("2024-03-15", domain.MarketData{})

	srv := New(
		Config{Port: 0, DevMode: true},
		queues,
		[]StatsProvider{markets},
		db,
		nil,
		queues[jobs.QueueOrchestration],
		log,
	)
	return srv, store
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSystemHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/api/system/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "not configured", body["broker"])
}

func TestQueueStats(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.queues[jobs.QueueContentFetch].Enqueue(context.Background(), jobs.JobFetchMarkets, nil)
	require.NoError(t, err)

	rec := get(t, srv, "/api/queues/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]queue.Counts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body[jobs.QueueContentFetch].Waiting)
	assert.Zero(t, body[jobs.QueueNewsletter].Waiting)
}

func TestCacheStats(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/api/cache/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body["markets"].Entries)
}

func TestOrchestrate(t *testing.T) {
	srv, store := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/orchestrate", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	jobID := body["jobId"].(string)

	job, err := store.Get(context.Background(), jobs.QueueOrchestration, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobDailyOrchestration, job.Name)
}
