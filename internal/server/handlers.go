package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/marketbrief/marketbrief/internal/cache"
	"github.com/marketbrief/marketbrief/internal/jobs"
	"github.com/marketbrief/marketbrief/internal/queue"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startupTime).Seconds()),
		"timestamp":      time.Now().UTC(),
	})
}

// handleSystemHealth reports process and dependency health.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuAvg := 0.0
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuAvg = percents[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	memPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		memPercent = memStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	dbStatus := "ok"
	if err := s.db.HealthCheck(r.Context()); err != nil {
		dbStatus = err.Error()
	}

	brokerStatus := "ok"
	if s.broker == nil {
		brokerStatus = "not configured"
	} else if err := s.broker.Ping(r.Context()); err != nil {
		brokerStatus = err.Error()
	}

	status := http.StatusOK
	if dbStatus != "ok" {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]any{
		"cpu_percent":    cpuAvg,
		"memory_percent": memPercent,
		"database":       dbStatus,
		"broker":         brokerStatus,
		"uptime_seconds": int64(time.Since(s.startupTime).Seconds()),
		"timestamp":      time.Now().UTC(),
	})
}

// handleQueueStats reports per-queue job counts.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]queue.Counts, len(s.queues))
	for name, q := range s.queues {
		counts, err := q.Counts(r.Context())
		if err != nil {
			s.log.Error().Err(err).Str("queue", name).Msg("Failed to read queue counts")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		stats[name] = counts
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleCacheStats reports per-namespace cache counters.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]cache.Stats, len(s.caches))
	for _, c := range s.caches {
		stats[c.Name()] = c.Stats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleOrchestrate triggers a daily orchestration run outside its schedule.
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	id := fmt.Sprintf("daily-%d", time.Now().UTC().UnixMilli())

	job, err := s.orchestrate.Enqueue(r.Context(), jobs.JobDailyOrchestration, nil, queue.WithJobID(id))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to enqueue orchestration")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.Info().Str("job_id", job.ID).Msg("Manual orchestration triggered")
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  job.ID,
		"queue":  jobs.QueueOrchestration,
		"status": string(job.State),
	})
}
