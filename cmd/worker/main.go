// Package main is the entry point for the marketbrief background worker.
// It runs the newsletter content pipeline: queue workers, the daily
// orchestration saga, the cron scheduler and the operational HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/marketbrief/marketbrief/internal/archive"
	"github.com/marketbrief/marketbrief/internal/broker"
	"github.com/marketbrief/marketbrief/internal/clients/ai"
	"github.com/marketbrief/marketbrief/internal/clients/markets"
	"github.com/marketbrief/marketbrief/internal/clients/news"
	"github.com/marketbrief/marketbrief/internal/config"
	"github.com/marketbrief/marketbrief/internal/database"
	"github.com/marketbrief/marketbrief/internal/jobs"
	"github.com/marketbrief/marketbrief/internal/queue"
	"github.com/marketbrief/marketbrief/internal/repository"
	"github.com/marketbrief/marketbrief/internal/scheduler"
	"github.com/marketbrief/marketbrief/internal/server"
	"github.com/marketbrief/marketbrief/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting marketbrief worker")

	// Content store.
	db, err := database.New(filepath.Join(cfg.DataDir, "content.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open content database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database schema")
	}

	// Job store. Dev mode runs fully in memory; production uses the Redis
	// broker with health monitoring and reconnect backoff.
	var (
		store      queue.Store
		brokerConn *broker.Connection
	)
	if cfg.DevMode {
		log.Warn().Msg("Dev mode: jobs are stored in memory and lost on restart")
		store = queue.NewMemoryStore()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		brokerConn, err = broker.Connect(ctx, broker.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up broker connection")
		}
		defer brokerConn.Close()
		brokerConn.StartMonitor()
		store = queue.NewRedisStore(brokerConn.Client())
	}

	// Queues.
	byName := make(map[string]*queue.Queue)
	for _, qcfg := range jobs.QueueConfigs() {
		byName[qcfg.Name] = queue.New(qcfg, store, log)
	}
	queues := &jobs.Queues{
		ContentFetch:  byName[jobs.QueueContentFetch],
		Summarize:     byName[jobs.QueueSummarize],
		Newsletter:    byName[jobs.QueueNewsletter],
		Orchestration: byName[jobs.QueueOrchestration],
	}

	// Collaborators.
	marketsClient := markets.NewClient(cfg.MarketDataBaseURL, log)
	newsClient := news.NewClient(cfg.NewsAPIBaseURL, cfg.NewsAPIKey, log)

	var summarizer ai.Summarizer
	if cfg.AIAPIKey != "" {
		summarizer = ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, log)
	} else {
		log.Warn().Msg("No AI key configured, summaries use the deterministic fallback")
		summarizer = ai.Fallback{}
	}

	newsletterRepo := repository.NewNewsletterRepository(db.Conn(), log)
	articleRepo := repository.NewArticleRepository(db.Conn(), log)
	quoteRepo := repository.NewQuoteRepository(db.Conn(), log)

	handlerOpts := []jobs.HandlerOption{}
	if cfg.Archive.Enabled() {
		uploader, err := archive.NewUploader(context.Background(), cfg.Archive, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up issue archive")
		}
		handlerOpts = append(handlerOpts, jobs.WithArchive(uploader))
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Issue archive enabled")
	}

	caches := jobs.NewCaches(log)
	handlers := jobs.NewHandlers(queues, caches,
		marketsClient, newsClient, summarizer,
		newsletterRepo, articleRepo, quoteRepo,
		log, handlerOpts...)

	// Workers, one per queue.
	workerOpts := []queue.WorkerOption{
		queue.OnFailed(func(job *queue.Job, err error) {
			log.Error().Err(err).Str("job_id", job.ID).Str("job_name", job.Name).Msg("Job failed permanently")
		}),
		queue.OnError(func(err error) {
			log.Error().Err(err).Msg("Worker infrastructure error")
		}),
	}
	workers := []*queue.Worker{
		queue.NewWorker(queues.ContentFetch, log, workerOpts...),
		queue.NewWorker(queues.Summarize, log, workerOpts...),
		queue.NewWorker(queues.Newsletter, log, workerOpts...),
		queue.NewWorker(queues.Orchestration, log, workerOpts...),
	}
	handlers.RegisterAll(workers[0], workers[1], workers[2], workers[3])

	for _, w := range workers {
		w.Start()
	}

	// Recurring schedules, all in UTC.
	sched := scheduler.New(byName, log)
	if err := sched.RegisterAll(scheduler.DefaultSchedule()); err != nil {
		log.Fatal().Err(err).Msg("Failed to register schedules")
	}
	sched.Start()

	// Operational HTTP API.
	var pinger server.Pinger
	if brokerConn != nil {
		pinger = brokerConn
	}
	srv := server.New(
		server.Config{Port: cfg.Port, DevMode: cfg.DevMode},
		byName,
		cacheProviders(caches),
		db,
		pinger,
		queues.Orchestration,
		log,
	)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Worker started")

	// Block until SIGINT/SIGTERM, then drain: stop the scheduler first so no
	// new jobs arrive, let in-flight jobs finish, then close the HTTP server
	// and broker connection.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		if err := w.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Worker did not drain in time, jobs will resume on restart")
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}

	log.Info().Msg("Worker stopped")
}

// cacheProviders adapts the cache namespaces to the ops API's stats surface.
func cacheProviders(c *jobs.Caches) []server.StatsProvider {
	return []server.StatsProvider{
		c.Markets, c.News, c.Commodities, c.VC, c.Charts, c.Signals,
	}
}
