// Package broker maintains the single long-lived connection to the shared
// Redis instance that backs the durable queues.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/backoff"
)

// Config holds broker connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// PingInterval is how often the monitor checks connection health.
	// Defaults to 15s.
	PingInterval time.Duration

	// ReconnectInitial/ReconnectMax bound the reconnect backoff.
	// Defaults: 1s initial, 30s cap.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Connection wraps a go-redis client with health monitoring and automatic
// reconnect backoff. go-redis re-dials transparently per command; the monitor
// exists to surface broker outages as infrastructure errors (worker-level
// `error` events) instead of per-job failures, and to pace health checks with
// capped exponential backoff while the broker is down.
type Connection struct {
	client *redis.Client
	cfg    Config
	log    zerolog.Logger

	// onDown is invoked once per outage with the ping error; onUp once per
	// recovery. Both are optional.
	onDown func(error)
	onUp   func()

	stop    chan struct{}
	stopped bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// Option configures a Connection.
type Option func(*Connection)

// OnDown registers a callback invoked when the broker becomes unreachable.
func OnDown(fn func(error)) Option {
	return func(c *Connection) { c.onDown = fn }
}

// OnUp registers a callback invoked when the broker recovers.
func OnUp(fn func()) Option {
	return func(c *Connection) { c.onUp = fn }
}

// Connect creates the broker connection and verifies it with a ping.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger, opts ...Option) (*Connection, error) {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	conn := &Connection{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "broker").Logger(),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(conn)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		// Do not fail startup on a transient broker outage - the monitor
		// keeps retrying with backoff once started.
		conn.log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Broker unreachable at startup")
	} else {
		conn.log.Info().Str("addr", cfg.Addr).Msg("Broker connected")
	}

	return conn, nil
}

// Client returns the underlying redis client for queue stores.
func (c *Connection) Client() *redis.Client { return c.client }

// Ping checks broker health.
func (c *Connection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// StartMonitor launches the health-check loop. While the broker is healthy it
// pings every PingInterval; during an outage it retries with exponential
// backoff capped at ReconnectMax.
func (c *Connection) StartMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	c.wg.Add(1)
	go c.monitorLoop()
}

func (c *Connection) monitorLoop() {
	defer c.wg.Done()

	strategy := backoff.NewExponential(c.cfg.ReconnectInitial, c.cfg.ReconnectMax)
	down := false
	attempt := 0

	for {
		wait := c.cfg.PingInterval
		if down {
			attempt++
			wait = strategy.Delay(attempt)
		}

		select {
		case <-c.stop:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.client.Ping(ctx).Err()
		cancel()

		switch {
		case err != nil && !down:
			down = true
			attempt = 0
			c.log.Error().Err(err).Msg("Broker connection lost, reconnecting with backoff")
			if c.onDown != nil {
				c.onDown(err)
			}
		case err != nil && down:
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("Broker still unreachable")
		case err == nil && down:
			down = false
			attempt = 0
			c.log.Info().Msg("Broker connection restored")
			if c.onUp != nil {
				c.onUp()
			}
		}
	}
}

// Close stops the monitor and closes the underlying client.
func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.stopped {
		close(c.stop)
		c.stopped = true
	}
	c.mu.Unlock()

	c.wg.Wait()
	return c.client.Close()
}
