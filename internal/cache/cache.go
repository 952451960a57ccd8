// Package cache provides namespaced, daily-expiring caches for upstream
// content. Entries are valid until the next UTC midnight after creation and
// expiry is checked lazily on read; there is no background eviction.
//
// Each content type owns its own namespace (quotes, insights, ipos, news,
// crypto, stocks) so keys never collide across unrelated data. Namespaces are
// constructed explicitly and injected into the components that need them.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is a single cached value with its validity window.
type Entry[T any] struct {
	Data      T
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the entry is still fresh at the given instant.
func (e Entry[T]) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Stats holds hit/miss counters for a namespace.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	StaleHits int64 `json:"stale_hits"`
	Entries   int   `json:"entries"`
}

// StatsProvider is implemented by every namespace regardless of its value
// type, so the ops API can aggregate cache statistics.
type StatsProvider interface {
	Name() string
	Stats() Stats
}

// Option configures a Namespace.
type Option func(*options)

type options struct {
	now     func() time.Time
	logHits bool
}

// WithClock overrides the time source. Used by tests to cross midnight.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHitLogging enables debug logging of cache hits.
func WithHitLogging() Option {
	return func(o *options) { o.logHits = true }
}

// Namespace is a named partition of daily-expiring entries.
//
// Concurrent Get calls for the same key during a miss may each invoke the
// fetcher independently; the duplicate fetch is accepted rather than adding
// single-flight locking.
type Namespace[T any] struct {
	name    string
	now     func() time.Time
	logHits bool
	log     zerolog.Logger

	mu      sync.RWMutex
	entries map[string]Entry[T]

	statsMu   sync.Mutex
	hits      int64
	misses    int64
	staleHits int64
}

// NewNamespace creates a cache namespace for one content type.
func NewNamespace[T any](name string, log zerolog.Logger, opts ...Option) *Namespace[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Namespace[T]{
		name:    name,
		now:     o.now,
		logHits: o.logHits,
		log:     log.With().Str("component", "cache").Str("namespace", name).Logger(),
		entries: make(map[string]Entry[T]),
	}
}

// Name returns the namespace identifier.
func (n *Namespace[T]) Name() string { return n.name }

// Get returns the cached value for key if a valid entry exists, otherwise it
// invokes fetcher and stores the result with the standard midnight expiry.
//
// If the fetcher fails and a stale (expired) entry exists, the stale value is
// returned instead of the error. The error is only propagated when there is
// nothing at all to serve.
func (n *Namespace[T]) Get(ctx context.Context, key string, fetcher func(ctx context.Context) (T, error)) (T, error) {
	now := n.now()

	n.mu.RLock()
	entry, exists := n.entries[key]
	n.mu.RUnlock()

	if exists && entry.Valid(now) {
		n.recordHit()
		if n.logHits {
			n.log.Debug().Str("key", key).Time("expires_at", entry.ExpiresAt).Msg("Cache hit")
		}
		return entry.Data, nil
	}

	n.recordMiss()

	value, err := fetcher(ctx)
	if err != nil {
		if exists {
			// Graceful degradation: serve yesterday's data rather than nothing.
			n.recordStaleHit()
			n.log.Warn().
				Err(err).
				Str("key", key).
				Time("created_at", entry.CreatedAt).
				Msg("Fetch failed, serving stale cache entry")
			return entry.Data, nil
		}
		var zero T
		return zero, err
	}

	n.store(key, value, now)
	return value, nil
}

// Set writes an entry unconditionally with the standard midnight expiry,
// bypassing the fetch path. Used for pre-warming.
func (n *Namespace[T]) Set(key string, value T) {
	n.store(key, value, n.now())
}

// Peek returns the entry for key without touching counters or expiry.
// It reports whether an entry exists at all, valid or stale.
func (n *Namespace[T]) Peek(key string) (Entry[T], bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	entry, ok := n.entries[key]
	return entry, ok
}

// Invalidate removes a single entry.
func (n *Namespace[T]) Invalidate(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, key)
}

// Clear removes all entries in the namespace.
func (n *Namespace[T]) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = make(map[string]Entry[T])
}

// Stats returns a snapshot of the namespace counters.
func (n *Namespace[T]) Stats() Stats {
	n.mu.RLock()
	count := len(n.entries)
	n.mu.RUnlock()

	n.statsMu.Lock()
	defer n.statsMu.Unlock()
	return Stats{
		Hits:      n.hits,
		Misses:    n.misses,
		StaleHits: n.staleHits,
		Entries:   count,
	}
}

func (n *Namespace[T]) store(key string, value T, now time.Time) {
	entry := Entry[T]{
		Data:      value,
		CreatedAt: now,
		ExpiresAt: NextUTCMidnight(now),
	}

	n.mu.Lock()
	n.entries[key] = entry
	n.mu.Unlock()
}

func (n *Namespace[T]) recordHit() {
	n.statsMu.Lock()
	n.hits++
	n.statsMu.Unlock()
}

func (n *Namespace[T]) recordMiss() {
	n.statsMu.Lock()
	n.misses++
	n.statsMu.Unlock()
}

func (n *Namespace[T]) recordStaleHit() {
	n.statsMu.Lock()
	n.staleHits++
	n.statsMu.Unlock()
}

// NextUTCMidnight returns the first UTC midnight strictly after t.
func NextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}
