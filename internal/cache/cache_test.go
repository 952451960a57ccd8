package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a mutable time source for crossing midnight in tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestNamespace(t *testing.T, clock *fakeClock) *Namespace[[]string] {
	t.Helper()
	return NewNamespace[[]string]("test", zerolog.Nop(), WithClock(clock.Now))
}

func TestNextUTCMidnight(t *testing.T) {
	t.Run("mid-day rolls to next day", func(t *testing.T) {
		at := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), NextUTCMidnight(at))
	})

	t.Run("exactly midnight rolls to the following midnight", func(t *testing.T) {
		at := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), NextUTCMidnight(at))
	})

	t.Run("non-UTC input is normalized", func(t *testing.T) {
		loc := time.FixedZone("UTC+5", 5*3600)
		at := time.Date(2024, 3, 15, 2, 0, 0, 0, loc) // 21:00 UTC on the 14th
		assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), NextUTCMidnight(at))
	})
}

func TestNamespace_GetCachesUntilMidnight(t *testing.T) {
	// Scenario: fetch at 09:00 UTC, read again at 23:00 same day (no refetch),
	// read at 00:05 next day (refetch).
	clock := &fakeClock{now: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)}
	ns := newTestNamespace(t, clock)

	ipos := []string{"Acme", "Globex", "Initech"}
	calls := 0
	fetcher := func(ctx context.Context) ([]string, error) {
		calls++
		return ipos, nil
	}

	got, err := ns.Get(context.Background(), "daily-ipos", fetcher)
	require.NoError(t, err)
	assert.Equal(t, ipos, got)
	assert.Equal(t, 1, calls)

	// 23:00 UTC same day: still valid, fetcher not invoked again.
	clock.now = time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)
	got, err = ns.Get(context.Background(), "daily-ipos", fetcher)
	require.NoError(t, err)
	assert.Equal(t, ipos, got)
	assert.Equal(t, 1, calls)

	// 00:05 UTC next day: expired, fetcher invoked again.
	clock.now = time.Date(2024, 3, 16, 0, 5, 0, 0, time.UTC)
	_, err = ns.Get(context.Background(), "daily-ipos", fetcher)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestNamespace_StaleFallback(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)}
	ns := newTestNamespace(t, clock)

	t.Run("expired entry served when fetcher fails", func(t *testing.T) {
		ns.Set("quotes", []string{"stale quote"})

		clock.now = time.Date(2024, 3, 16, 8, 0, 0, 0, time.UTC)
		got, err := ns.Get(context.Background(), "quotes", func(ctx context.Context) ([]string, error) {
			return nil, errors.New("upstream down")
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"stale quote"}, got)

		stats := ns.Stats()
		assert.Equal(t, int64(1), stats.StaleHits)
	})

	t.Run("error propagates when no entry exists", func(t *testing.T) {
		wantErr := errors.New("upstream down")
		_, err := ns.Get(context.Background(), "never-fetched", func(ctx context.Context) ([]string, error) {
			return nil, wantErr
		})
		assert.ErrorIs(t, err, wantErr)
	})
}

func TestNamespace_SetBypassesFetchPath(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	ns := newTestNamespace(t, clock)

	ns.Set("prewarmed", []string{"a", "b"})

	got, err := ns.Get(context.Background(), "prewarmed", func(ctx context.Context) ([]string, error) {
		t.Fatal("fetcher must not run for a valid pre-warmed entry")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	entry, ok := ns.Peek("prewarmed")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), entry.ExpiresAt)
}

func TestNamespace_InvalidateAndClear(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	ns := newTestNamespace(t, clock)

	ns.Set("a", []string{"1"})
	ns.Set("b", []string{"2"})

	ns.Invalidate("a")
	_, ok := ns.Peek("a")
	assert.False(t, ok)
	_, ok = ns.Peek("b")
	assert.True(t, ok)

	ns.Clear()
	assert.Equal(t, 0, ns.Stats().Entries)
}

func TestNamespace_Stats(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	ns := newTestNamespace(t, clock)

	fetcher := func(ctx context.Context) ([]string, error) {
		return []string{"v"}, nil
	}

	_, err := ns.Get(context.Background(), "k", fetcher) // miss
	require.NoError(t, err)
	_, err = ns.Get(context.Background(), "k", fetcher) // hit
	require.NoError(t, err)
	_, err = ns.Get(context.Background(), "k", fetcher) // hit
	require.NoError(t, err)

	stats := ns.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.StaleHits)
	assert.Equal(t, 1, stats.Entries)
}
