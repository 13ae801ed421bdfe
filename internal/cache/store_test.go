package cache

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steam-achievement-widget/internal/domain"
	"github.com/steam-achievement-widget/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snapshotOf(appID string, records ...domain.AchievementRecord) domain.Snapshot {
	return domain.Snapshot{AppID: appID, Records: records}
}

func TestStore_GetTTLBoundary(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(10*time.Second, clock, testLogger())
	payload := domain.NewIdlePayload("idle")

	start := clock.Now()
	store.Put("p1", payload, domain.Snapshot{}, start)

	entry, ok := store.Get("p1", start.Add(10*time.Second-time.Millisecond))
	require.True(t, ok, "one millisecond before TTL must be a hit")
	assert.Equal(t, payload, entry.Payload)
	assert.Equal(t, start, entry.LastUpdateAt)

	_, ok = store.Get("p1", start.Add(10*time.Second))
	assert.False(t, ok, "exactly TTL must be a miss")

	_, ok = store.Get("p1", start.Add(time.Minute))
	assert.False(t, ok)
}

func TestStore_GetUnknownPlayer(t *testing.T) {
	store := NewStore(0, nil, testLogger())

	_, ok := store.Get("nobody", time.Now())

	assert.False(t, ok)
	assert.Equal(t, DefaultTTL, store.TTL())
	assert.Equal(t, domain.Snapshot{}, store.Snapshot("nobody"))
}

func TestStore_PutOverwritesWholesale(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(time.Second, clock, testLogger())

	first := snapshotOf("10", domain.AchievementRecord{ID: "A"})
	store.Put("p1", domain.NewIdlePayload("one"), first, clock.Now())

	clock.Advance(5 * time.Second)
	second := snapshotOf("20", domain.AchievementRecord{ID: "B"})
	store.Put("p1", domain.NewIdlePayload("two"), second, clock.Now())

	entry, ok := store.Get("p1", clock.Now())
	require.True(t, ok)
	assert.Equal(t, domain.NewIdlePayload("two"), entry.Payload)
	assert.Equal(t, second, store.Snapshot("p1"))
	assert.Equal(t, 1, store.Len())
}

func TestStore_GetOrRefresh(t *testing.T) {
	t.Run("hit within TTL does not refresh", func(t *testing.T) {
		clock := newFakeClock()
		store := NewStore(10*time.Second, clock, testLogger())
		var calls int32
		refresh := func(previous domain.Snapshot, now time.Time) (domain.Payload, domain.Snapshot, error) {
			atomic.AddInt32(&calls, 1)
			return domain.NewIdlePayload("idle"), previous, nil
		}

		first, err := store.GetOrRefresh("p1", refresh)
		require.NoError(t, err)

		clock.Advance(9 * time.Second)
		second, err := store.GetOrRefresh("p1", refresh)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

		clock.Advance(time.Second)
		_, err = store.GetOrRefresh("p1", refresh)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("refresh receives the previous snapshot even when expired", func(t *testing.T) {
		clock := newFakeClock()
		store := NewStore(time.Second, clock, testLogger())
		baseline := snapshotOf("10", domain.AchievementRecord{ID: "A"})
		store.Put("p1", domain.NewIdlePayload("old"), baseline, clock.Now())
		clock.Advance(2 * time.Second)

		var got domain.Snapshot
		var gotNow time.Time
		_, err := store.GetOrRefresh("p1", func(previous domain.Snapshot, now time.Time) (domain.Payload, domain.Snapshot, error) {
			got = previous
			gotNow = now
			return domain.NewIdlePayload("new"), previous, nil
		})

		require.NoError(t, err)
		assert.Equal(t, baseline, got)
		entry, ok := store.Get("p1", clock.Now())
		require.True(t, ok)
		assert.Equal(t, gotNow, entry.LastUpdateAt)
	})

	t.Run("failed refresh leaves the entry untouched", func(t *testing.T) {
		clock := newFakeClock()
		store := NewStore(time.Second, clock, testLogger())
		baseline := snapshotOf("10", domain.AchievementRecord{ID: "A"})
		lastGood := clock.Now()
		store.Put("p1", domain.NewIdlePayload("old"), baseline, lastGood)
		clock.Advance(2 * time.Second)

		boom := errors.New("boom")
		_, err := store.GetOrRefresh("p1", func(domain.Snapshot, time.Time) (domain.Payload, domain.Snapshot, error) {
			return nil, domain.Snapshot{}, boom
		})

		require.ErrorIs(t, err, boom)
		assert.Equal(t, baseline, store.Snapshot("p1"))
		_, ok := store.Get("p1", lastGood)
		assert.True(t, ok, "entry must keep its last good timestamp")
	})

	t.Run("concurrent callers share one refresh", func(t *testing.T) {
		clock := newFakeClock()
		store := NewStore(10*time.Second, clock, testLogger())

		var calls int32
		release := make(chan struct{})
		refresh := func(previous domain.Snapshot, now time.Time) (domain.Payload, domain.Snapshot, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return domain.NewIdlePayload("shared"), previous, nil
		}

		const callers = 20
		results := make([]domain.Payload, callers)
		errs := make([]error, callers)
		var started, done sync.WaitGroup
		started.Add(callers)
		done.Add(callers)
		for i := 0; i < callers; i++ {
			go func(i int) {
				defer done.Done()
				started.Done()
				results[i], errs[i] = store.GetOrRefresh("p1", refresh)
			}(i)
		}

		started.Wait()
		time.Sleep(20 * time.Millisecond)
		close(release)
		done.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, domain.NewIdlePayload("shared"), results[i])
		}
	})

	t.Run("different players refresh independently", func(t *testing.T) {
		store := NewStore(10*time.Second, newFakeClock(), testLogger())
		var calls int32
		refresh := func(previous domain.Snapshot, now time.Time) (domain.Payload, domain.Snapshot, error) {
			atomic.AddInt32(&calls, 1)
			return domain.NewIdlePayload("idle"), previous, nil
		}

		_, err := store.GetOrRefresh("p1", refresh)
		require.NoError(t, err)
		_, err = store.GetOrRefresh("p2", refresh)
		require.NoError(t, err)

		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
		assert.Equal(t, 2, store.Len())
	})
}

func TestStore_GetOrRefreshSecondCheckCountsHit(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// The fast path sees a stale entry, the check inside the flight a fresh one
	var calls int32
	clock := ClockFunc(func() time.Time {
		if atomic.AddInt32(&calls, 1) == 1 {
			return start.Add(time.Minute)
		}
		return start.Add(time.Second)
	})
	store := NewStore(10*time.Second, clock, testLogger())
	payload := domain.NewIdlePayload("idle")
	store.Put("p1", payload, domain.Snapshot{}, start)

	hits := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("miss"))

	got, err := store.GetOrRefresh("p1", func(domain.Snapshot, time.Time) (domain.Payload, domain.Snapshot, error) {
		t.Fatal("a fresh entry must not be refreshed")
		return nil, domain.Snapshot{}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, hits+1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, misses, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("miss")))
}

func TestStore_LatestIgnoresTTL(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(time.Second, clock, testLogger())

	_, ok := store.Latest("p1")
	assert.False(t, ok)

	payload := domain.NewIdlePayload("idle")
	store.Put("p1", payload, domain.Snapshot{}, clock.Now())
	clock.Advance(time.Hour)

	_, fresh := store.Get("p1", clock.Now())
	entry, ok := store.Latest("p1")
	assert.False(t, fresh)
	require.True(t, ok)
	assert.Equal(t, payload, entry.Payload)
}
