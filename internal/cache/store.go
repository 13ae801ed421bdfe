// Package cache holds the per-player widget cache: the last served payload,
// the last canonical snapshot, and when they were produced.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/steam-achievement-widget/internal/domain"
	"github.com/steam-achievement-widget/internal/metrics"
)

// DefaultTTL is how long a refreshed entry is served without calling upstream
const DefaultTTL = 10 * time.Second

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now calls f
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock
var SystemClock Clock = ClockFunc(time.Now)

// Entry is the cached state for one player
type Entry struct {
	LastUpdateAt time.Time
	Payload      domain.Payload
	Snapshot     domain.Snapshot
}

// RefreshFunc produces a new payload and snapshot from the previous snapshot.
// previous is the zero Snapshot before the first successful refresh.
type RefreshFunc func(previous domain.Snapshot, now time.Time) (domain.Payload, domain.Snapshot, error)

// Store is a per-player cache with a time-to-live. Entries are never evicted;
// an expired entry is a miss and is overwritten by the next refresh.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	flight  singleflight.Group
	ttl     time.Duration
	clock   Clock
	logger  *slog.Logger
}

// NewStore creates a new per-player cache
func NewStore(ttl time.Duration, clock Clock, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Store{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
	}
}

// TTL returns the configured time-to-live
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the entry for playerID if it was refreshed less than TTL before now
func (s *Store) Get(playerID string, now time.Time) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[playerID]
	if !ok || entry.Payload == nil {
		return Entry{}, false
	}
	if now.Sub(entry.LastUpdateAt) >= s.ttl {
		return Entry{}, false
	}
	return *entry, true
}

// Put overwrites the entry for playerID
func (s *Store) Put(playerID string, payload domain.Payload, snapshot domain.Snapshot, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[playerID] = &Entry{
		LastUpdateAt: now,
		Payload:      payload,
		Snapshot:     snapshot,
	}
}

// Latest returns the entry for playerID regardless of age
func (s *Store) Latest(playerID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[playerID]
	if !ok || entry.Payload == nil {
		return Entry{}, false
	}
	return *entry, true
}

// Snapshot returns the stored snapshot for playerID regardless of age
func (s *Store) Snapshot(playerID string) domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.entries[playerID]; ok {
		return entry.Snapshot
	}
	return domain.Snapshot{}
}

// Len returns the number of players seen
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetOrRefresh serves the cached payload for playerID while it is fresh.
// Otherwise it runs refresh and stores the result. Concurrent callers for the
// same player share one refresh and receive its result. A failed refresh
// leaves the entry untouched.
func (s *Store) GetOrRefresh(playerID string, refresh RefreshFunc) (domain.Payload, error) {
	if entry, ok := s.Get(playerID, s.clock.Now()); ok {
		metrics.CacheHit()
		return entry.Payload, nil
	}

	result, err, shared := s.flight.Do(playerID, func() (interface{}, error) {
		now := s.clock.Now()

		// Another flight may have completed between the fast path and here
		if entry, ok := s.Get(playerID, now); ok {
			metrics.CacheHit()
			return entry.Payload, nil
		}

		metrics.CacheMiss()
		payload, snapshot, err := refresh(s.Snapshot(playerID), now)
		if err != nil {
			return nil, err
		}

		s.Put(playerID, payload, snapshot, now)
		return payload, nil
	})
	if shared {
		metrics.CacheShared()
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("player cache refreshed", "player_id", playerID, "shared", shared)
	return result.(domain.Payload), nil
}
