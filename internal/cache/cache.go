// Package cache provides a size-bounded in-memory TTL cache with request
// deduplication and a stoppable background expiry sweep.
package cache

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCapacity bounds the number of entries held.
	DefaultCapacity = 200

	// sweepInterval is how often the background sweep wakes up.
	sweepInterval = 2 * time.Minute
	// sweepMinGap skips a sweep if one ran recently, e.g. because a caller
	// invoked Cleanup directly.
	sweepMinGap = time.Minute

	// evictThreshold and evictFraction drive ForceCleanup: when the store is
	// still above evictThreshold of capacity after dropping expired entries,
	// the oldest evictFraction of what remains is evicted.
	evictThreshold = 0.8
	evictFraction  = 0.25
)

type entry[T any] struct {
	value     T
	createdAt time.Time
	ttl       time.Duration
}

func (e entry[T]) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Store is a TTL cache for values of one type. All operations are safe for
// concurrent use. Producer failures in GetOrFetch are never cached; the key
// stays a miss so a later call may retry.
type Store[T any] struct {
	mu       sync.Mutex
	entries  map[string]entry[T]
	capacity int

	group singleflight.Group

	lastSweep time.Time
	stopSweep chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	logger *slog.Logger
	now    func() time.Time
}

// New creates a store with the given capacity. capacity <= 0 uses
// DefaultCapacity. The background sweep is not started; see StartSweep.
func New[T any](capacity int, logger *slog.Logger) *Store[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[T]{
		entries:   make(map[string]entry[T]),
		capacity:  capacity,
		stopSweep: make(chan struct{}),
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns the cached value for key if present and not expired.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Stale returns the cached value for key even if it has expired. Used as the
// offline fallback when a refresh fails.
func (s *Store[T]) Stale(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL. When the store is at
// capacity and key is new, the oldest entry is evicted first.
func (s *Store[T]) Set(key string, value T, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value, ttl)
}

func (s *Store[T]) set(key string, value T, ttl time.Duration) {
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.capacity {
		s.evictOldest(1)
	}
	s.entries[key] = entry[T]{value: value, createdAt: s.now(), ttl: ttl}
}

// evictOldest removes the n entries with the oldest insertion/last-write
// time. Caller holds the lock.
func (s *Store[T]) evictOldest(n int) {
	if n <= 0 {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		all = append(all, aged{k, e.createdAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(s.entries, a.key)
	}
}

// GetOrFetch returns the cached value for key, or runs producer to fill it.
// Concurrent callers for the same key share a single in-flight producer call;
// a producer failure propagates to every waiter and leaves the key a miss.
func (s *Store[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	return s.Refresh(ctx, key, ttl, producer)
}

// Refresh runs producer and caches the result regardless of any fresh entry,
// still deduplicating concurrent identical requests.
func (s *Store[T]) Refresh(ctx context.Context, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		value, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		s.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate removes key from the store.
func (s *Store[T]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// InvalidatePattern removes every key matching the regular expression and
// returns how many were dropped.
func (s *Store[T]) InvalidatePattern(re *regexp.Regexp) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if re.MatchString(k) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Cleanup drops expired entries and returns how many were removed.
func (s *Store[T]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanup()
}

func (s *Store[T]) cleanup() int {
	now := s.now()
	n := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	s.lastSweep = now
	return n
}

// ForceCleanup drops expired entries, then if the store is still above 80%
// of capacity evicts the oldest 25% of the remaining entries. Returns the
// total number removed.
func (s *Store[T]) ForceCleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.cleanup()
	if float64(len(s.entries)) > evictThreshold*float64(s.capacity) {
		n := int(float64(len(s.entries)) * evictFraction)
		if n < 1 {
			n = 1
		}
		s.evictOldest(n)
		removed += n
	}
	return removed
}

// Len returns the current number of entries, expired ones included.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartSweep launches the periodic background sweep. A sweep is skipped when
// one ran less than a minute ago. Stop must be called on teardown.
func (s *Store[T]) StartSweep() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				recent := s.now().Sub(s.lastSweep) < sweepMinGap
				s.mu.Unlock()
				if recent {
					continue
				}
				expired := s.Cleanup()
				evicted := s.ForceCleanup()
				if expired+evicted > 0 {
					s.logger.Debug("cache sweep", "expired", expired, "evicted", evicted, "size", s.Len())
				}
			case <-s.stopSweep:
				return
			}
		}
	}()
}

// Stop terminates the background sweep. Safe to call more than once.
func (s *Store[T]) Stop() {
	s.stopOnce.Do(func() { close(s.stopSweep) })
	s.wg.Wait()
}
