// Package fetch wraps the raw agency client with cache-first reads,
// exponential-backoff retry, payload sanitization and stale-cache fallback.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"nearbus/internal/cache"
	"nearbus/internal/metrics"
	"nearbus/internal/transit"
)

// Retry policy: network errors only, 3 retries, exponential backoff with
// jitter. Authentication and validation errors fail immediately.
const (
	maxRetries   = 3
	baseDelay    = time.Second
	backoffGrow  = 2
	maxDelay     = 10 * time.Second
	jitterFactor = 0.25
)

// Options tweak a single Fetch call.
type Options struct {
	// ForceRefresh bypasses the fresh-cache read (the in-flight
	// deduplication still applies).
	ForceRefresh bool
	// MaxAge overrides the fetcher's default TTL when > 0.
	MaxAge time.Duration
}

// Result is a fetched record set with its provenance.
type Result[T any] struct {
	Records []T
	// Stale marks data served from an expired cache entry after the remote
	// call failed. The caller should surface it as offline/cached data.
	Stale bool
	// FromCache marks a fresh cache hit (no remote call made).
	FromCache bool
}

// Fetcher retrieves one kind of record resiliently. The zero value is not
// usable; construct per-kind instances with the New* helpers in kinds.go.
type Fetcher[T any] struct {
	kind  string
	ttl   time.Duration
	store *cache.Store[[]T]

	call     func(ctx context.Context) ([]T, error)
	keep     func(T) bool    // nil keeps everything
	post     func([]T) []T   // optional post-processing after sanitization
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger
	observer *metrics.Collector // optional
}

// Fetch returns the records for key, consulting the cache first unless
// ForceRefresh is set. On remote failure it retries network errors with
// backoff, then falls back to the last cached value (even an expired one)
// before propagating the error.
func (f *Fetcher[T]) Fetch(ctx context.Context, key string, opts Options) (Result[T], error) {
	ttl := f.ttl
	if opts.MaxAge > 0 {
		ttl = opts.MaxAge
	}

	if !opts.ForceRefresh {
		if v, ok := f.store.Get(key); ok {
			f.count(func(c *metrics.Collector) { c.CacheHits.WithLabelValues(f.kind).Inc() })
			return Result[T]{Records: v, FromCache: true}, nil
		}
		f.count(func(c *metrics.Collector) { c.CacheMisses.WithLabelValues(f.kind).Inc() })
	}

	v, err := f.store.Refresh(ctx, key, ttl, f.fetchRemote)
	if err != nil {
		if stale, ok := f.store.Stale(key); ok {
			f.logger.Warn("serving stale cached data after fetch failure",
				"kind", f.kind, "key", key, "error", err)
			f.count(func(c *metrics.Collector) { c.FetchFallbacks.WithLabelValues(f.kind).Inc() })
			return Result[T]{Records: stale, Stale: true}, nil
		}
		f.count(func(c *metrics.Collector) { c.FetchFailures.WithLabelValues(f.kind).Inc() })
		return Result[T]{}, err
	}
	return Result[T]{Records: v}, nil
}

// Invalidate drops the cached entry for key.
func (f *Fetcher[T]) Invalidate(key string) { f.store.Invalidate(key) }

// Close stops the underlying cache's background sweep.
func (f *Fetcher[T]) Close() { f.store.Stop() }

// fetchRemote runs the remote call with the retry policy and sanitizes the
// payload before it is cached.
func (f *Fetcher[T]) fetchRemote(ctx context.Context) ([]T, error) {
	var lastErr error
	delay := baseDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			f.count(func(c *metrics.Collector) { c.FetchRetries.WithLabelValues(f.kind).Inc() })
			if err := f.sleep(ctx, withJitter(delay)); err != nil {
				return nil, err
			}
			delay *= backoffGrow
			if delay > maxDelay {
				delay = maxDelay
			}
		}

		records, err := f.call(ctx)
		if err == nil {
			return f.sanitize(records), nil
		}
		lastErr = err

		var te *transit.Error
		if errors.As(err, &te) && !te.Retryable() {
			// Authentication and validation errors cannot be fixed by
			// trying again.
			return nil, err
		}
		f.logger.Warn("fetch attempt failed", "kind", f.kind, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// sanitize drops records that fail the per-kind validity check, then applies
// the per-kind post-processing.
func (f *Fetcher[T]) sanitize(records []T) []T {
	if f.keep != nil {
		kept := records[:0]
		for _, r := range records {
			if f.keep(r) {
				kept = append(kept, r)
			}
		}
		if dropped := len(records) - len(kept); dropped > 0 {
			f.logger.Warn("discarded invalid records", "kind", f.kind, "dropped", dropped)
			f.count(func(c *metrics.Collector) {
				c.RecordsDropped.WithLabelValues(f.kind).Add(float64(dropped))
			})
		}
		records = kept
	}
	if f.post != nil {
		records = f.post(records)
	}
	return records
}

func (f *Fetcher[T]) count(fn func(*metrics.Collector)) {
	if f.observer != nil {
		fn(f.observer)
	}
}

// withJitter spreads a delay by ±25% so synchronized clients don't retry in
// lockstep.
func withJitter(d time.Duration) time.Duration {
	spread := 1 - jitterFactor + 2*jitterFactor*rand.Float64()
	return time.Duration(float64(d) * spread)
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
