package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"nearbus/internal/transit"
)

// Scheduler emits refresh-due signals at a fixed interval. Kick injects an
// immediate signal, used when the rider moves or pulls to refresh.
type Scheduler struct {
	interval time.Duration
	due      chan time.Time
	stop     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(interval time.Duration) *Scheduler {
	return &Scheduler{
		interval: interval,
		due:      make(chan time.Time, 1),
		stop:     make(chan struct{}),
	}
}

// Start begins ticking. Safe to call once; Stop ends it deterministically.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				s.signal(now)
			case <-s.stop:
				return
			}
		}
	}()
}

// Due delivers refresh signals. Signals coalesce: a slow consumer sees at
// most one pending tick.
func (s *Scheduler) Due() <-chan time.Time {
	return s.due
}

// Kick requests an immediate refresh without waiting for the interval.
func (s *Scheduler) Kick() {
	s.signal(time.Now())
}

func (s *Scheduler) signal(now time.Time) {
	select {
	case s.due <- now:
	default:
	}
}

// Stop halts the ticker and waits for the goroutine to exit. Idempotent.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// LocationSource supplies the rider position for scheduled cycles. ok is
// false when no position is known yet.
type LocationSource func() (loc transit.Coordinates, ok bool)

// Run evaluates on every scheduler signal until ctx is cancelled. Cycle
// errors are logged, never fatal; an in-flight cycle simply swallows the
// tick.
func (e *Engine) Run(ctx context.Context, sched *Scheduler, source LocationSource, opts Options) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sched.Due():
			loc, ok := source()
			if !ok {
				e.logger.Debug("scheduled cycle skipped, no location yet")
				continue
			}
			if _, err := e.Evaluate(ctx, &loc, opts); err != nil {
				if errors.Is(err, ErrCycleInFlight) {
					continue
				}
				e.logger.Warn("scheduled cycle failed", "error", err)
			}
		}
	}
}
