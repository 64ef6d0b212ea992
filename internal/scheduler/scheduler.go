// Package scheduler drives periodic refresh ("tick") cycles over the live
// connections. At most one cycle runs at a time; firings that arrive while
// a cycle is in flight are skipped.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/dispatch"
	"github.com/grovetools/virtsession/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Target is one connection visited by a cycle.
type Target interface {
	URI() string
	Tick(ctx context.Context) error
	Close() error
}

// Source snapshots the targets for a cycle, in registration order.
type Source func() []Target

const (
	idle int32 = iota
	cycleRunning
)

// Options configures a Scheduler.
type Options struct {
	// Interval between timer firings.
	Interval time.Duration
	// Threaded runs each cycle on its own goroutine instead of inside Fire.
	Threaded bool
	// IsolateFailures keeps a cycle going past unclassified tick errors.
	IsolateFailures bool
	// Dispatcher receives the timer firings and the closes requested after
	// fatal tick errors. Defaults to dispatch.Inline.
	Dispatcher dispatch.Dispatcher
	// OnCycleError is told about unclassified tick errors.
	OnCycleError func(uri string, err error)

	Logger  *logrus.Entry
	Metrics *metrics.Metrics
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	opts   Options
	source Source

	state    atomic.Int32
	slow     atomic.Bool
	threaded atomic.Bool
	wg       sync.WaitGroup

	mu       sync.Mutex
	ctx      context.Context
	timer    *time.Timer
	interval time.Duration
	gen      uint64
	stopped  bool
}

// New creates a Scheduler. It does not fire until Start.
func New(source Source, opts Options) *Scheduler {
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.Inline{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Scheduler{
		opts:     opts,
		source:   source,
		ctx:      context.Background(),
		interval: opts.Interval,
		stopped:  true,
	}
	s.threaded.Store(opts.Threaded)
	return s
}

// SetThreaded switches between threaded and inline cycles. It applies from
// the next cycle on.
func (s *Scheduler) SetThreaded(threaded bool) {
	s.threaded.Store(threaded)
}

// Threaded reports whether cycles run on their own goroutine.
func (s *Scheduler) Threaded() bool {
	return s.threaded.Load()
}

// Start arms the timer. Cycles stop visiting targets once ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.stopped = false
	s.mu.Unlock()
	s.Reschedule(s.Interval())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Interval returns the current firing interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Reschedule replaces the timer with one firing every interval. The old
// timer is stopped before the new one is armed. Before Start it only
// records the interval.
func (s *Scheduler) Reschedule(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.interval = interval
	if s.stopped || interval <= 0 {
		return
	}
	s.opts.Logger.WithField("interval", interval).Debug("Tick timer armed")
	s.armLocked(s.gen)
}

func (s *Scheduler) armLocked(gen uint64) {
	s.timer = time.AfterFunc(s.interval, func() { s.onTimer(gen) })
}

func (s *Scheduler) onTimer(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.armLocked(gen)
	s.mu.Unlock()

	s.opts.Dispatcher.Post(func() { s.Fire() })
}

// Stop disarms the timer. An in-flight cycle is left to finish; use Wait.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Wait blocks until no cycle is running.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Running reports whether a cycle is in flight.
func (s *Scheduler) Running() bool {
	return s.state.Load() == cycleRunning
}

// Fire starts a cycle unless one is already running. It reports whether a
// cycle was started. In threaded mode it never waits for the cycle.
func (s *Scheduler) Fire() bool {
	if !s.state.CompareAndSwap(idle, cycleRunning) {
		if !s.slow.Swap(true) {
			s.opts.Logger.Debug("Tick is slow, not running at requested rate")
		}
		s.opts.Metrics.CycleSkipped()
		return false
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	targets := s.source()
	if s.threaded.Load() {
		go s.runCycle(ctx, targets)
	} else {
		s.runCycle(ctx, targets)
	}
	return true
}

func (s *Scheduler) runCycle(ctx context.Context, targets []Target) {
	started := time.Now()
	defer func() {
		s.opts.Metrics.CycleFinished(time.Since(started))
		s.slow.Store(false)
		s.state.Store(idle)
		s.wg.Done()
	}()

	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}
		err := s.tick(ctx, t)
		if err == nil {
			continue
		}

		kind := errors.KindOf(err)
		s.opts.Metrics.TickError(string(kind))
		log := s.opts.Logger.WithField("uri", t.URI()).WithError(err)

		switch kind {
		case errors.ErrCodeConnectionFatal:
			log.Warn("Endpoint went away, closing connection")
			target := t
			s.opts.Dispatcher.Post(func() {
				if err := target.Close(); err != nil {
					s.opts.Logger.WithField("uri", target.URI()).WithError(err).Warn("Error closing connection")
				}
			})
		case errors.ErrCodeConnectionTransient:
			log.Info("Error refreshing connection")
		default:
			log.Error("Unexpected error refreshing connection")
			if s.opts.OnCycleError != nil {
				s.opts.OnCycleError(t.URI(), err)
			}
			if !s.opts.IsolateFailures {
				return
			}
		}
	}
}

// tick runs one target, turning a panic into an unclassified error.
func (s *Scheduler) tick(ctx context.Context, t Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.UnclassifiedTick(t.URI(), fmt.Errorf("panic: %v", r)).
				WithDetail("stack", string(debug.Stack()))
		}
	}()
	return t.Tick(ctx)
}
