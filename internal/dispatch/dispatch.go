// Package dispatch provides the controlling thread: a single goroutine that
// runs posted closures one at a time in FIFO order. Session state that is
// not otherwise synchronized (dependent windows, connection closes requested
// from worker goroutines) is only touched from closures run here.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("dispatch loop stopped")

// Unrecoverable is implemented by panic values that report a broken
// invariant. The loop lets them propagate instead of logging them.
type Unrecoverable interface {
	Unrecoverable()
}

func rethrow(r any) {
	if _, ok := r.(Unrecoverable); ok {
		panic(r)
	}
}

// Dispatcher accepts work for the controlling thread.
type Dispatcher interface {
	// Post enqueues fn without waiting. Safe from any goroutine.
	Post(fn func())
	// Call enqueues fn and waits for it to run. Must not be called from
	// the controlling thread itself.
	Call(ctx context.Context, fn func() error) error
}

// Pump drains work that is queued right now. Cooperative waits on the
// controlling thread call it so posted work keeps flowing.
type Pump interface {
	Pump() int
}

// Loop is the default Dispatcher.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped chan struct{}
	once    sync.Once
	logger  *logrus.Entry
}

// NewLoop creates a Loop. It does nothing until Run or Pump is called.
func NewLoop(logger *logrus.Entry) *Loop {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Post implements Dispatcher.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call implements Dispatcher.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	l.Post(func() {
		defer func() {
			if r := recover(); r != nil {
				rethrow(r)
				done <- fmt.Errorf("panic on dispatch loop: %v", r)
			}
		}()
		done <- fn()
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	}
}

// Run processes posted work until ctx is cancelled. Work still queued at
// that point is dropped.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.stopped) })
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Dispatch loop stopping")
			return
		case <-l.wake:
			l.Pump()
		}
	}
}

// Pump runs the closures queued at the time of the call and returns how
// many ran. Closures posted while pumping wait for the next round.
func (l *Loop) Pump() int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range batch {
		l.run(fn)
	}
	return len(batch)
}

// Pending reports the number of queued closures.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			rethrow(r)
			l.logger.WithField("stack", string(debug.Stack())).Errorf("Recovered panic in dispatched work: %v", r)
		}
	}()
	fn()
}

// Inline runs posted work immediately on the caller's goroutine. Used by
// tests and single-threaded drivers.
type Inline struct{}

// Post implements Dispatcher.
func (Inline) Post(fn func()) { fn() }

// Call implements Dispatcher.
func (Inline) Call(_ context.Context, fn func() error) error { return fn() }

// Pump implements Pump. There is never anything queued.
func (Inline) Pump() int { return 0 }
