// Package lifecycle decides when the session may terminate, based on how
// many presentation surfaces are open and whether tray mode is enabled.
package lifecycle

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrUnderflow is the panic value of a Decrement with no open windows.
var ErrUnderflow = underflowError{}

type underflowError struct{}

func (underflowError) Error() string { return "lifecycle: window count would go negative" }

// Unrecoverable keeps the dispatch loop from swallowing the panic.
func (underflowError) Unrecoverable() {}

// Hooks are the actions the counter triggers. Both run synchronously on the
// goroutine that caused the transition, after the counter's lock is released.
type Hooks struct {
	// Shutdown closes every connection and terminates the session.
	Shutdown func()
	// ShowPrimary re-shows the manager surface.
	ShowPrimary func()
}

// Counter tracks open windows.
type Counter struct {
	mu       sync.Mutex
	open     int
	tray     bool
	shutdown sync.Once
	hooks    Hooks
	observe  func(int)
	logger   *logrus.Entry
}

// New creates a Counter with tray mode set from configuration.
func New(traySupported bool, hooks Hooks, logger *logrus.Entry) *Counter {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Counter{tray: traySupported, hooks: hooks, logger: logger}
}

// Observe registers fn to receive the count after every change.
func (c *Counter) Observe(fn func(int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observe = fn
}

// Count returns the number of open windows.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Tray reports whether tray mode is enabled.
func (c *Counter) Tray() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tray
}

// Increment records a window opening.
func (c *Counter) Increment() {
	c.mu.Lock()
	c.open++
	n, observe := c.open, c.observe
	c.mu.Unlock()

	c.logger.WithField("windows", n).Debug("Window opened")
	if observe != nil {
		observe(n)
	}
}

// Decrement records a window closing. Calling it with no open windows is a
// programming error and panics.
func (c *Counter) Decrement() {
	c.mu.Lock()
	if c.open == 0 {
		c.mu.Unlock()
		panic(ErrUnderflow)
	}
	c.open--
	n, tray, observe := c.open, c.tray, c.observe
	c.mu.Unlock()

	c.logger.WithField("windows", n).Debug("Window closed")
	if observe != nil {
		observe(n)
	}
	if n == 0 && !tray {
		c.triggerShutdown()
	}
}

// TrayChanged updates tray mode. Disabling it with nothing open re-shows
// the manager so the session stays reachable.
func (c *Counter) TrayChanged(enabled bool) {
	c.mu.Lock()
	c.tray = enabled
	n := c.open
	c.mu.Unlock()

	c.logger.WithField("tray", enabled).Debug("Tray mode changed")
	if n == 0 && !enabled && c.hooks.ShowPrimary != nil {
		c.hooks.ShowPrimary()
	}
}

func (c *Counter) triggerShutdown() {
	c.shutdown.Do(func() {
		c.logger.Info("Last window closed, shutting down")
		if c.hooks.Shutdown != nil {
			c.hooks.Shutdown()
		}
	})
}
