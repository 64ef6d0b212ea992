// Package engine is the session's single owned context. It wires the
// connection registry, the tick scheduler, the window counter and the job
// executor together, and exposes the operations the control socket, the CLI
// and the TUI drive.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/virtsession/config"
	"github.com/grovetools/virtsession/internal/asyncjob"
	"github.com/grovetools/virtsession/internal/dispatch"
	"github.com/grovetools/virtsession/internal/hv"
	"github.com/grovetools/virtsession/internal/lifecycle"
	"github.com/grovetools/virtsession/internal/metrics"
	"github.com/grovetools/virtsession/internal/notify"
	"github.com/grovetools/virtsession/internal/registry"
	"github.com/grovetools/virtsession/internal/scheduler"
	"github.com/grovetools/virtsession/logging"
	"github.com/sirupsen/logrus"
)

// Options configures an Engine. Config and Factory are required.
type Options struct {
	Config  *config.Store
	Factory *hv.Factory

	// Presenter shows surfaces and asks questions. Defaults to a
	// HeadlessPresenter.
	Presenter Presenter
	// Dispatcher is the controlling thread. Defaults to a new dispatch.Loop,
	// run by Start.
	Dispatcher dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Logger     *logrus.Entry

	// Resident keeps the session alive with no windows open, as tray mode
	// does. Headless daemons set it.
	Resident bool
	// IsolateFailures keeps tick cycles going past unclassified errors.
	IsolateFailures bool
	// Probe reports whether a path exists. Used by DefaultURI.
	Probe func(path string) bool
}

// Engine is safe for concurrent use, but connection state changes and
// dependent teardown are always applied on the controlling thread.
type Engine struct {
	cfg       *config.Store
	factory   *hv.Factory
	presenter Presenter
	loop      dispatch.Dispatcher
	metrics   *metrics.Metrics
	logger    *logrus.Entry
	resident  bool
	probe     func(string) bool

	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	counter   *lifecycle.Counter
	jobs      *asyncjob.Executor

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	manager  *trackedWindow
	started  bool
	stopOnce sync.Once
	stopping atomic.Bool
}

// New builds an Engine. Nothing runs until Start.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("engine")
	}
	if opts.Presenter == nil {
		opts.Presenter = NewHeadlessPresenter(opts.Logger)
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.NewLoop(opts.Logger.WithField("component", "dispatch"))
	}
	if opts.Probe == nil {
		opts.Probe = pathExists
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       opts.Config,
		factory:   opts.Factory,
		presenter: opts.Presenter,
		loop:      opts.Dispatcher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		resident:  opts.Resident,
		probe:     opts.Probe,
		ctx:       ctx,
		cancel:    cancel,
	}

	e.registry = registry.New(e.openHandle, opts.Config, opts.Logger.WithField("component", "registry"), opts.Metrics)
	e.jobs = asyncjob.NewExecutor(opts.Logger.WithField("component", "jobs"), opts.Metrics)
	e.scheduler = scheduler.New(e.tickTargets, scheduler.Options{
		Interval:        opts.Config.StatsUpdateInterval(),
		IsolateFailures: opts.IsolateFailures,
		Dispatcher:      opts.Dispatcher,
		OnCycleError:    e.onCycleError,
		Logger:          opts.Logger.WithField("component", "scheduler"),
		Metrics:         opts.Metrics,
	})
	e.counter = lifecycle.New(e.trayEnabled(opts.Config.ViewSystemTray()), lifecycle.Hooks{
		Shutdown:    e.ExitApp,
		ShowPrimary: func() { e.ShowManager() },
	}, opts.Logger.WithField("component", "lifecycle"))
	e.counter.Observe(opts.Metrics.SetOpenWindows)

	opts.Config.OnStatsUpdateIntervalChanged(func(d time.Duration) {
		e.logger.WithField("interval", d).Debug("Stats update interval changed")
		e.scheduler.Reschedule(d)
	})
	opts.Config.OnViewSystemTrayChanged(func(enabled bool) {
		e.loop.Post(func() { e.counter.TrayChanged(e.trayEnabled(enabled)) })
	})
	return e
}

// Start runs the controlling thread (when the engine owns it) and arms the
// tick timer. The engine stops when ctx is cancelled or on Shutdown.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			e.Shutdown()
		case <-e.ctx.Done():
		}
	}()

	if runner, ok := e.loop.(interface{ Run(context.Context) }); ok {
		go runner.Run(e.ctx)
	}
	e.scheduler.Start(e.ctx)
	e.logger.WithField("interval", e.scheduler.Interval()).Info("Engine started")
	return nil
}

// Shutdown stops the tick timer, asks every open surface to close, closes
// every connection and cancels the engine context. It is idempotent and may
// run from inside a tick cycle; use Wait to let an in-flight cycle drain.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		e.stopping.Store(true)
		e.scheduler.Stop()
		if n := e.registry.CloseAllDependents(); n > 0 {
			e.logger.WithField("surfaces", n).Debug("Closed connection surfaces")
		}
		if err := e.CloseManager(); err != nil {
			e.logger.WithError(err).Warn("Error closing manager")
		}
		for _, entry := range e.registry.Entries() {
			if err := entry.Handle.Close(); err != nil {
				e.logger.WithField("uri", entry.URI).WithError(err).Warn("Error closing connection")
			}
		}
		e.cancel()
		e.logger.Debug("Engine stopped")
	})
}

// ExitApp terminates the session normally. Surfaces closed by Shutdown
// may bring the window count to zero; that does not exit twice.
func (e *Engine) ExitApp() {
	if e.stopping.Load() {
		return
	}
	e.logger.Info("Exiting app normally")
	e.Shutdown()
}

// Wait blocks until the in-flight tick cycle, if any, has returned.
func (e *Engine) Wait() { e.scheduler.Wait() }

// Done is closed once the engine has shut down.
func (e *Engine) Done() <-chan struct{} { return e.ctx.Done() }

// Context returns the engine context. Jobs run under it.
func (e *Engine) Context() context.Context { return e.ctx }

// Registry returns the connection registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Scheduler returns the tick scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Counter returns the window counter.
func (e *Engine) Counter() *lifecycle.Counter { return e.counter }

// Jobs returns the job executor.
func (e *Engine) Jobs() *asyncjob.Executor { return e.jobs }

// Dispatcher returns the controlling thread.
func (e *Engine) Dispatcher() dispatch.Dispatcher { return e.loop }

// Config returns the configuration store.
func (e *Engine) Config() *config.Store { return e.cfg }

// Refresh starts a tick cycle now, unless one is running.
func (e *Engine) Refresh() bool { return e.scheduler.Fire() }

// OnConnectionAdded subscribes fn to connection-added. fn is first called
// once per registered connection, before OnConnectionAdded returns.
func (e *Engine) OnConnectionAdded(fn func(*registry.Entry)) func() {
	return e.registry.Events().Subscribe(notify.ConnectionAdded, fn)
}

// OnConnectionRemoved subscribes fn to connection-removed.
func (e *Engine) OnConnectionRemoved(fn func(*registry.Entry)) func() {
	return e.registry.Events().Subscribe(notify.ConnectionRemoved, fn)
}

// NotifyWindowOpened records a presentation surface opening.
func (e *Engine) NotifyWindowOpened() { e.counter.Increment() }

// NotifyWindowClosed records a presentation surface closing. The session
// exits when the last one closes outside tray mode.
func (e *Engine) NotifyWindowClosed() { e.counter.Decrement() }

func (e *Engine) trayEnabled(configured bool) bool {
	return configured || e.resident
}

// openHandle creates the driver handle for a newly registered URI, with
// notifications marshalled onto the controlling thread.
func (e *Engine) openHandle(uri string, readOnly bool) (hv.Connection, error) {
	return e.factory.New(uri, readOnly, hv.Listener{
		OnStateChanged: func(uri string, state hv.State) {
			e.loop.Post(func() { e.connectionChanged(uri, state) })
		},
		OnEntityRemoved: func(uri, id string) {
			e.loop.Post(func() { e.registry.HandleEntityRemoved(uri, id) })
		},
	})
}

func (e *Engine) connectionChanged(uri string, state hv.State) {
	e.logger.WithFields(logrus.Fields{"uri": uri, "state": state}).Debug("Connection state changed")
	e.registry.HandleStateChange(uri, state)
}

func (e *Engine) tickTargets() []scheduler.Target {
	uris := e.registry.LiveURIs()
	out := make([]scheduler.Target, 0, len(uris))
	for _, uri := range uris {
		if entry, ok := e.registry.Lookup(uri); ok {
			out = append(out, entry.Handle)
		}
	}
	return out
}

func (e *Engine) onCycleError(uri string, err error) {
	e.loop.Post(func() {
		e.presenter.ShowError("Error refreshing connection "+uri, err.Error())
	})
}

// updateThreading runs ticks off the controlling thread only when every
// registered connection allows it.
func (e *Engine) updateThreading() {
	entries := e.registry.Entries()
	threaded := len(entries) > 0
	for _, entry := range entries {
		if !entry.Handle.SupportsThreading() {
			threaded = false
			break
		}
	}
	e.scheduler.SetThreaded(threaded)
}
