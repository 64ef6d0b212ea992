package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grovetools/virtsession/internal/hv"
	"github.com/grovetools/virtsession/internal/registry"
	"github.com/sirupsen/logrus"
)

// Window is an open presentation surface.
type Window interface {
	// Present raises an already open surface.
	Present()
	Close() error
}

// Presenter creates surfaces and talks to the user. The engine calls it on
// the controlling thread.
type Presenter interface {
	ShowManager() (Window, error)
	ShowHost(conn hv.Connection) (Window, error)
	ShowDetails(conn hv.Connection, entity hv.Entity) (Window, error)
	ShowConsole(conn hv.Connection, entity hv.Entity) (Window, error)
	ShowClone(conn hv.Connection, entity hv.Entity) (Window, error)
	// Confirm asks a yes/no question.
	Confirm(question string) bool
	ShowError(summary, details string)
	// SetStartupError reports a problem found while starting up.
	SetStartupError(msg string)
}

// trackedWindow counts a surface as open until it closes, and detaches it
// from its connection when it closes on its own.
type trackedWindow struct {
	Window
	once    sync.Once
	onClose func()
}

func (w *trackedWindow) Close() error {
	var err error
	w.once.Do(func() {
		err = w.Window.Close()
		if w.onClose != nil {
			w.onClose()
		}
	})
	return err
}

func (e *Engine) track(w Window, detach func(*trackedWindow)) *trackedWindow {
	t := &trackedWindow{Window: w}
	t.onClose = func() {
		if detach != nil {
			detach(t)
		}
		e.NotifyWindowClosed()
	}
	e.NotifyWindowOpened()
	return t
}

// ShowManager shows the manager surface, raising it if already open.
func (e *Engine) ShowManager() error {
	e.mu.Lock()
	if e.manager != nil {
		m := e.manager
		e.mu.Unlock()
		m.Present()
		return nil
	}
	e.mu.Unlock()

	w, err := e.presenter.ShowManager()
	if err != nil {
		e.presenter.ShowError("Error launching manager", err.Error())
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.manager = e.track(w, func(t *trackedWindow) {
		e.mu.Lock()
		if e.manager == t {
			e.manager = nil
		}
		e.mu.Unlock()
	})
	return nil
}

// CloseManager closes the manager surface if it is open.
func (e *Engine) CloseManager() error {
	e.mu.Lock()
	m := e.manager
	e.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}

// ShowHost shows the host surface of uri.
func (e *Engine) ShowHost(uri string) error {
	entry, err := e.registry.MustLookup(uri)
	if err != nil {
		return err
	}
	if c, ok := e.registry.Host(uri); ok {
		c.(Window).Present()
		return nil
	}
	w, err := e.presenter.ShowHost(entry.Handle)
	if err != nil {
		e.presenter.ShowError("Error launching host dialog", err.Error())
		return err
	}
	return e.registry.SetHost(uri, e.track(w, e.detachFrom(uri)))
}

// ShowDetails shows the detail surface of an entity.
func (e *Engine) ShowDetails(uri, id string) error {
	return e.showEntitySurface(uri, id, e.registry.Details, e.presenter.ShowDetails, e.registry.AttachDetails, "details")
}

// ShowConsole shows the console surface of an entity.
func (e *Engine) ShowConsole(uri, id string) error {
	return e.showEntitySurface(uri, id, e.registry.Console, e.presenter.ShowConsole, e.registry.AttachConsole, "console")
}

// CloneEntity opens the clone dialog for an entity. A connection has at
// most one clone dialog; opening another replaces its subject.
func (e *Engine) CloneEntity(uri, id string) error {
	entry, entity, err := e.lookupEntity(uri, id)
	if err != nil {
		return err
	}
	if c, ok := e.registry.Clone(uri); ok {
		if err := c.Close(); err != nil {
			e.logger.WithField("uri", uri).WithError(err).Warn("Error closing clone dialog")
		}
	}
	w, err := e.presenter.ShowClone(entry.Handle, entity)
	if err != nil {
		e.presenter.ShowError("Error setting clone parameters", err.Error())
		return err
	}
	return e.registry.SetClone(uri, e.track(w, e.detachFrom(uri)))
}

func (e *Engine) showEntitySurface(
	uri, id string,
	existing func(uri, id string) (registry.Closer, bool),
	show func(hv.Connection, hv.Entity) (Window, error),
	attach func(uri, id string, c registry.Closer) error,
	what string,
) error {
	entry, entity, err := e.lookupEntity(uri, id)
	if err != nil {
		return err
	}
	if c, ok := existing(uri, id); ok {
		c.(Window).Present()
		return nil
	}
	w, err := show(entry.Handle, entity)
	if err != nil {
		e.presenter.ShowError(fmt.Sprintf("Error launching %s", what), err.Error())
		return err
	}
	return attach(uri, id, e.track(w, e.detachFrom(uri)))
}

func (e *Engine) detachFrom(uri string) func(*trackedWindow) {
	return func(t *trackedWindow) { e.registry.Detach(uri, t) }
}

// HeadlessPresenter backs surfaces with log lines. It is used by the daemon
// when no UI is attached and answers every question with yes.
type HeadlessPresenter struct {
	logger *logrus.Entry

	mu           sync.Mutex
	errors       []string
	startupError string
}

// NewHeadlessPresenter creates a HeadlessPresenter.
func NewHeadlessPresenter(logger *logrus.Entry) *HeadlessPresenter {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &HeadlessPresenter{logger: logger.WithField("component", "presenter")}
}

func (p *HeadlessPresenter) open(kind string, fields logrus.Fields) (Window, error) {
	p.logger.WithFields(fields).Debugf("Showing %s", kind)
	return &headlessWindow{kind: kind, logger: p.logger.WithFields(fields)}, nil
}

// ShowManager implements Presenter.
func (p *HeadlessPresenter) ShowManager() (Window, error) {
	return p.open("manager", nil)
}

// ShowHost implements Presenter.
func (p *HeadlessPresenter) ShowHost(conn hv.Connection) (Window, error) {
	return p.open("host", logrus.Fields{"uri": conn.URI()})
}

// ShowDetails implements Presenter.
func (p *HeadlessPresenter) ShowDetails(conn hv.Connection, entity hv.Entity) (Window, error) {
	return p.open("details", logrus.Fields{"uri": conn.URI(), "entity": entity.Name()})
}

// ShowConsole implements Presenter.
func (p *HeadlessPresenter) ShowConsole(conn hv.Connection, entity hv.Entity) (Window, error) {
	return p.open("console", logrus.Fields{"uri": conn.URI(), "entity": entity.Name()})
}

// ShowClone implements Presenter.
func (p *HeadlessPresenter) ShowClone(conn hv.Connection, entity hv.Entity) (Window, error) {
	return p.open("clone", logrus.Fields{"uri": conn.URI(), "entity": entity.Name()})
}

// Confirm implements Presenter.
func (p *HeadlessPresenter) Confirm(question string) bool {
	p.logger.WithField("question", question).Debug("Confirming")
	return true
}

// ShowError implements Presenter.
func (p *HeadlessPresenter) ShowError(summary, details string) {
	p.mu.Lock()
	p.errors = append(p.errors, summary)
	p.mu.Unlock()
	p.logger.WithField("details", details).Error(summary)
}

// SetStartupError implements Presenter.
func (p *HeadlessPresenter) SetStartupError(msg string) {
	p.mu.Lock()
	p.startupError = msg
	p.mu.Unlock()
	p.logger.Warn(msg)
}

// Errors returns every error summary shown so far.
func (p *HeadlessPresenter) Errors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.errors...)
}

// StartupError returns the startup error, if any.
func (p *HeadlessPresenter) StartupError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startupError
}

type headlessWindow struct {
	kind     string
	logger   *logrus.Entry
	presents atomic.Int32
}

func (w *headlessWindow) Present() {
	w.presents.Add(1)
	w.logger.Debugf("Presenting %s", w.kind)
}

func (w *headlessWindow) Close() error {
	w.logger.Debugf("Closing %s", w.kind)
	return nil
}
