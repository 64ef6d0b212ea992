// Package registry owns the set of known connections, keyed by URI, and the
// dependent surfaces (host, details, consoles, clone dialog) attached to
// each one.
package registry

import (
	"context"
	"sync"

	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/hv"
	"github.com/grovetools/virtsession/internal/metrics"
	"github.com/grovetools/virtsession/internal/notify"
	"github.com/sirupsen/logrus"
)

// Closer is a dependent surface bound to a connection. Pointer types are
// expected: Detach matches surfaces by identity.
type Closer interface {
	Close() error
}

// Persister records the connection list in configuration.
type Persister interface {
	AddConnection(uri string) error
	RemoveConnection(uri string) error
	Autoconnect(uri string) bool
	SetAutoconnect(uri string, enabled bool) error
}

// Opener creates the handle for a newly registered URI.
type Opener func(uri string, readOnly bool) (hv.Connection, error)

// Entry is one registered connection.
type Entry struct {
	URI    string
	Handle hv.Connection

	// Guarded by the registry lock.
	host     Closer
	details  map[string]Closer
	consoles map[string]Closer
	clone    Closer
	removing bool
	// announced is set once connection-added went out and cleared when
	// connection-removed did. It gates catch-up replay.
	announced bool
}

// takeAll detaches and returns every dependent of e.
func (e *Entry) takeAll() []Closer {
	var out []Closer
	for _, c := range e.details {
		out = append(out, c)
	}
	for _, c := range e.consoles {
		out = append(out, c)
	}
	if e.host != nil {
		out = append(out, e.host)
	}
	if e.clone != nil {
		out = append(out, e.clone)
	}
	e.host = nil
	e.clone = nil
	e.details = make(map[string]Closer)
	e.consoles = make(map[string]Closer)
	return out
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string

	open    Opener
	persist Persister
	events  *notify.Notifier[*Entry]
	logger  *logrus.Entry
	metrics *metrics.Metrics
}

// New creates an empty Registry. persist and m may be nil.
func New(open Opener, persist Persister, logger *logrus.Entry, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Registry{
		entries: make(map[string]*Entry),
		open:    open,
		persist: persist,
		events:  notify.New[*Entry](),
		logger:  logger,
		metrics: m,
	}
	r.events.SetReplay(notify.ConnectionAdded, r.announcedEntries)
	return r
}

// Events returns the notifier carrying connection-added and
// connection-removed. Subscribing to connection-added replays every
// registered entry first.
func (r *Registry) Events() *notify.Notifier[*Entry] { return r.events }

// Add registers uri, opens its handle and seeds its state with one tick.
func (r *Registry) Add(ctx context.Context, uri string, readOnly, autoconnect bool) (*Entry, error) {
	r.mu.Lock()
	if _, exists := r.entries[uri]; exists {
		r.mu.Unlock()
		return nil, errors.DuplicateConnection(uri)
	}
	handle, err := r.open(uri, readOnly)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	entry := &Entry{
		URI:      uri,
		Handle:   handle,
		details:  make(map[string]Closer),
		consoles: make(map[string]Closer),
	}
	r.entries[uri] = entry
	r.order = append(r.order, uri)
	n := len(r.order)
	r.mu.Unlock()

	log := r.logger.WithField("uri", uri)
	log.Debug("Connection registered")
	r.metrics.SetConnections(n)

	if err := handle.Tick(ctx); err != nil {
		log.WithError(err).Warn("Initial tick failed")
	}

	r.events.PublishWith(notify.ConnectionAdded, entry, func() { r.setAnnounced(entry, true) })

	if r.persist != nil {
		if err := r.persist.AddConnection(uri); err != nil {
			log.WithError(err).Warn("Failed to store connection")
		}
		if autoconnect {
			if err := r.persist.SetAutoconnect(uri, true); err != nil {
				log.WithError(err).Warn("Failed to store autoconnect flag")
			}
		}
		autoconnect = autoconnect || r.persist.Autoconnect(uri)
	}
	if autoconnect {
		handle.SetAutoconnect(true)
	}
	return entry, nil
}

// Remove tears down uri: dependents are closed, then the handle, then
// connection-removed is published and the entry is dropped.
func (r *Registry) Remove(uri string) error {
	r.mu.Lock()
	entry, ok := r.entries[uri]
	if !ok || entry.removing {
		r.mu.Unlock()
		return errors.UnknownConnection(uri)
	}
	entry.removing = true
	dependents := entry.takeAll()
	r.mu.Unlock()

	log := r.logger.WithField("uri", uri)
	r.closeAll(log, dependents)
	if err := entry.Handle.Close(); err != nil {
		log.WithError(err).Warn("Error closing connection")
	}

	r.events.PublishWith(notify.ConnectionRemoved, entry, func() { r.setAnnounced(entry, false) })

	r.mu.Lock()
	delete(r.entries, uri)
	r.order = without(r.order, uri)
	n := len(r.order)
	r.mu.Unlock()
	r.metrics.SetConnections(n)

	if r.persist != nil {
		if err := r.persist.RemoveConnection(uri); err != nil {
			log.WithError(err).Warn("Failed to remove stored connection")
		}
	}
	log.Debug("Connection removed")
	return nil
}

// Lookup returns the entry for uri.
func (r *Registry) Lookup(uri string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[uri]
	return e, ok
}

// MustLookup returns the entry for uri or an UnknownConnection error.
func (r *Registry) MustLookup(uri string) (*Entry, error) {
	if e, ok := r.Lookup(uri); ok {
		return e, nil
	}
	return nil, errors.UnknownConnection(uri)
}

// AllURIs returns every registered URI in registration order.
func (r *Registry) AllURIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// LiveURIs returns registered URIs whose handle is not disconnected, in
// registration order.
func (r *Registry) LiveURIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, uri := range r.order {
		if r.entries[uri].Handle.State() != hv.Disconnected {
			out = append(out, uri)
		}
	}
	return out
}

// Entries returns every entry in registration order.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.order))
	for _, uri := range r.order {
		out = append(out, r.entries[uri])
	}
	return out
}

// announcedEntries returns the entries whose connection-added has been
// published and not yet followed by connection-removed.
func (r *Registry) announcedEntries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.order))
	for _, uri := range r.order {
		if e := r.entries[uri]; e.announced {
			out = append(out, e)
		}
	}
	return out
}

func (r *Registry) setAnnounced(e *Entry, v bool) {
	r.mu.Lock()
	e.announced = v
	r.mu.Unlock()
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// HandleStateChange closes every dependent of uri when the connection
// went down. It returns how many dependents were closed.
func (r *Registry) HandleStateChange(uri string, state hv.State) int {
	if !state.Down() {
		return 0
	}
	r.mu.Lock()
	entry, ok := r.entries[uri]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	dependents := entry.takeAll()
	r.mu.Unlock()

	log := r.logger.WithFields(logrus.Fields{"uri": uri, "state": state})
	if len(dependents) > 0 {
		log.WithField("dependents", len(dependents)).Debug("Connection down, closing dependents")
	}
	r.closeAll(log, dependents)
	return len(dependents)
}

// HandleEntityRemoved closes the detail and console surfaces of entity id.
func (r *Registry) HandleEntityRemoved(uri, id string) int {
	r.mu.Lock()
	entry, ok := r.entries[uri]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	var dependents []Closer
	if c, ok := entry.details[id]; ok {
		dependents = append(dependents, c)
		delete(entry.details, id)
	}
	if c, ok := entry.consoles[id]; ok {
		dependents = append(dependents, c)
		delete(entry.consoles, id)
	}
	r.mu.Unlock()

	r.closeAll(r.logger.WithFields(logrus.Fields{"uri": uri, "entity": id}), dependents)
	return len(dependents)
}

func (r *Registry) closeAll(log *logrus.Entry, dependents []Closer) {
	for _, c := range dependents {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("Error closing dependent")
		}
	}
}

func without(list []string, v string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
