package registry

import (
	"reflect"

	"github.com/grovetools/virtsession/errors"
)

// withEntry runs fn on the entry for uri under the write lock.
func (r *Registry) withEntry(uri string, fn func(e *Entry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uri]
	if !ok || e.removing {
		return errors.UnknownConnection(uri)
	}
	fn(e)
	return nil
}

// SetHost binds the host surface of uri.
func (r *Registry) SetHost(uri string, c Closer) error {
	return r.withEntry(uri, func(e *Entry) { e.host = c })
}

// Host returns the host surface of uri.
func (r *Registry) Host(uri string) (c Closer, ok bool) {
	r.withEntry(uri, func(e *Entry) { c, ok = e.host, e.host != nil })
	return c, ok
}

// AttachDetails binds the detail surface of entity id.
func (r *Registry) AttachDetails(uri, id string, c Closer) error {
	return r.withEntry(uri, func(e *Entry) { e.details[id] = c })
}

// Details returns the detail surface of entity id.
func (r *Registry) Details(uri, id string) (c Closer, ok bool) {
	r.withEntry(uri, func(e *Entry) { c, ok = e.details[id] })
	return c, ok
}

// AttachConsole binds the console surface of entity id.
func (r *Registry) AttachConsole(uri, id string, c Closer) error {
	return r.withEntry(uri, func(e *Entry) { e.consoles[id] = c })
}

// Console returns the console surface of entity id.
func (r *Registry) Console(uri, id string) (c Closer, ok bool) {
	r.withEntry(uri, func(e *Entry) { c, ok = e.consoles[id] })
	return c, ok
}

// SetClone binds the in-progress clone dialog of uri.
func (r *Registry) SetClone(uri string, c Closer) error {
	return r.withEntry(uri, func(e *Entry) { e.clone = c })
}

// Clone returns the clone dialog of uri.
func (r *Registry) Clone(uri string) (c Closer, ok bool) {
	r.withEntry(uri, func(e *Entry) { c, ok = e.clone, e.clone != nil })
	return c, ok
}

// Detach forgets c wherever it is bound under uri, without closing it.
// Surfaces call it when they close themselves. Surfaces are matched by
// identity, so a non-comparable value never matches and is left bound.
func (r *Registry) Detach(uri string, c Closer) {
	r.withEntry(uri, func(e *Entry) {
		if sameCloser(e.host, c) {
			e.host = nil
		}
		if sameCloser(e.clone, c) {
			e.clone = nil
		}
		for id, d := range e.details {
			if sameCloser(d, c) {
				delete(e.details, id)
			}
		}
		for id, d := range e.consoles {
			if sameCloser(d, c) {
				delete(e.consoles, id)
			}
		}
	})
}

func sameCloser(a, b Closer) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// CloseAllDependents closes every surface bound to any connection and
// returns how many were closed. Connections stay registered.
func (r *Registry) CloseAllDependents() int {
	r.mu.Lock()
	var dependents []Closer
	for _, uri := range r.order {
		dependents = append(dependents, r.entries[uri].takeAll()...)
	}
	r.mu.Unlock()

	r.closeAll(r.logger, dependents)
	return len(dependents)
}

// Dependents returns how many surfaces are bound to uri.
func (r *Registry) Dependents(uri string) int {
	n := 0
	r.withEntry(uri, func(e *Entry) {
		n = len(e.details) + len(e.consoles)
		if e.host != nil {
			n++
		}
		if e.clone != nil {
			n++
		}
	})
	return n
}
