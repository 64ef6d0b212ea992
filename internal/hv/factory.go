package hv

import (
	"sort"
	"sync"

	"github.com/grovetools/virtsession/errors"
)

// Factory picks a driver by URI scheme.
type Factory struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewFactory creates a Factory with the given drivers registered.
func NewFactory(drivers ...Driver) *Factory {
	f := &Factory{drivers: make(map[string]Driver)}
	for _, d := range drivers {
		f.Register(d)
	}
	return f
}

// Register adds or replaces the driver for d.Scheme().
func (f *Factory) Register(d Driver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drivers[d.Scheme()] = d
}

// Schemes lists registered schemes.
func (f *Factory) Schemes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.drivers))
	for s := range f.drivers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// New creates an unopened connection for uri.
func (f *Factory) New(uri string, readOnly bool, l Listener) (Connection, error) {
	scheme := Scheme(uri)
	f.mu.RLock()
	d, ok := f.drivers[scheme]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.Unsupported("connect", "no driver for scheme '"+scheme+"'").
			WithDetail("uri", uri)
	}
	return d.New(uri, readOnly, l)
}
