// Package hv defines the capability set the session needs from a
// virtualization endpoint connection, plus URI based driver selection.
package hv

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// State is the connection state as seen by the session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Active
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Error:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Down reports whether dependents of a connection in this state must be torn down.
func (s State) Down() bool {
	return s == Disconnected || s == Error
}

// EntityState is the run state of a managed entity.
type EntityState string

const (
	EntityRunning EntityState = "running"
	EntityPaused  EntityState = "paused"
	EntityShutoff EntityState = "shutoff"
	EntityCrashed EntityState = "crashed"
)

// Listener receives connection notifications. Drivers may call it from any
// goroutine; the session marshals calls onto its controlling thread.
type Listener struct {
	OnStateChanged  func(uri string, state State)
	OnEntityRemoved func(uri, entityID string)
}

func (l Listener) stateChanged(uri string, s State) {
	if l.OnStateChanged != nil {
		l.OnStateChanged(uri, s)
	}
}

// EntityRemoved forwards to OnEntityRemoved if set.
func (l Listener) EntityRemoved(uri, id string) {
	if l.OnEntityRemoved != nil {
		l.OnEntityRemoved(uri, id)
	}
}

// Entity is a managed entity (a guest) on a connection.
type Entity interface {
	ID() string
	Name() string
	State() EntityState
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Reboot(ctx context.Context) error
	Destroy(ctx context.Context) error
	// Save writes the entity's state to path.
	Save(ctx context.Context, path string) error
	// ManagedSave reports whether the endpoint keeps saved state itself.
	ManagedSave() bool
}

// Connection is one long-lived connection to an endpoint.
type Connection interface {
	URI() string
	Open(ctx context.Context) error
	// Tick refreshes cached state. It is a no-op while disconnected.
	Tick(ctx context.Context) error
	Close() error
	State() State
	Autoconnect() bool
	SetAutoconnect(enabled bool)
	ReadOnly() bool
	IsRemote() bool
	// SupportsThreading reports whether Tick may run off the controlling thread.
	SupportsThreading() bool
	Entities() []Entity
	Entity(id string) (Entity, bool)
}

// Restorer is implemented by connections that can restore saved entities.
type Restorer interface {
	Restore(ctx context.Context, path string) error
}

// Exporter streams an entity out of a connection for migration.
type Exporter interface {
	Export(ctx context.Context, id string, w io.Writer) error
}

// Importer creates an entity from an exported stream.
type Importer interface {
	Import(ctx context.Context, name string, r io.Reader) error
}

// Driver creates connections for one URI scheme.
type Driver interface {
	Scheme() string
	New(uri string, readOnly bool, l Listener) (Connection, error)
}

// Scheme returns the driver part of a connection URI, without transport
// suffix ("qemu+ssh" yields "qemu").
func Scheme(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return ""
	}
	scheme, _, _ := strings.Cut(u.Scheme, "+")
	return strings.ToLower(scheme)
}

// IsRemoteURI reports whether uri names a host other than the local one.
func IsRemoteURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "", "localhost", "127.0.0.1", "::1":
		return strings.Contains(u.Scheme, "+") && u.Hostname() != ""
	}
	return true
}

// Base carries the state every driver connection shares.
type Base struct {
	uri      string
	readOnly bool
	listener Listener

	mu          sync.RWMutex
	state       State
	autoconnect bool
}

// NewBase creates a Base in the Disconnected state.
func NewBase(uri string, readOnly bool, l Listener) *Base {
	return &Base{uri: uri, readOnly: readOnly, listener: l}
}

func (b *Base) URI() string { return b.uri }

func (b *Base) ReadOnly() bool { return b.readOnly }

func (b *Base) IsRemote() bool { return IsRemoteURI(b.uri) }

// Listener returns the notification target passed at construction.
func (b *Base) Listener() Listener { return b.listener }

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) Autoconnect() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.autoconnect
}

func (b *Base) SetAutoconnect(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoconnect = enabled
}

// SetState moves to s and notifies the listener if the state changed.
func (b *Base) SetState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()

	if prev != s {
		b.listener.stateChanged(b.uri, s)
	}
}
