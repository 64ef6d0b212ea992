// Package testdrv is an in-memory connection driver for the "test" scheme.
// It keeps every connection it creates reachable so tests can inject
// failures and inspect calls.
package testdrv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/hv"
)

// Scheme is the URI scheme served by this driver.
const Scheme = "test"

// Driver creates in-memory connections.
type Driver struct {
	// Threaded makes connections report threading support.
	Threaded bool
	// Seed lists entity names created on every Open.
	Seed []string

	mu    sync.Mutex
	conns map[string]*Conn
}

// New creates a Driver that seeds each connection with one running "test" entity.
func New() *Driver {
	return &Driver{Seed: []string{"test"}, conns: make(map[string]*Conn)}
}

// Scheme implements hv.Driver.
func (d *Driver) Scheme() string { return Scheme }

// New implements hv.Driver.
func (d *Driver) New(uri string, readOnly bool, l hv.Listener) (hv.Connection, error) {
	c := &Conn{
		Base:     hv.NewBase(uri, readOnly, l),
		threaded: d.Threaded,
		seed:     append([]string(nil), d.Seed...),
		entities: make(map[string]*Entity),
	}
	d.mu.Lock()
	if d.conns == nil {
		d.conns = make(map[string]*Conn)
	}
	d.conns[uri] = c
	d.mu.Unlock()
	return c, nil
}

// Conn returns the most recent connection created for uri.
func (d *Driver) Conn(uri string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[uri]
}

// Conn is an in-memory connection.
type Conn struct {
	*hv.Base

	threaded bool
	seed     []string

	ticks      atomic.Int64
	closes     atomic.Int64
	tickDelay  atomic.Int64
	mu         sync.Mutex
	tickErrors []error
	order      []string
	entities   map[string]*Entity
	nextID     int
}

// SupportsThreading implements hv.Connection.
func (c *Conn) SupportsThreading() bool { return c.threaded }

// Open implements hv.Connection.
func (c *Conn) Open(ctx context.Context) error {
	if c.State() == hv.Active {
		return nil
	}
	c.SetState(hv.Connecting)
	c.mu.Lock()
	if len(c.entities) == 0 {
		for _, name := range c.seed {
			c.addLocked(name, hv.EntityRunning)
		}
	}
	c.mu.Unlock()
	c.SetState(hv.Active)
	return nil
}

// Tick implements hv.Connection.
func (c *Conn) Tick(ctx context.Context) error {
	if c.State() != hv.Active {
		return nil
	}
	c.ticks.Add(1)
	if d := time.Duration(c.tickDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickErrors) > 0 {
		err := c.tickErrors[0]
		c.tickErrors = c.tickErrors[1:]
		return err
	}
	return nil
}

// Close implements hv.Connection.
func (c *Conn) Close() error {
	c.closes.Add(1)
	c.SetState(hv.Disconnected)
	return nil
}

// InjectTickError queues err to be returned by the next Tick.
func (c *Conn) InjectTickError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickErrors = append(c.tickErrors, err)
}

// SetTickDelay makes each Tick take d.
func (c *Conn) SetTickDelay(d time.Duration) { c.tickDelay.Store(int64(d)) }

// Ticks returns how many ticks ran while active.
func (c *Conn) Ticks() int64 { return c.ticks.Load() }

// Closes returns how many times Close was called.
func (c *Conn) Closes() int64 { return c.closes.Load() }

// Fail moves the connection to the Error state, as a dropped endpoint would.
func (c *Conn) Fail() { c.SetState(hv.Error) }

// AddEntity creates an entity and returns it.
func (c *Conn) AddEntity(name string, state hv.EntityState) *Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(name, state)
}

// RemoveEntity deletes an entity and notifies the listener.
func (c *Conn) RemoveEntity(id string) {
	c.mu.Lock()
	_, ok := c.entities[id]
	if ok {
		delete(c.entities, id)
		c.order = remove(c.order, id)
	}
	c.mu.Unlock()
	if ok {
		c.Listener().EntityRemoved(c.URI(), id)
	}
}

func (c *Conn) addLocked(name string, state hv.EntityState) *Entity {
	c.nextID++
	id := fmt.Sprintf("%d", c.nextID)
	e := &Entity{conn: c, id: id, name: name, state: state}
	c.entities[id] = e
	c.order = append(c.order, id)
	return e
}

// Entities implements hv.Connection.
func (c *Conn) Entities() []hv.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]hv.Entity, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entities[id])
	}
	return out
}

// Entity implements hv.Connection.
func (c *Conn) Entity(id string) (hv.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[id]
	if !ok {
		return nil, false
	}
	return e, true
}

// FindByName returns the first entity with the given name.
func (c *Conn) FindByName(name string) (*Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		if c.entities[id].name == name {
			return c.entities[id], true
		}
	}
	return nil, false
}

type savedEntity struct {
	Name  string         `json:"name"`
	State hv.EntityState `json:"state"`
}

// Restore implements hv.Restorer.
func (c *Conn) Restore(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var saved savedEntity
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("invalid saved entity %s: %w", path, err)
	}
	c.AddEntity(saved.Name, hv.EntityRunning)
	return nil
}

// Export implements hv.Exporter.
func (c *Conn) Export(ctx context.Context, id string, w io.Writer) error {
	e, ok := c.Entity(id)
	if !ok {
		return fmt.Errorf("no entity %s on %s", id, c.URI())
	}
	return json.NewEncoder(w).Encode(savedEntity{Name: e.Name(), State: e.State()})
}

// Import implements hv.Importer. Names must be unique on the connection.
func (c *Conn) Import(ctx context.Context, name string, r io.Reader) error {
	var saved savedEntity
	if err := json.NewDecoder(r).Decode(&saved); err != nil {
		return fmt.Errorf("invalid entity stream: %w", err)
	}
	if name == "" {
		name = saved.Name
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entities {
		if e.name == name {
			return fmt.Errorf("entity %q already exists on %s", name, c.URI())
		}
	}
	c.addLocked(name, hv.EntityShutoff)
	return nil
}

// Entity is an in-memory managed entity.
type Entity struct {
	conn *Conn
	id   string
	name string

	mu    sync.Mutex
	state hv.EntityState
	calls []string
}

func (e *Entity) ID() string   { return e.id }
func (e *Entity) Name() string { return e.name }

func (e *Entity) State() hv.EntityState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Calls lists the actions invoked on the entity, in order.
func (e *Entity) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *Entity) transition(call string, from []hv.EntityState, to hv.EntityState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	for _, s := range from {
		if e.state == s {
			e.state = to
			return nil
		}
	}
	return fmt.Errorf("cannot %s entity %s in state %s", call, e.name, e.state)
}

func (e *Entity) Suspend(ctx context.Context) error {
	return e.transition("suspend", []hv.EntityState{hv.EntityRunning}, hv.EntityPaused)
}

func (e *Entity) Resume(ctx context.Context) error {
	return e.transition("resume", []hv.EntityState{hv.EntityPaused}, hv.EntityRunning)
}

func (e *Entity) Start(ctx context.Context) error {
	return e.transition("start", []hv.EntityState{hv.EntityShutoff, hv.EntityCrashed}, hv.EntityRunning)
}

func (e *Entity) Shutdown(ctx context.Context) error {
	return e.transition("shutdown", []hv.EntityState{hv.EntityRunning, hv.EntityPaused}, hv.EntityShutoff)
}

func (e *Entity) Destroy(ctx context.Context) error {
	return e.transition("destroy", []hv.EntityState{hv.EntityRunning, hv.EntityPaused, hv.EntityCrashed}, hv.EntityShutoff)
}

// Reboot is not implemented by the test endpoint, so callers exercise their
// shutdown-and-start fallback.
func (e *Entity) Reboot(ctx context.Context) error {
	e.mu.Lock()
	e.calls = append(e.calls, "reboot")
	e.mu.Unlock()
	return errors.Unsupported("reboot", "test endpoint has no reboot")
}

// Save writes the entity to path and shuts it off. An empty path keeps the
// saved state on the endpoint.
func (e *Entity) Save(ctx context.Context, path string) error {
	if path == "" {
		return e.transition("managedsave", []hv.EntityState{hv.EntityRunning, hv.EntityPaused}, hv.EntityShutoff)
	}
	data, err := json.Marshal(savedEntity{Name: e.name, State: e.State()})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	return e.transition("save", []hv.EntityState{hv.EntityRunning, hv.EntityPaused}, hv.EntityShutoff)
}

// ManagedSave implements hv.Entity. Remote test connections have none.
func (e *Entity) ManagedSave() bool { return !e.conn.IsRemote() }

func remove(list []string, v string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
