package dockerdrv

import (
	"context"
	"os"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/grovetools/virtsession/internal/hv"
)

// Entity is one container.
type Entity struct {
	conn   *Conn
	id     string
	fullID string

	mu    sync.RWMutex
	name  string
	state hv.EntityState
}

func (e *Entity) update(name string, state hv.EntityState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.name = name
	e.state = state
}

func (e *Entity) ID() string { return e.id }

func (e *Entity) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

func (e *Entity) State() hv.EntityState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// ManagedSave implements hv.Entity. The engine keeps no saved state.
func (e *Entity) ManagedSave() bool { return false }

func (e *Entity) do(ctx context.Context, fn func(api API) error) error {
	api, err := e.conn.client()
	if err != nil {
		return err
	}
	if err := fn(api); err != nil {
		return classify(e.conn.URI(), err)
	}
	// Pick up the new state without waiting for the next tick.
	return e.conn.refresh(ctx)
}

func (e *Entity) Suspend(ctx context.Context) error {
	return e.do(ctx, func(api API) error { return api.ContainerPause(ctx, e.fullID) })
}

func (e *Entity) Resume(ctx context.Context) error {
	return e.do(ctx, func(api API) error { return api.ContainerUnpause(ctx, e.fullID) })
}

func (e *Entity) Start(ctx context.Context) error {
	return e.do(ctx, func(api API) error { return api.ContainerStart(ctx, e.fullID, container.StartOptions{}) })
}

func (e *Entity) Shutdown(ctx context.Context) error {
	return e.do(ctx, func(api API) error { return api.ContainerStop(ctx, e.fullID, container.StopOptions{}) })
}

func (e *Entity) Reboot(ctx context.Context) error {
	return e.do(ctx, func(api API) error { return api.ContainerRestart(ctx, e.fullID, container.StopOptions{}) })
}

func (e *Entity) Destroy(ctx context.Context) error {
	return e.do(ctx, func(api API) error { return api.ContainerKill(ctx, e.fullID, "SIGKILL") })
}

// Save exports the container filesystem to path and stops the container.
func (e *Entity) Save(ctx context.Context, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := e.conn.Export(ctx, e.fullID, f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return e.Shutdown(ctx)
}
