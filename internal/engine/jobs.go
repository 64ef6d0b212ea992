package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/grovetools/virtsession/config"
	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/asyncjob"
	"github.com/grovetools/virtsession/internal/hv"
	"github.com/grovetools/virtsession/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Job labels.
const (
	LabelSave    = "Saving entity"
	LabelRestore = "Restoring entity"
	LabelMigrate = "Migrating entity"
	LabelReboot  = "Rebooting entity"
)

// manualRebootTimeout bounds how long a faked reboot waits for shutoff.
const manualRebootTimeout = 5 * time.Minute

// SubmitAsyncJob runs work on a background worker under the engine context.
func SubmitAsyncJob[T any](e *Engine, label string, work func(ctx context.Context) (T, error)) *asyncjob.Handle[T] {
	return asyncjob.Submit(e.ctx, e.jobs, label, work)
}

func (e *Engine) lookupEntity(uri, id string) (*registry.Entry, hv.Entity, error) {
	entry, err := e.registry.MustLookup(uri)
	if err != nil {
		return nil, nil, err
	}
	entity, ok := entry.Handle.Entity(id)
	if !ok {
		return nil, nil, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("no entity %q on %s", id, uri)).
			WithDetail("uri", uri).
			WithDetail("entity", id)
	}
	return entry, entity, nil
}

// confirm asks the presenter when configuration wants confirmation for
// action. It reports whether to go ahead.
func (e *Engine) confirm(action, question string) bool {
	if !e.cfg.ConfirmRequired(action) {
		return true
	}
	return e.presenter.Confirm(question)
}

// SaveEntity saves an entity's state to path. Entities with managed save
// keep their state on the endpoint and ignore path. It returns a nil handle
// when the user declines.
func (e *Engine) SaveEntity(uri, id, path string) (*asyncjob.Handle[struct{}], error) {
	entry, entity, err := e.lookupEntity(uri, id)
	if err != nil {
		return nil, err
	}
	managed := entity.ManagedSave()
	if !managed && entry.Handle.IsRemote() {
		return nil, errors.Unsupported("save", "saving entities over remote connections is not supported")
	}
	if !managed && path == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "a save path is required")
	}
	if !e.confirm(config.ConfirmPoweroff, fmt.Sprintf("Are you sure you want to save '%s'?", entity.Name())) {
		return nil, nil
	}

	return SubmitAsyncJob(e, LabelSave, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, entity.Save(ctx, path)
	}), nil
}

// RestoreEntity restores a saved entity from path onto uri.
func (e *Engine) RestoreEntity(uri, path string) (*asyncjob.Handle[struct{}], error) {
	entry, err := e.registry.MustLookup(uri)
	if err != nil {
		return nil, err
	}
	if entry.Handle.IsRemote() {
		return nil, errors.Unsupported("restore", "restoring entities over remote connections is not supported")
	}
	restorer, ok := entry.Handle.(hv.Restorer)
	if !ok {
		return nil, errors.Unsupported("restore", "connection cannot restore entities")
	}
	if path == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "a restore path is required")
	}

	return SubmitAsyncJob(e, LabelRestore, func(ctx context.Context) (struct{}, error) {
		if err := restorer.Restore(ctx, path); err != nil {
			return struct{}{}, fmt.Errorf("error restoring entity '%s': %w", path, err)
		}
		return struct{}{}, nil
	}), nil
}

// MigrateEntity streams an entity from srcURI into dstURI.
func (e *Engine) MigrateEntity(srcURI, id, dstURI string) (*asyncjob.Handle[struct{}], error) {
	if srcURI == dstURI {
		return nil, errors.New(errors.ErrCodeInvalidInput, "source and destination connections are the same")
	}
	src, entity, err := e.lookupEntity(srcURI, id)
	if err != nil {
		return nil, err
	}
	dst, err := e.registry.MustLookup(dstURI)
	if err != nil {
		return nil, err
	}
	exporter, ok := src.Handle.(hv.Exporter)
	if !ok {
		return nil, errors.Unsupported("migrate", "source connection cannot export entities")
	}
	importer, ok := dst.Handle.(hv.Importer)
	if !ok {
		return nil, errors.Unsupported("migrate", "destination connection cannot import entities")
	}
	name := entity.Name()

	return SubmitAsyncJob(e, LabelMigrate, func(ctx context.Context) (struct{}, error) {
		pr, pw := io.Pipe()
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			err := exporter.Export(gctx, id, pw)
			pw.CloseWithError(err)
			return err
		})
		g.Go(func() error {
			err := importer.Import(gctx, name, pr)
			pr.CloseWithError(err)
			return err
		})
		return struct{}{}, g.Wait()
	}), nil
}

// DestroyEntity forces an entity off.
func (e *Engine) DestroyEntity(ctx context.Context, uri, id string) error {
	_, entity, err := e.lookupEntity(uri, id)
	if err != nil {
		return err
	}
	if !e.confirm(config.ConfirmForcePoweroff, fmt.Sprintf("Are you sure you want to force poweroff '%s'?", entity.Name())) {
		return nil
	}
	e.logger.WithField("entity", entity.Name()).Debug("Destroying entity")
	return e.entityAction("Error shutting down entity", entity.Destroy(ctx))
}

// SuspendEntity pauses an entity.
func (e *Engine) SuspendEntity(ctx context.Context, uri, id string) error {
	_, entity, err := e.lookupEntity(uri, id)
	if err != nil {
		return err
	}
	if !e.confirm(config.ConfirmPause, fmt.Sprintf("Are you sure you want to pause '%s'?", entity.Name())) {
		return nil
	}
	e.logger.WithField("entity", entity.Name()).Debug("Pausing entity")
	return e.entityAction("Error pausing entity", entity.Suspend(ctx))
}

// ResumeEntity unpauses an entity.
func (e *Engine) ResumeEntity(ctx context.Context, uri, id string) error {
	_, entity, err := e.lookupEntity(uri, id)
	if err != nil {
		return err
	}
	e.logger.WithField("entity", entity.Name()).Debug("Unpausing entity")
	return e.entityAction("Error unpausing entity", entity.Resume(ctx))
}

// RunEntity starts an entity.
func (e *Engine) RunEntity(ctx context.Context, uri, id string) error {
	_, entity, err := e.lookupEntity(uri, id)
	if err != nil {
		return err
	}
	e.logger.WithField("entity", entity.Name()).Debug("Starting entity")
	return e.entityAction("Error starting entity", entity.Start(ctx))
}

// ShutdownEntity asks an entity to power off.
func (e *Engine) ShutdownEntity(ctx context.Context, uri, id string) error {
	_, entity, err := e.lookupEntity(uri, id)
	if err != nil {
		return err
	}
	if !e.confirm(config.ConfirmPoweroff, fmt.Sprintf("Are you sure you want to poweroff '%s'?", entity.Name())) {
		return nil
	}
	e.logger.WithField("entity", entity.Name()).Debug("Shutting down entity")
	return e.entityAction("Error shutting down entity", entity.Shutdown(ctx))
}

// RebootEntity reboots an entity. When the endpoint cannot reboot it, the
// reboot is faked with a shutdown followed by a start on a background job.
func (e *Engine) RebootEntity(ctx context.Context, uri, id string) error {
	_, entity, err := e.lookupEntity(uri, id)
	if err != nil {
		return err
	}
	if !e.confirm(config.ConfirmPoweroff, fmt.Sprintf("Are you sure you want to reboot '%s'?", entity.Name())) {
		return nil
	}
	e.logger.WithField("entity", entity.Name()).Debug("Rebooting entity")
	rebootErr := entity.Reboot(ctx)
	if rebootErr == nil {
		return nil
	}
	if !errors.Is(rebootErr, errors.ErrCodeUnsupported) {
		return e.entityAction("Error rebooting entity", rebootErr)
	}

	e.logger.WithField("entity", entity.Name()).Debug("Endpoint doesn't support reboot, faking it")
	e.ManualReboot(entity)
	return nil
}

// ManualReboot shuts entity down, waits for it to reach shutoff and starts
// it again.
func (e *Engine) ManualReboot(entity hv.Entity) *asyncjob.Handle[struct{}] {
	return SubmitAsyncJob(e, LabelReboot, func(ctx context.Context) (struct{}, error) {
		if err := entity.Shutdown(ctx); err != nil {
			return struct{}{}, err
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxInterval = 2 * time.Second
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			if entity.State() != hv.EntityShutoff {
				return struct{}{}, fmt.Errorf("entity %s is still %s", entity.Name(), entity.State())
			}
			return struct{}{}, nil
		}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(manualRebootTimeout))
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, entity.Start(ctx)
	})
}

func (e *Engine) entityAction(summary string, err error) error {
	if err != nil {
		e.presenter.ShowError(fmt.Sprintf("%s: %v", summary, err), fmt.Sprintf("%+v", err))
	}
	return err
}
