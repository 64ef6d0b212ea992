package engine

import (
	"context"
	"os"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/asyncjob"
	"github.com/grovetools/virtsession/internal/registry"
)

// Autoconnect retry policy.
const (
	autostartMaxTries     = 5
	autostartInitialDelay = 500 * time.Millisecond
	autostartMaxDelay     = 10 * time.Second
	autostartMaxElapsed   = time.Minute
)

// RegisterConnection adds uri to the registry, stores it in configuration
// and seeds its state with one tick.
func (e *Engine) RegisterConnection(uri string, readOnly, autoconnect bool) (*registry.Entry, error) {
	entry, err := e.registry.Add(e.ctx, uri, readOnly, autoconnect)
	if err != nil {
		return nil, err
	}
	e.updateThreading()
	return entry, nil
}

// DeregisterConnection tears uri down and forgets it.
func (e *Engine) DeregisterConnection(uri string) error {
	if err := e.registry.Remove(uri); err != nil {
		return err
	}
	e.updateThreading()
	return nil
}

// LoadStoredURIs registers every connection listed in configuration.
// Connections that fail to register are logged and skipped.
func (e *Engine) LoadStoredURIs() int {
	loaded := 0
	for _, uri := range e.cfg.Connections() {
		if _, ok := e.registry.Lookup(uri); ok {
			continue
		}
		if _, err := e.RegisterConnection(uri, false, false); err != nil {
			e.logger.WithField("uri", uri).WithError(err).Warn("Could not load stored connection")
			continue
		}
		loaded++
	}
	e.logger.WithField("count", loaded).Debug("Loaded stored connections")
	return loaded
}

// AutostartConnections opens every registered connection marked
// autoconnect. Each open runs as a background job and is retried with
// exponential backoff.
func (e *Engine) AutostartConnections() []*asyncjob.Handle[struct{}] {
	var handles []*asyncjob.Handle[struct{}]
	for _, entry := range e.registry.Entries() {
		if !entry.Handle.Autoconnect() {
			continue
		}
		handles = append(handles, e.openConnection(entry))
	}
	return handles
}

// OpenConnection opens a registered connection on a background job.
func (e *Engine) OpenConnection(uri string) (*asyncjob.Handle[struct{}], error) {
	entry, err := e.registry.MustLookup(uri)
	if err != nil {
		return nil, err
	}
	return e.openConnection(entry), nil
}

// openConnection opens entry's handle on a background job.
func (e *Engine) openConnection(entry *registry.Entry) *asyncjob.Handle[struct{}] {
	uri := entry.URI
	return asyncjob.Submit(e.ctx, e.jobs, "Connecting", func(ctx context.Context) (struct{}, error) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = autostartInitialDelay
		b.MaxInterval = autostartMaxDelay

		attempt := 0
		return backoff.Retry(ctx, func() (struct{}, error) {
			attempt++
			err := entry.Handle.Open(ctx)
			if err == nil {
				return struct{}{}, nil
			}
			if errors.Is(err, errors.ErrCodeUnsupported) {
				return struct{}{}, backoff.Permanent(err)
			}
			e.logger.WithField("uri", uri).WithField("attempt", attempt).WithError(err).Debug("Connection open failed")
			return struct{}{}, err
		},
			backoff.WithBackOff(b),
			backoff.WithMaxTries(autostartMaxTries),
			backoff.WithMaxElapsedTime(autostartMaxElapsed),
		)
	})
}

// ConnectToURI registers uri if needed, shows the manager and, when
// doStart is set, opens the connection in the background. Failures are
// reported through the presenter rather than returned.
func (e *Engine) ConnectToURI(uri string, readOnly, autoconnect, doStart bool) *registry.Entry {
	log := e.logger.WithField("uri", uri)
	entry, ok := e.registry.Lookup(uri)
	if !ok {
		var err error
		entry, err = e.RegisterConnection(uri, readOnly, autoconnect)
		if err != nil {
			log.WithError(err).Error("Error connecting")
			e.presenter.ShowError("Error connecting to "+uri, err.Error())
			return nil
		}
	}

	if err := e.ShowManager(); err != nil {
		log.WithError(err).Warn("Could not show manager")
	}
	if doStart {
		h := e.openConnection(entry)
		go func() {
			if _, err := h.Wait(e.ctx); err != nil && e.ctx.Err() == nil {
				log.WithError(err).Error("Error opening connection")
				e.loop.Post(func() { e.presenter.ShowError("Error opening connection to "+uri, err.Error()) })
			}
		}()
	}
	return entry
}

// AddDefaultConnection connects to the detected local endpoint when no
// connections are stored.
func (e *Engine) AddDefaultConnection() {
	if len(e.cfg.Connections()) > 0 {
		return
	}
	uri := e.DefaultURI()
	if uri == "" {
		e.presenter.SetStartupError("Could not detect a default hypervisor. " +
			"Add a connection with 'virtsession connections add URI'.")
		return
	}
	e.logger.WithField("uri", uri).Info("No stored connections, adding default")
	e.ConnectToURI(uri, false, true, true)
}

// DefaultURI probes the local machine for a usable endpoint. Only URIs
// with a registered driver are returned.
func (e *Engine) DefaultURI() string {
	for _, c := range defaultCandidates {
		if !slices.Contains(e.factory.Schemes(), c.scheme) {
			continue
		}
		if c.matches(e.probe) {
			return c.uri
		}
	}
	return ""
}

type candidate struct {
	scheme string
	uri    string
	// all must exist
	all []string
	// any must exist
	any []string
}

func (c candidate) matches(exists func(string) bool) bool {
	for _, p := range c.all {
		if !exists(p) {
			return false
		}
	}
	if len(c.any) == 0 {
		return true
	}
	return slices.ContainsFunc(c.any, exists)
}

var defaultCandidates = []candidate{
	{scheme: "xen", uri: "xen:///", all: []string{"/var/lib/xend", "/proc/xen"}},
	{scheme: "qemu", uri: "qemu:///system", any: []string{
		"/dev/kvm", "/usr/bin/qemu", "/usr/bin/qemu-kvm", "/usr/bin/kvm", "/usr/libexec/qemu-kvm",
	}},
	{scheme: "docker", uri: "docker:///var/run/docker.sock", all: []string{"/var/run/docker.sock"}},
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
