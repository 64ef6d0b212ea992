// Package dockerdrv serves "docker" connection URIs. Each container on the
// Docker Engine is a managed entity.
//
// URI forms:
//
//	docker:///var/run/docker.sock   local unix socket
//	docker://10.0.0.5:2375          remote TCP endpoint
package dockerdrv

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/hv"
)

// Scheme is the URI scheme served by this driver.
const Scheme = "docker"

// Options is the `drivers.docker` configuration section.
type Options struct {
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DriversConfig is the `drivers` configuration section.
type DriversConfig struct {
	Docker Options `yaml:"docker"`
}

// Driver creates Docker Engine connections.
type Driver struct {
	Options Options
	// NewAPI builds the SDK client. Defaults to NewSDKClient.
	NewAPI func(host string, opts Options) (API, error)
}

// New creates a Driver with the given options.
func New(opts Options) *Driver {
	return &Driver{Options: opts, NewAPI: NewSDKClient}
}

// Scheme implements hv.Driver.
func (d *Driver) Scheme() string { return Scheme }

// New implements hv.Driver.
func (d *Driver) New(uri string, readOnly bool, l hv.Listener) (hv.Connection, error) {
	host, err := HostFromURI(uri)
	if err != nil {
		return nil, err
	}
	newAPI := d.NewAPI
	if newAPI == nil {
		newAPI = NewSDKClient
	}
	return &Conn{
		Base:     hv.NewBase(uri, readOnly, l),
		host:     host,
		opts:     d.Options,
		newAPI:   newAPI,
		entities: make(map[string]*Entity),
	}, nil
}

// HostFromURI maps a connection URI to a Docker host address.
func HostFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid docker URI").WithDetail("uri", uri)
	}
	if u.Host == "" {
		path := u.Path
		if path == "" || path == "/" {
			path = "/var/run/docker.sock"
		}
		return "unix://" + path, nil
	}
	return "tcp://" + u.Host, nil
}

// Conn is a connection to one Docker Engine.
type Conn struct {
	*hv.Base

	host   string
	opts   Options
	newAPI func(host string, opts Options) (API, error)

	mu       sync.Mutex
	api      API
	entities map[string]*Entity
	order    []string
}

// SupportsThreading implements hv.Connection. The SDK client is safe for
// concurrent use.
func (c *Conn) SupportsThreading() bool { return true }

// Open implements hv.Connection.
func (c *Conn) Open(ctx context.Context) error {
	if c.State() == hv.Active {
		return nil
	}
	c.SetState(hv.Connecting)

	api, err := c.newAPI(c.host, c.opts)
	if err != nil {
		c.SetState(hv.Disconnected)
		return errors.Wrap(err, errors.ErrCodeConnectionFatal, "failed to create docker client").
			WithDetail("uri", c.URI())
	}
	if _, err := api.Ping(ctx); err != nil {
		api.Close()
		c.SetState(hv.Disconnected)
		return errors.ConnectionFatal(c.URI(), err)
	}

	c.mu.Lock()
	c.api = api
	c.mu.Unlock()

	if err := c.refresh(ctx); err != nil {
		c.Close()
		return err
	}
	c.SetState(hv.Active)
	return nil
}

// Tick implements hv.Connection.
func (c *Conn) Tick(ctx context.Context) error {
	if c.State() != hv.Active {
		return nil
	}
	return c.refresh(ctx)
}

// Close implements hv.Connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	api := c.api
	c.api = nil
	c.mu.Unlock()

	var err error
	if api != nil {
		err = api.Close()
	}
	c.SetState(hv.Disconnected)
	return err
}

func (c *Conn) client() (API, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil, errors.New(errors.ErrCodeConnectionTransient, "connection is not open").
			WithDetail("uri", c.URI())
	}
	return c.api, nil
}

// refresh re-lists containers and reports those that disappeared.
func (c *Conn) refresh(ctx context.Context) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	list, err := api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return classify(c.URI(), err)
	}

	seen := make(map[string]bool, len(list))
	var removed []string

	c.mu.Lock()
	order := make([]string, 0, len(list))
	for _, summary := range list {
		id := shortID(summary.ID)
		seen[id] = true
		order = append(order, id)
		e, ok := c.entities[id]
		if !ok {
			e = &Entity{conn: c, id: id, fullID: summary.ID}
			c.entities[id] = e
		}
		e.update(containerName(summary.Names, id), mapState(string(summary.State)))
	}
	for _, id := range c.order {
		if !seen[id] {
			delete(c.entities, id)
			removed = append(removed, id)
		}
	}
	c.order = order
	c.mu.Unlock()

	for _, id := range removed {
		c.Listener().EntityRemoved(c.URI(), id)
	}
	return nil
}

// connectionFailed reports whether err means the engine is unreachable.
var connectionFailed = client.IsErrConnectionFailed

// classify maps SDK errors onto the tick error policy.
func classify(uri string, err error) error {
	switch {
	case connectionFailed(err):
		return errors.ConnectionFatal(uri, err)
	case errors.Is(err, errors.ErrCodeConnectionTransient), isTimeout(err):
		return errors.ConnectionTransient(uri, err)
	}
	return fmt.Errorf("docker %s: %w", uri, err)
}

func isTimeout(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "context deadline exceeded")
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
	e, ok := c.entities[shortID(id)]
	if !ok {
		return nil, false
	}
	return e, true
}

// Restore implements hv.Restorer by importing a saved filesystem tarball
// as an image.
func (c *Conn) Restore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.importImage(ctx, imageRef(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))), f)
}

// Export implements hv.Exporter.
func (c *Conn) Export(ctx context.Context, id string, w io.Writer) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	rc, err := api.ContainerExport(ctx, id)
	if err != nil {
		return classify(c.URI(), err)
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

// Import implements hv.Importer.
func (c *Conn) Import(ctx context.Context, name string, r io.Reader) error {
	return c.importImage(ctx, imageRef(name), r)
}

func (c *Conn) importImage(ctx context.Context, ref string, r io.Reader) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	out, err := api.ImageImport(ctx, image.ImportSource{Source: r, SourceName: "-"}, ref, image.ImportOptions{})
	if err != nil {
		return classify(c.URI(), err)
	}
	defer out.Close()
	// The import only completes once the progress stream is consumed.
	_, err = io.Copy(io.Discard, out)
	return err
}

var refInvalid = regexp.MustCompile(`[^a-z0-9._-]+`)

func imageRef(name string) string {
	clean := strings.Trim(refInvalid.ReplaceAllString(strings.ToLower(name), "-"), "-.")
	if clean == "" {
		clean = "entity"
	}
	return "virtsession/" + clean + ":latest"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func containerName(names []string, id string) string {
	if len(names) == 0 {
		return id
	}
	return strings.TrimPrefix(names[0], "/")
}

func mapState(state string) hv.EntityState {
	switch state {
	case "running", "restarting":
		return hv.EntityRunning
	case "paused":
		return hv.EntityPaused
	case "dead":
		return hv.EntityCrashed
	default:
		return hv.EntityShutoff
	}
}
