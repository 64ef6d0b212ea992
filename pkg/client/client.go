// Package client talks to a running session over its control socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/pkg/models"
)

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// Client calls the session's HTTP API over a Unix socket.
type Client struct {
	httpClient *http.Client
	socketPath string
	dialer     *websocket.Dialer
}

// New creates a Client for the session listening on socketPath.
func New(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	transport := &http.Transport{
		DialContext:     dial,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		socketPath: socketPath,
		dialer: &websocket.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string { return c.socketPath }

// IsRunning returns true if the session is available and responding.
func (c *Client) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

// Status returns the session summary.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Connections lists registered connections with their entities.
func (c *Client) Connections(ctx context.Context) ([]models.ConnectionInfo, error) {
	var out []models.ConnectionInfo
	if err := c.do(ctx, http.MethodGet, "/api/connections", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddConnection registers a connection.
func (c *Client) AddConnection(ctx context.Context, req models.AddConnectionRequest) (*models.ConnectionInfo, error) {
	var out models.ConnectionInfo
	if err := c.do(ctx, http.MethodPost, "/api/connections", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveConnection deregisters a connection.
func (c *Client) RemoveConnection(ctx context.Context, uri string) error {
	return c.do(ctx, http.MethodDelete, "/api/connections?uri="+url.QueryEscape(uri), nil, nil)
}

// Refresh asks for a tick cycle now. It reports false when one was
// already running.
func (c *Client) Refresh(ctx context.Context) (bool, error) {
	var out models.RefreshResponse
	if err := c.do(ctx, http.MethodPost, "/api/refresh", nil, &out); err != nil {
		return false, err
	}
	return out.Started, nil
}

// EntityAction runs a power action on an entity.
func (c *Client) EntityAction(ctx context.Context, req models.EntityActionRequest) error {
	return c.do(ctx, http.MethodPost, "/api/entities/action", req, nil)
}

// Save starts a save job. A nil job means the session declined.
func (c *Client) Save(ctx context.Context, req models.SaveRequest) (*models.JobInfo, error) {
	return c.submit(ctx, "/api/jobs/save", req)
}

// Restore starts a restore job.
func (c *Client) Restore(ctx context.Context, req models.RestoreRequest) (*models.JobInfo, error) {
	return c.submit(ctx, "/api/jobs/restore", req)
}

// Migrate starts a migration job.
func (c *Client) Migrate(ctx context.Context, req models.MigrateRequest) (*models.JobInfo, error) {
	return c.submit(ctx, "/api/jobs/migrate", req)
}

func (c *Client) submit(ctx context.Context, path string, req any) (*models.JobInfo, error) {
	var out *models.JobInfo
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Jobs lists running and recently finished jobs.
func (c *Client) Jobs(ctx context.Context) ([]models.JobInfo, error) {
	var out []models.JobInfo
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Job returns one job.
func (c *Client) Job(ctx context.Context, id string) (*models.JobInfo, error) {
	var out models.JobInfo
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitJob polls a job until it finishes. A failed job is returned together
// with a JOB_FAILURE error.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (*models.JobInfo, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		switch job.State {
		case "ok":
			return job, nil
		case "error":
			return job, errors.JobFailure(job.Label, job.Error, job.Detail)
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Events streams connection notifications. Every registered connection
// arrives first as connection-added. The channel closes when ctx is done
// or the session goes away.
func (c *Client) Events(ctx context.Context) (<-chan models.Event, error) {
	conn, _, err := c.dialer.DialContext(ctx, "ws://unix/api/events", nil)
	if err != nil {
		return nil, c.transportError(err)
	}

	ch := make(chan models.Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var ev models.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			return errors.New(errors.ErrCodeInternal, fmt.Sprintf("session returned status %d", resp.StatusCode))
		}
		se := errors.New(errors.ErrorCode(apiErr.Code), apiErr.Message)
		for k, v := range apiErr.Details {
			se.WithDetail(k, v)
		}
		return se
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) transportError(err error) error {
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return errors.DaemonNotRunning(c.socketPath)
	}
	return fmt.Errorf("failed to reach session: %w", err)
}
