package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovetools/virtsession/config"
	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/daemon/server"
	"github.com/grovetools/virtsession/internal/engine"
	"github.com/grovetools/virtsession/internal/hv"
	"github.com/grovetools/virtsession/internal/hv/testdrv"
	"github.com/grovetools/virtsession/pkg/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSession runs a real session on a short socket path.
func startSession(t *testing.T) (*Client, *testdrv.Driver) {
	t.Helper()
	dir, err := os.MkdirTemp("", "vs")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "s.sock")

	logger, _ := logtest.NewNullLogger()
	entry := logrus.NewEntry(logger)
	driver := testdrv.New()
	eng := engine.New(engine.Options{
		Config:   config.NewMemoryStore(nil),
		Factory:  hv.NewFactory(driver),
		Logger:   entry,
		Resident: true,
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, eng.Start(ctx))

	srv := server.New(eng, server.Options{Version: "test"}, entry)
	go srv.ListenAndServe(socket)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		cancel()
	})

	c := New(socket)
	t.Cleanup(func() { c.Close() })
	require.Eventually(t, c.IsRunning, 2*time.Second, 10*time.Millisecond)
	return c, driver
}

func TestNotRunning(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing.sock"))
	assert.False(t, c.IsRunning())

	_, err := c.Status(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCodeDaemonNotRunning))
}

func TestRoundTrip(t *testing.T) {
	c, driver := startSession(t)
	ctx := context.Background()
	const uri = "test:///host-a"

	events, err := c.Events(ctx)
	require.NoError(t, err)

	info, err := c.AddConnection(ctx, models.AddConnectionRequest{URI: uri, Open: true})
	require.NoError(t, err)
	assert.Equal(t, uri, info.URI)

	select {
	case ev := <-events:
		assert.Equal(t, models.EventConnectionAdded, ev.Kind)
		assert.Equal(t, uri, ev.Connection.URI)
	case <-time.After(2 * time.Second):
		t.Fatal("no connection-added event")
	}

	_, err = c.AddConnection(ctx, models.AddConnectionRequest{URI: uri})
	assert.True(t, errors.Is(err, errors.ErrCodeDuplicateConnection))

	require.Eventually(t, func() bool { return driver.Conn(uri).State() == hv.Active }, 2*time.Second, 10*time.Millisecond)
	list, err := c.Connections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Entities, 1)
	id := list[0].Entities[0].ID

	_, err = c.Refresh(ctx)
	require.NoError(t, err)

	job, err := c.Save(ctx, models.SaveRequest{URI: uri, ID: id, Path: filepath.Join(t.TempDir(), "a.save")})
	require.NoError(t, err)
	require.NotNil(t, job)
	done, err := c.WaitJob(ctx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "ok", done.State)

	job, err = c.Restore(ctx, models.RestoreRequest{URI: uri, Path: filepath.Join(t.TempDir(), "missing.save")})
	require.NoError(t, err)
	_, err = c.WaitJob(ctx, job.ID, 10*time.Millisecond)
	assert.True(t, errors.Is(err, errors.ErrCodeJobFailure))

	require.NoError(t, c.EntityAction(ctx, models.EntityActionRequest{URI: uri, ID: id, Action: models.ActionRun}))

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Connections)

	require.NoError(t, c.RemoveConnection(ctx, uri))
	err = c.RemoveConnection(ctx, uri)
	assert.True(t, errors.Is(err, errors.ErrCodeUnknownConnection))
}
