package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/virtsession/config"
	"github.com/grovetools/virtsession/internal/engine"
	"github.com/grovetools/virtsession/internal/hv"
	"github.com/grovetools/virtsession/internal/hv/testdrv"
	"github.com/grovetools/virtsession/internal/metrics"
	"github.com/grovetools/virtsession/pkg/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine *engine.Engine
	driver *testdrv.Driver
	http   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	entry := logrus.NewEntry(logger)
	m := metrics.New()

	driver := testdrv.New()
	driver.Threaded = true
	eng := engine.New(engine.Options{
		Config:   config.NewMemoryStore(nil),
		Factory:  hv.NewFactory(driver),
		Metrics:  m,
		Logger:   entry,
		Resident: true,
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, eng.Start(ctx))

	srv := New(eng, Options{Version: "test", Metrics: m}, entry)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		eng.Shutdown()
	})
	return &harness{engine: eng, driver: driver, http: ts}
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.http.URL+path, r)
	require.NoError(t, err)
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnectionLifecycle(t *testing.T) {
	h := newHarness(t)
	const uri = "test:///host-a"

	resp := h.do(t, http.MethodPost, "/api/connections", models.AddConnectionRequest{URI: uri, Open: true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, uri, decodeBody[models.ConnectionInfo](t, resp).URI)

	resp = h.do(t, http.MethodPost, "/api/connections", models.AddConnectionRequest{URI: uri})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_CONNECTION", decodeBody[models.ErrorResponse](t, resp).Code)

	require.Eventually(t, func() bool {
		return h.driver.Conn(uri).State() == hv.Active
	}, 2*time.Second, 10*time.Millisecond)

	resp = h.do(t, http.MethodGet, "/api/connections", nil)
	list := decodeBody[[]models.ConnectionInfo](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "active", list[0].State)
	require.Len(t, list[0].Entities, 1)
	assert.Equal(t, "test", list[0].Entities[0].Name)

	resp = h.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = h.do(t, http.MethodDelete, "/api/connections?uri="+uri, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = h.do(t, http.MethodDelete, "/api/connections?uri="+uri, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/connections", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobsAndActions(t *testing.T) {
	h := newHarness(t)
	const uri = "test:///host-a"
	resp := h.do(t, http.MethodPost, "/api/connections", models.AddConnectionRequest{URI: uri})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, h.driver.Conn(uri).Open(context.Background()))
	ent, _ := h.driver.Conn(uri).FindByName("test")

	resp = h.do(t, http.MethodPost, "/api/entities/action", models.EntityActionRequest{URI: uri, ID: ent.ID(), Action: models.ActionSuspend})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, hv.EntityPaused, ent.State())

	resp = h.do(t, http.MethodPost, "/api/entities/action", models.EntityActionRequest{URI: uri, ID: ent.ID(), Action: "explode"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	path := filepath.Join(t.TempDir(), "test.save")
	resp = h.do(t, http.MethodPost, "/api/jobs/save", models.SaveRequest{URI: uri, ID: ent.ID(), Path: path})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := decodeBody[models.JobInfo](t, resp)
	assert.Equal(t, "Saving entity", job.Label)

	require.Eventually(t, func() bool {
		resp := h.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
		return decodeBody[models.JobInfo](t, resp).State == "ok"
	}, 2*time.Second, 10*time.Millisecond)

	resp = h.do(t, http.MethodPost, "/api/jobs/restore", models.RestoreRequest{URI: "test:///nope", Path: path})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/jobs", nil)
	assert.Len(t, decodeBody[[]models.JobInfo](t, resp), 1)

	resp = h.do(t, http.MethodGet, "/api/status", nil)
	status := decodeBody[models.Status](t, resp)
	assert.Equal(t, 1, status.Connections)
	assert.True(t, status.Tray)
	assert.Equal(t, "test", status.Version)
}

func TestEventsReplayAndStream(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.RegisterConnection("test:///host-a", false, false)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() models.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev models.Event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	ev := read()
	assert.Equal(t, models.EventConnectionAdded, ev.Kind)
	assert.Equal(t, "test:///host-a", ev.Connection.URI)

	resp := h.do(t, http.MethodPost, "/api/connections", models.AddConnectionRequest{URI: "test:///host-b"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ev = read()
	assert.Equal(t, models.EventConnectionAdded, ev.Kind)
	assert.Equal(t, "test:///host-b", ev.Connection.URI)

	resp = h.do(t, http.MethodDelete, "/api/connections?uri=test:///host-a", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	ev = read()
	assert.Equal(t, models.EventConnectionRemoved, ev.Kind)
	assert.Equal(t, "test:///host-a", ev.Connection.URI)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.RegisterConnection("test:///host-a", false, false)
	require.NoError(t, err)

	resp := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "virtsession_connections 1")
}
