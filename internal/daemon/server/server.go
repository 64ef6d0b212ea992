// Package server exposes a running session over HTTP on a Unix socket.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/internal/asyncjob"
	"github.com/grovetools/virtsession/internal/engine"
	"github.com/grovetools/virtsession/internal/metrics"
	"github.com/grovetools/virtsession/internal/notify"
	"github.com/grovetools/virtsession/internal/registry"
	"github.com/grovetools/virtsession/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	eventBuffer  = 256
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Options carries what the status endpoint reports besides engine state.
type Options struct {
	Version   string
	StartedAt time.Time
	Metrics   *metrics.Metrics
}

// Server manages the session's HTTP server over a Unix socket.
type Server struct {
	logger   *logrus.Entry
	engine   *engine.Engine
	opts     Options
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates a Server for eng.
func New(eng *engine.Engine, opts Options, logger *logrus.Entry) *Server {
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	return &Server{
		logger: logger,
		engine: eng,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/connections", s.handleListConnections)
	mux.HandleFunc("POST /api/connections", s.handleAddConnection)
	mux.HandleFunc("DELETE /api/connections", s.handleRemoveConnection)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/entities/action", s.handleEntityAction)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/save", s.handleSave)
	mux.HandleFunc("POST /api/jobs/restore", s.handleRestore)
	mux.HandleFunc("POST /api/jobs/migrate", s.handleMigrate)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe starts serving on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.server = &http.Server{
		Handler: h2c.NewHandler(s.Handler(), &http2.Server{}),
	}

	s.logger.WithField("socket", socketPath).Info("Session listening")
	err = s.server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sched := s.engine.Scheduler()
	writeJSON(w, http.StatusOK, models.Status{
		PID:          os.Getpid(),
		Version:      s.opts.Version,
		StartedAt:    s.opts.StartedAt,
		Connections:  s.engine.Registry().Len(),
		OpenWindows:  s.engine.Counter().Count(),
		Tray:         s.engine.Counter().Tray(),
		TickInterval: sched.Interval().String(),
		Threaded:     sched.Threaded(),
		TickRunning:  sched.Running(),
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	reg := s.engine.Registry()
	entries := reg.Entries()
	out := make([]models.ConnectionInfo, 0, len(entries))
	for _, entry := range entries {
		out = append(out, connectionInfo(reg, entry, true))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	var req models.AddConnectionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.URI == "" {
		s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "uri is required"))
		return
	}

	var info models.ConnectionInfo
	err := s.engine.Dispatcher().Call(r.Context(), func() error {
		entry, err := s.engine.RegisterConnection(req.URI, req.ReadOnly, req.Autoconnect)
		if err != nil {
			return err
		}
		if req.Open {
			if _, err := s.engine.OpenConnection(req.URI); err != nil {
				return err
			}
		}
		info = connectionInfo(s.engine.Registry(), entry, false)
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.WithField("uri", req.URI).Info("Connection added")
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "uri is required"))
		return
	}
	err := s.engine.Dispatcher().Call(r.Context(), func() error {
		return s.engine.DeregisterConnection(uri)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.WithField("uri", uri).Info("Connection removed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var started bool
	err := s.engine.Dispatcher().Call(r.Context(), func() error {
		started = s.engine.Refresh()
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.RefreshResponse{Started: started})
}

func (s *Server) handleEntityAction(w http.ResponseWriter, r *http.Request) {
	var req models.EntityActionRequest
	if !decode(w, r, &req) {
		return
	}
	actions := map[string]func(context.Context, string, string) error{
		models.ActionDestroy:  s.engine.DestroyEntity,
		models.ActionSuspend:  s.engine.SuspendEntity,
		models.ActionResume:   s.engine.ResumeEntity,
		models.ActionRun:      s.engine.RunEntity,
		models.ActionShutdown: s.engine.ShutdownEntity,
		models.ActionReboot:   s.engine.RebootEntity,
	}
	action, ok := actions[req.Action]
	if !ok {
		s.writeError(w, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown action %q", req.Action)))
		return
	}
	err := s.engine.Dispatcher().Call(r.Context(), func() error {
		return action(r.Context(), req.URI, req.ID)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.engine.Jobs().Jobs()
	out := make([]models.JobInfo, 0, len(jobs))
	for _, info := range jobs {
		out = append(out, jobInfo(info))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.engine.Jobs().Job(id)
	if !ok {
		s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "unknown job "+id).WithDetail("job", id))
		return
	}
	writeJSON(w, http.StatusOK, jobInfo(info))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req models.SaveRequest
	if !decode(w, r, &req) {
		return
	}
	s.submit(w, r, func() (*asyncjob.Handle[struct{}], error) {
		return s.engine.SaveEntity(req.URI, req.ID, req.Path)
	})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req models.RestoreRequest
	if !decode(w, r, &req) {
		return
	}
	s.submit(w, r, func() (*asyncjob.Handle[struct{}], error) {
		return s.engine.RestoreEntity(req.URI, req.Path)
	})
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req models.MigrateRequest
	if !decode(w, r, &req) {
		return
	}
	s.submit(w, r, func() (*asyncjob.Handle[struct{}], error) {
		return s.engine.MigrateEntity(req.Source, req.ID, req.Destination)
	})
}

// submit starts a job on the controlling thread and answers with its
// initial status. A declined confirmation answers 204.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, start func() (*asyncjob.Handle[struct{}], error)) {
	var h *asyncjob.Handle[struct{}]
	err := s.engine.Dispatcher().Call(r.Context(), func() error {
		var err error
		h, err = start()
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if h == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	info, _ := s.engine.Jobs().Job(h.ID())
	s.logger.WithFields(logrus.Fields{"job": h.ID(), "label": h.Label()}).Info("Job submitted")
	writeJSON(w, http.StatusAccepted, jobInfo(info))
}

// handleEvents streams connection notifications over a websocket. Every
// registered connection is sent first as connection-added.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	reg := s.engine.Registry()
	events, cancel := reg.Events().Stream(eventBuffer+reg.Len(), notify.ConnectionAdded, notify.ConnectionRemoved)
	defer cancel()
	s.logger.Debug("Event client connected")

	// Reader: only needed to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			s.logger.Debug("Event client disconnected")
			return
		case <-s.engine.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session exiting"),
				time.Now().Add(writeTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteJSON(models.Event{
				Kind:       string(ev.Kind),
				Connection: connectionInfo(reg, ev.Payload, false),
			})
			if err != nil {
				s.logger.WithError(err).Debug("Failed to write event")
				return
			}
		}
	}
}

func connectionInfo(reg *registry.Registry, entry *registry.Entry, withEntities bool) models.ConnectionInfo {
	h := entry.Handle
	info := models.ConnectionInfo{
		URI:         entry.URI,
		State:       h.State().String(),
		Autoconnect: h.Autoconnect(),
		ReadOnly:    h.ReadOnly(),
		Remote:      h.IsRemote(),
		Dependents:  reg.Dependents(entry.URI),
	}
	if withEntities {
		for _, ent := range h.Entities() {
			info.Entities = append(info.Entities, models.EntityInfo{
				ID:    ent.ID(),
				Name:  ent.Name(),
				State: string(ent.State()),
			})
		}
	}
	return info
}

func jobInfo(info asyncjob.Info) models.JobInfo {
	out := models.JobInfo{
		ID:        info.ID,
		Label:     info.Label,
		State:     info.State,
		StartedAt: info.StartedAt,
	}
	if !info.FinishedAt.IsZero() {
		finished := info.FinishedAt
		out.FinishedAt = &finished
	}
	if info.Error != nil {
		out.Error = info.Error.Summary
		out.Detail = info.Error.Detail
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Code:    string(errors.ErrCodeInvalidInput),
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeUnknownConnection:
		status = http.StatusNotFound
	case errors.ErrCodeDuplicateConnection:
		status = http.StatusConflict
	case errors.ErrCodeUnsupported:
		status = http.StatusNotImplemented
	}

	resp := models.ErrorResponse{Code: string(errors.GetCode(err)), Message: err.Error()}
	var se *errors.SessionError
	if stderrors.As(err, &se) {
		resp.Message = se.Message
		resp.Details = se.Details
	}
	if resp.Code == "" {
		resp.Code = string(errors.ErrCodeInternal)
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, resp)
}
