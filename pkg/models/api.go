// Package models holds the wire types exchanged over the control socket.
package models

import "time"

// EntityInfo describes one managed entity.
type EntityInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// ConnectionInfo describes one registered connection.
type ConnectionInfo struct {
	URI         string       `json:"uri"`
	State       string       `json:"state"`
	Autoconnect bool         `json:"autoconnect"`
	ReadOnly    bool         `json:"read_only,omitempty"`
	Remote      bool         `json:"remote,omitempty"`
	Dependents  int          `json:"dependents"`
	Entities    []EntityInfo `json:"entities,omitempty"`
}

// AddConnectionRequest registers a connection.
type AddConnectionRequest struct {
	URI         string `json:"uri"`
	ReadOnly    bool   `json:"read_only,omitempty"`
	Autoconnect bool   `json:"autoconnect,omitempty"`
	// Open connects right away instead of waiting for autostart.
	Open bool `json:"open,omitempty"`
}

// SaveRequest saves an entity.
type SaveRequest struct {
	URI  string `json:"uri"`
	ID   string `json:"id"`
	Path string `json:"path,omitempty"`
}

// RestoreRequest restores a saved entity.
type RestoreRequest struct {
	URI  string `json:"uri"`
	Path string `json:"path"`
}

// MigrateRequest moves an entity between connections.
type MigrateRequest struct {
	Source      string `json:"source"`
	ID          string `json:"id"`
	Destination string `json:"destination"`
}

// EntityActionRequest runs a power action on an entity.
type EntityActionRequest struct {
	URI    string `json:"uri"`
	ID     string `json:"id"`
	Action string `json:"action"`
}

// Entity power actions.
const (
	ActionDestroy  = "destroy"
	ActionSuspend  = "suspend"
	ActionResume   = "resume"
	ActionRun      = "run"
	ActionShutdown = "shutdown"
	ActionReboot   = "reboot"
)

// JobInfo describes a background job.
type JobInfo struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// RefreshResponse reports whether a manual refresh started a cycle.
type RefreshResponse struct {
	Started bool `json:"started"`
}

// Status summarizes a running session.
type Status struct {
	PID          int       `json:"pid"`
	Version      string    `json:"version"`
	StartedAt    time.Time `json:"started_at"`
	Connections  int       `json:"connections"`
	OpenWindows  int       `json:"open_windows"`
	Tray         bool      `json:"tray"`
	TickInterval string    `json:"tick_interval"`
	Threaded     bool      `json:"threaded"`
	TickRunning  bool      `json:"tick_running"`
}

// Event kinds streamed on /api/events.
const (
	EventConnectionAdded   = "connection-added"
	EventConnectionRemoved = "connection-removed"
)

// Event is one connection notification.
type Event struct {
	Kind       string         `json:"kind"`
	Connection ConnectionInfo `json:"connection"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
