// Package paths resolves where virtsession keeps its configuration, state
// and runtime files.
//
// Resolution order:
// 1. VIRTSESSION_HOME (portable root) → $VIRTSESSION_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/virtsession
// 3. Platform defaults → ~/.config/virtsession, ~/.local/state/virtsession
package paths

import (
	"os"
	"path/filepath"
)

const (
	appName  = "virtsession"
	homeEnv  = "VIRTSESSION_HOME"
	cfgFile  = "virtsession.yml"
	sockFile = "virtsession.sock"
	pidFile  = "virtsession.pid"
)

// resolve picks the base directory for one XDG category. sub is the
// directory used under VIRTSESSION_HOME, fallback the path under $HOME.
func resolve(sub, xdgEnv string, fallback ...string) string {
	if home := os.Getenv(homeEnv); home != "" {
		return filepath.Join(home, sub)
	}
	if dir := os.Getenv(xdgEnv); dir != "" {
		return filepath.Join(dir, appName)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append(append([]string{homeDir}, fallback...), appName)...)
}

// ConfigDir returns the configuration directory.
func ConfigDir() string {
	return resolve("config", "XDG_CONFIG_HOME", ".config")
}

// StateDir returns the state directory, used for the pid file and logs.
func StateDir() string {
	return resolve("state", "XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns the directory for the control socket.
// Uses XDG_RUNTIME_DIR when available, falls back to StateDir.
func RuntimeDir() string {
	if home := os.Getenv(homeEnv); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// LogDir returns the directory daemon log files are written to.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// ConfigFilePath returns the default configuration file.
func ConfigFilePath() string {
	return filepath.Join(ConfigDir(), cfgFile)
}

// SocketPath returns the path to the session daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), sockFile)
}

// PidFilePath returns the path to the session daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), pidFile)
}

// EnsureDirs creates all directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir(), LogDir(), RuntimeDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
