package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/grovetools/virtsession/errors"
	"github.com/sirupsen/logrus"
)

// Store is the live configuration shared by the running session. Reads are
// served from memory; writes persist to disk under an advisory file lock.
// Change callbacks run on the goroutine that caused the change, after the
// store's lock is released.
type Store struct {
	mu     sync.RWMutex
	path   string
	cfg    *Config
	logger *logrus.Entry

	hooksMu       sync.Mutex
	intervalHooks []func(time.Duration)
	trayHooks     []func(bool)
}

// NewStore loads path into a Store. A missing file starts from defaults and
// is created on the first write.
func NewStore(path string, logger *logrus.Entry) (*Store, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg, err := Load(path)
	if errors.Is(err, errors.ErrCodeConfigNotFound) {
		cfg = &Config{}
		cfg.SetDefaults()
		logger.WithField("path", path).Debug("No configuration file, using defaults")
	} else if err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: cfg, logger: logger}, nil
}

// NewMemoryStore returns a Store that never touches disk.
func NewMemoryStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	return &Store{cfg: cfg, logger: logrus.NewEntry(logrus.StandardLogger())}
}

// Path returns the backing file, empty for memory stores.
func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Connections returns the stored connection URIs in order.
func (s *Store) Connections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.cfg.Connections...)
}

// AddConnection appends uri to the stored connection list if absent.
func (s *Store) AddConnection(uri string) error {
	return s.update(func(c *Config) bool {
		if contains(c.Connections, uri) {
			return false
		}
		c.Connections = append(c.Connections, uri)
		return true
	})
}

// RemoveConnection drops uri from the stored connection and autoconnect lists.
func (s *Store) RemoveConnection(uri string) error {
	return s.update(func(c *Config) bool {
		before := len(c.Connections) + len(c.Autoconnect)
		c.Connections = without(c.Connections, uri)
		c.Autoconnect = without(c.Autoconnect, uri)
		return len(c.Connections)+len(c.Autoconnect) != before
	})
}

// Autoconnect reports whether uri is opened at startup.
func (s *Store) Autoconnect(uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return contains(s.cfg.Autoconnect, uri)
}

// SetAutoconnect persists the autoconnect flag for uri.
func (s *Store) SetAutoconnect(uri string, enabled bool) error {
	return s.update(func(c *Config) bool {
		has := contains(c.Autoconnect, uri)
		switch {
		case enabled && !has:
			c.Autoconnect = append(c.Autoconnect, uri)
		case !enabled && has:
			c.Autoconnect = without(c.Autoconnect, uri)
		default:
			return false
		}
		return true
	})
}

// StatsUpdateInterval returns the refresh interval.
func (s *Store) StatsUpdateInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Interval()
}

// SetStatsUpdateInterval persists a new interval in seconds.
func (s *Store) SetStatsUpdateInterval(seconds int) error {
	if seconds < 1 {
		return errors.ConfigInvalid("stats_update_interval must be at least 1 second").
			WithDetail("value", seconds)
	}
	return s.update(func(c *Config) bool {
		if c.StatsUpdateInterval == seconds {
			return false
		}
		c.StatsUpdateInterval = seconds
		return true
	})
}

// ViewSystemTray reports whether tray mode is enabled.
func (s *Store) ViewSystemTray() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ViewSystemTray
}

// SetViewSystemTray persists the tray flag.
func (s *Store) SetViewSystemTray(enabled bool) error {
	return s.update(func(c *Config) bool {
		if c.ViewSystemTray == enabled {
			return false
		}
		c.ViewSystemTray = enabled
		return true
	})
}

// ConfirmRequired reports whether action needs confirmation.
func (s *Store) ConfirmRequired(action string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ConfirmRequired(action)
}

// OnStatsUpdateIntervalChanged registers fn to run whenever the interval changes.
func (s *Store) OnStatsUpdateIntervalChanged(fn func(time.Duration)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.intervalHooks = append(s.intervalHooks, fn)
}

// OnViewSystemTrayChanged registers fn to run whenever the tray flag changes.
func (s *Store) OnViewSystemTrayChanged(fn func(bool)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.trayHooks = append(s.trayHooks, fn)
}

// Reload re-reads the backing file and fires change callbacks for values
// that differ from what was loaded before.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.replace(cfg)
	return nil
}

func (s *Store) replace(next *Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = next
	s.mu.Unlock()
	s.notify(prev, next)
}

// update applies mutate to a copy of the config and persists it when
// mutate reports a change.
func (s *Store) update(mutate func(*Config) bool) error {
	s.mu.Lock()
	next := s.cfg.Clone()
	if !mutate(next) {
		s.mu.Unlock()
		return nil
	}
	if err := s.save(next); err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.cfg
	s.cfg = next
	s.mu.Unlock()

	s.notify(prev, next)
	return nil
}

func (s *Store) save(cfg *Config) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create config directory").
			WithDetail("path", s.path)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock config file").
			WithDetail("path", s.path)
	}
	defer lock.Unlock()

	data, err := Marshal(cfg, FormatFor(s.path))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode configuration")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write configuration").
			WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to replace configuration").
			WithDetail("path", s.path)
	}
	s.logger.WithField("path", s.path).Debug("Configuration saved")
	return nil
}

func (s *Store) notify(prev, next *Config) {
	s.hooksMu.Lock()
	intervalHooks := append(([]func(time.Duration))(nil), s.intervalHooks...)
	trayHooks := append(([]func(bool))(nil), s.trayHooks...)
	s.hooksMu.Unlock()

	if prev.Interval() != next.Interval() {
		s.logger.WithField("interval", next.Interval()).Debug("Stats update interval changed")
		for _, fn := range intervalHooks {
			fn(next.Interval())
		}
	}
	if prev.ViewSystemTray != next.ViewSystemTray {
		s.logger.WithField("tray", next.ViewSystemTray).Debug("System tray setting changed")
		for _, fn := range trayHooks {
			fn(next.ViewSystemTray)
		}
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
