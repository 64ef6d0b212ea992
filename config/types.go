package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DefaultStatsUpdateInterval is the tick interval, in seconds, used when the
// configuration does not set one.
const DefaultStatsUpdateInterval = 1

// Confirmation actions that may require user confirmation before running.
const (
	ConfirmPoweroff      = "poweroff"
	ConfirmForcePoweroff = "force_poweroff"
	ConfirmPause         = "pause"
)

// ConfirmConfig controls which destructive entity actions ask first.
type ConfirmConfig struct {
	Poweroff      bool `yaml:"poweroff,omitempty" toml:"poweroff,omitempty" jsonschema:"description=Ask before shutting an entity down"`
	ForcePoweroff bool `yaml:"force_poweroff,omitempty" toml:"force_poweroff,omitempty" jsonschema:"description=Ask before forcibly destroying an entity"`
	Pause         bool `yaml:"pause,omitempty" toml:"pause,omitempty" jsonschema:"description=Ask before suspending an entity"`
}

// Config is the on-disk virtsession configuration.
type Config struct {
	Connections         []string      `yaml:"connections,omitempty" toml:"connections,omitempty" jsonschema:"description=Connection URIs registered at startup"`
	Autoconnect         []string      `yaml:"autoconnect,omitempty" toml:"autoconnect,omitempty" jsonschema:"description=Connection URIs opened automatically at startup"`
	StatsUpdateInterval int           `yaml:"stats_update_interval,omitempty" toml:"stats_update_interval,omitempty" jsonschema:"minimum=1,description=Seconds between connection refresh cycles (default: 1)"`
	ViewSystemTray      bool          `yaml:"view_system_tray,omitempty" toml:"view_system_tray,omitempty" jsonschema:"description=Keep the session resident when no window is open"`
	Confirm             ConfirmConfig `yaml:"confirm,omitempty" toml:"confirm,omitempty" jsonschema:"description=Actions that require confirmation"`

	// Extensions captures all other top-level keys (logging, drivers, ...).
	Extensions map[string]interface{} `yaml:",inline" toml:"-" jsonschema:"-"`
}

// knownKeys are the top-level keys owned by Config itself. Everything else
// in a TOML document is copied into Extensions.
var knownKeys = map[string]bool{
	"connections":           true,
	"autoconnect":           true,
	"stats_update_interval": true,
	"view_system_tray":      true,
	"confirm":               true,
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.StatsUpdateInterval <= 0 {
		c.StatsUpdateInterval = DefaultStatsUpdateInterval
	}
}

// Interval returns the refresh interval as a duration.
func (c *Config) Interval() time.Duration {
	if c.StatsUpdateInterval <= 0 {
		return DefaultStatsUpdateInterval * time.Second
	}
	return time.Duration(c.StatsUpdateInterval) * time.Second
}

// ConfirmRequired reports whether the given confirmation action is enabled.
func (c *Config) ConfirmRequired(action string) bool {
	switch action {
	case ConfirmPoweroff:
		return c.Confirm.Poweroff
	case ConfirmForcePoweroff:
		return c.Confirm.ForcePoweroff
	case ConfirmPause:
		return c.Confirm.Pause
	}
	return false
}

// Clone returns a deep copy of the slices and the extension map so callers
// can hold a snapshot without racing later mutations.
func (c *Config) Clone() *Config {
	out := *c
	out.Connections = append([]string(nil), c.Connections...)
	out.Autoconnect = append([]string(nil), c.Autoconnect...)
	if c.Extensions != nil {
		out.Extensions = make(map[string]interface{}, len(c.Extensions))
		for k, v := range c.Extensions {
			out.Extensions[k] = v
		}
	}
	return &out
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded file into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var dockerCfg dockerdrv.Options
//	err := cfg.UnmarshalExtension("drivers", &dockerCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// A missing section leaves the target zero-valued.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
