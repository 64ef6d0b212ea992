package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovetools/virtsession/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytes(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		data     string
		wantErr  bool
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:   "yaml with extensions",
			format: FormatYAML,
			data: `
connections:
  - test:///default
  - docker:///var/run/docker.sock
autoconnect:
  - test:///default
stats_update_interval: 3
view_system_tray: true
logging:
  level: debug
`,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"test:///default", "docker:///var/run/docker.sock"}, cfg.Connections)
				assert.Equal(t, 3*time.Second, cfg.Interval())
				assert.True(t, cfg.ViewSystemTray)
				assert.Contains(t, cfg.Extensions, "logging")
			},
		},
		{
			name:   "toml with extensions",
			format: FormatTOML,
			data: `
connections = ["test:///default"]
stats_update_interval = 2

[confirm]
force_poweroff = true

[drivers.docker]
api_version = "1.47"
`,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"test:///default"}, cfg.Connections)
				assert.Equal(t, 2*time.Second, cfg.Interval())
				assert.True(t, cfg.ConfirmRequired(ConfirmForcePoweroff))
				assert.False(t, cfg.ConfirmRequired(ConfirmPause))
				assert.Contains(t, cfg.Extensions, "drivers")
			},
		},
		{
			name:   "empty file uses defaults",
			format: FormatYAML,
			data:   "",
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultStatsUpdateInterval, cfg.StatsUpdateInterval)
				assert.Empty(t, cfg.Connections)
			},
		},
		{
			name:    "interval below minimum",
			format:  FormatYAML,
			data:    "stats_update_interval: 0\n",
			wantErr: true,
		},
		{
			name:    "wrong type",
			format:  FormatYAML,
			data:    "connections: nope\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromBytes([]byte(tt.data), tt.format)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid))
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VS_TEST_HOST", "host-a")
	cfg, err := LoadFromBytes([]byte("connections:\n  - qemu+ssh://${VS_TEST_HOST}/system\n  - ${VS_TEST_MISSING:-test:///default}\n"), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, []string{"qemu+ssh://host-a/system", "test:///default"}, cfg.Connections)
}

func TestUnmarshalExtension(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("drivers:\n  docker:\n    api_version: \"1.47\"\n    timeout: 5s\n"), FormatYAML)
	require.NoError(t, err)

	var drivers struct {
		Docker struct {
			APIVersion string        `yaml:"api_version"`
			Timeout    time.Duration `yaml:"timeout"`
		} `yaml:"docker"`
	}
	require.NoError(t, cfg.UnmarshalExtension("drivers", &drivers))
	assert.Equal(t, "1.47", drivers.Docker.APIVersion)
	assert.Equal(t, 5*time.Second, drivers.Docker.Timeout)

	var missing struct{ Level string }
	require.NoError(t, cfg.UnmarshalExtension("logging", &missing))
	assert.Empty(t, missing.Level)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := &Config{
		Connections:    []string{"test:///default"},
		ViewSystemTray: true,
		Extensions:     map[string]interface{}{"logging": map[string]interface{}{"level": "warn"}},
	}
	cfg.SetDefaults()

	for _, format := range []Format{FormatYAML, FormatTOML} {
		data, err := Marshal(cfg, format)
		require.NoError(t, err)

		back, err := LoadFromBytes(data, format)
		require.NoError(t, err, string(data))
		assert.Equal(t, cfg.Connections, back.Connections)
		assert.True(t, back.ViewSystemTray)
		assert.Contains(t, back.Extensions, "logging")
	}
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), "stats_update_interval")
	assert.Contains(t, string(data), "view_system_tray")
	assert.NotContains(t, string(data), "Extensions")
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatTOML, FormatFor("/etc/virtsession.toml"))
	assert.Equal(t, FormatYAML, FormatFor("/etc/virtsession.yml"))
	assert.Equal(t, FormatYAML, FormatFor("virtsession"))
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "virtsession.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}
