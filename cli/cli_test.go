package cli

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/tui/theme"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		verbose bool
		want    []string
	}{
		{
			name: "daemon not running",
			err:  errors.DaemonNotRunning("/tmp/s.sock"),
			want: []string{"No session is running", "virtsession run"},
		},
		{
			name: "unknown connection wrapped",
			err:  fmt.Errorf("remove: %w", errors.UnknownConnection("qemu:///system")),
			want: []string{"unknown connection URI qemu:///system", "connections list"},
		},
		{
			name: "job failure shows trace",
			err:  errors.JobFailure("Saving entity", "disk full", "trace line"),
			want: []string{"Saving entity: disk full", "trace line"},
		},
		{
			name:    "verbose dumps details",
			err:     errors.Unsupported("restore", "remote connection"),
			verbose: true,
			want:    []string{"Error:", `"operation": "restore"`},
		},
		{
			name: "plain error",
			err:  fmt.Errorf("boom"),
			want: []string{"Error: boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &ErrorHandler{Verbose: tt.verbose, Out: &buf}
			assert.Equal(t, tt.err, h.Handle(tt.err))
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestErrorHandlerNil(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, (&ErrorHandler{Out: &buf}).Handle(nil))
	assert.Empty(t, buf.String())
}

func TestGetOptionsDefaults(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	cmd := NewStandardCommand("virtsession", "test")
	require.NoError(t, cmd.ParseFlags([]string{"--json", "-c", "/etc/vs.yml"}))

	opts := GetOptions(cmd)
	assert.True(t, opts.JSONOutput)
	assert.False(t, opts.Verbose)
	assert.Equal(t, "/etc/vs.yml", opts.ConfigFile)
	assert.NotEmpty(t, opts.Socket)
}

func TestInitConfig(t *testing.T) {
	t.Setenv("VIRTSESSION_CONFIG", "/from/env.yml")
	assert.Equal(t, "/flag.yml", InitConfig("/flag.yml"))
	assert.Equal(t, "/from/env.yml", InitConfig(""))
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir() + "/missing.yml")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.StatsUpdateInterval)
}

func TestRenderHelp(t *testing.T) {
	root := NewStandardCommand("virtsession", "Supervise hypervisor connections")
	child := &cobra.Command{Use: "status", Short: "Show session status", Run: func(*cobra.Command, []string) {}}
	child.Flags().Duration("timeout", 0, "Request timeout")
	root.AddCommand(child)

	var buf bytes.Buffer
	renderHelp(&buf, root, theme.New("terminal"), 60)
	out := buf.String()
	assert.Contains(t, out, "VIRTSESSION")
	assert.Contains(t, out, "status")
	assert.Contains(t, out, "--socket")

	buf.Reset()
	renderHelp(&buf, child, theme.New("terminal"), 60)
	assert.Contains(t, buf.String(), "--timeout")
	assert.False(t, strings.Contains(buf.String(), "COMMANDS"))
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "one two\nthree", wrapText("one two three", 8))
	assert.Equal(t, "short\n\nkept", wrapText("short\n\nkept", 8))
}
