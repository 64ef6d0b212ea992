package cmd

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/grovetools/virtsession/internal/daemon/pidfile"
	"github.com/grovetools/virtsession/pkg/paths"
	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running session",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := pidfile.Signal(paths.PidFilePath(), syscall.SIGTERM)
			if errors.Is(err, os.ErrProcessDone) {
				fmt.Fprintln(cmd.OutOrStdout(), "Session is not running")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v := newClient(cmd)
			defer c.Close()

			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running (PID: %d, version %s)\n", status.PID, status.Version)
			fmt.Fprintf(out, "Socket:        %s\n", c.SocketPath())
			fmt.Fprintf(out, "Started:       %s\n", status.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Connections:   %d\n", status.Connections)
			fmt.Fprintf(out, "Open windows:  %d\n", status.OpenWindows)
			fmt.Fprintf(out, "Tray:          %t\n", status.Tray)
			fmt.Fprintf(out, "Tick interval: %s (threaded: %t, running: %t)\n",
				status.TickInterval, status.Threaded, status.TickRunning)
			return nil
		},
	}
}
