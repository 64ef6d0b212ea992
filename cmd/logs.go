package cmd

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"time"

	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/logging"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the session log",
		Example: `virtsession logs -n 100
virtsession logs -f`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := settings(cmd)
			path := v.GetString("file")
			if path == "" {
				path = logging.LogFilePath(time.Now())
			}
			return showLog(cmd, path, v.GetInt("lines"), v.GetBool("follow"))
		},
	}
	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().IntP("lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().String("file", "", "Log file to read (default: today's session log)")
	return cmd
}

func showLog(cmd *cobra.Command, path string, lines int, follow bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(errors.ErrCodeInvalidInput, "no log file at "+path).WithDetail("path", path)
		}
		return err
	}

	recent, err := lastLines(path, lines)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, line := range recent {
		fmt.Fprintln(out, line)
	}
	if !follow {
		return nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: info.Size(), Whence: io.SeekStart},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}

// lastLines returns up to n trailing lines of path.
func lastLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	t, err := tail.TailFile(path, tail.Config{
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return nil, err
	}
	defer t.Cleanup()

	ring := make([]string, 0, n)
	for line := range t.Lines {
		if line.Err != nil {
			return nil, line.Err
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line.Text)
	}
	return ring, nil
}
