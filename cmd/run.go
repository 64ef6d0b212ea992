package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/grovetools/virtsession/cli"
	"github.com/grovetools/virtsession/config"
	"github.com/grovetools/virtsession/internal/daemon/pidfile"
	"github.com/grovetools/virtsession/internal/daemon/server"
	"github.com/grovetools/virtsession/internal/engine"
	"github.com/grovetools/virtsession/internal/hv"
	"github.com/grovetools/virtsession/internal/hv/dockerdrv"
	"github.com/grovetools/virtsession/internal/hv/testdrv"
	"github.com/grovetools/virtsession/internal/metrics"
	"github.com/grovetools/virtsession/internal/profiling"
	"github.com/grovetools/virtsession/logging"
	"github.com/grovetools/virtsession/pkg/client"
	"github.com/grovetools/virtsession/pkg/paths"
	"github.com/grovetools/virtsession/tui/manager"
	"github.com/grovetools/virtsession/version"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the session in the foreground",
		Long: "Starts the connection engine and the control socket. With --ui the " +
			"terminal manager opens as well, and the session ends when it closes " +
			"unless view_system_tray is set.",
		Example: `virtsession run
virtsession run --ui
VIRTSESSION_ISOLATE_FAILURES=true virtsession run`,
		RunE: runSession,
	}
	cmd.Flags().Bool("ui", false, "Open the terminal manager")
	cmd.Flags().Bool("isolate-failures", false, "Keep refresh cycles going past unexpected connection errors")
	cmd.Flags().Bool("no-autostart", false, "Do not open autoconnect connections at startup")
	profiling.New(logging.NewLogger("profiling")).Attach(cmd)
	return cmd
}

func runSession(cmd *cobra.Command, _ []string) error {
	v := settings(cmd)
	cfgPath := cli.InitConfig(v.GetString("config"))
	cfg, err := cli.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	logger := cli.GetLogger(cmd, "session")

	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create session directories: %w", err)
	}
	pidPath := paths.PidFilePath()
	socket := socketPath(v)

	if err := pidfile.Acquire(pidPath); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.Errorf("Failed to release pidfile: %v", err)
		}
	}()

	store, err := config.NewStore(cfgPath, logger.WithField("component", "config"))
	if err != nil {
		return err
	}
	var drivers dockerdrv.DriversConfig
	if err := cfg.UnmarshalExtension("drivers", &drivers); err != nil {
		logger.WithError(err).Warn("Ignoring invalid drivers section")
	}

	ui := v.GetBool("ui")
	if ui && !isatty.IsTerminal(os.Stdout.Fd()) {
		logger.Warn("Standard output is not a terminal, running without the manager")
		ui = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	var eng *engine.Engine
	var presenter engine.Presenter
	var tui *manager.Presenter
	if ui {
		tui = &manager.Presenter{
			HeadlessPresenter: engine.NewHeadlessPresenter(logger),
			NewModel: func() tea.Model {
				c := client.New(socket)
				events, err := c.Events(eng.Context())
				if err != nil {
					logger.WithError(err).Warn("No event stream, the manager will poll")
				}
				return manager.New(c, events, store.StatsUpdateInterval())
			},
			OnExit: func(err error) {
				if err != nil {
					logger.WithError(err).Error("Manager exited with error")
				}
				eng.Dispatcher().Post(func() { eng.CloseManager() })
			},
		}
		presenter = tui
	}

	eng = engine.New(engine.Options{
		Config:          store,
		Factory:         hv.NewFactory(dockerdrv.New(drivers.Docker), testdrv.New()),
		Presenter:       presenter,
		Metrics:         m,
		Logger:          logger.WithField("component", "engine"),
		Resident:        !ui,
		IsolateFailures: v.GetBool("isolate-failures"),
	})
	srv := server.New(eng, server.Options{
		Version:   version.GetInfo().Version,
		StartedAt: time.Now(),
		Metrics:   m,
	}, logger.WithField("component", "server"))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if err := eng.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		return srv.ListenAndServe(socket)
	})

	if store.Path() != "" {
		watcher, err := config.NewWatcher(store, 0, logger.WithField("component", "watcher"))
		if err != nil {
			logger.WithError(err).Warn("Not watching the configuration file")
		} else {
			g.Go(func() error { return watcher.Start(gctx) })
		}
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-eng.Done():
		}
		logger.Info("Stopping session")
		eng.Shutdown()
		eng.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if tui != nil {
			if err := tui.Wait(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Manager did not exit in time")
			}
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
		cancel()
		return nil
	})

	g.Go(func() error {
		if err := waitForSocket(gctx, socket); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		return eng.Dispatcher().Call(gctx, func() error {
			startup(eng, ui, !v.GetBool("no-autostart"), logger)
			return nil
		})
	})

	logger.WithField("pid", os.Getpid()).WithField("socket", socket).Info("Starting session")
	err = g.Wait()
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startup loads stored connections and opens the ones marked autoconnect.
// It runs on the controlling thread.
func startup(eng *engine.Engine, ui, autostart bool, logger *logrus.Entry) {
	if eng.LoadStoredURIs() == 0 {
		eng.AddDefaultConnection()
	}
	if autostart {
		eng.AutostartConnections()
	}
	if ui {
		if err := eng.ShowManager(); err != nil {
			logger.WithError(err).Error("Could not open the manager")
		}
	}
}

// waitForSocket blocks until the control socket answers, so surfaces that
// talk to it can start.
func waitForSocket(ctx context.Context, socket string) error {
	c := client.New(socket)
	defer c.Close()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if c.IsRunning() {
			return struct{}{}, nil
		}
		return struct{}{}, fmt.Errorf("control socket %s not ready", socket)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(50*time.Millisecond)),
		backoff.WithMaxElapsedTime(5*time.Second),
	)
	return err
}
