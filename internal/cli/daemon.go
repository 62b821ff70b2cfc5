package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/pyra/internal/daemon"
	"github.com/me/pyra/internal/executor"
	"github.com/me/pyra/internal/logging"
	"github.com/me/pyra/internal/notify"
	"github.com/me/pyra/internal/params"
	"github.com/me/pyra/internal/scheduler"
	"github.com/me/pyra/internal/server"
	"github.com/me/pyra/internal/store"
	"github.com/spf13/cobra"
)

const stopTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	var detached bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return runDaemon(ctx, detached)
		},
	}
	cmd.Flags().BoolVar(&detached, "foreground", false, "Set by start for the detached child")
	cmd.Flags().MarkHidden("foreground")
	return cmd
}

// runDaemon wires the scheduler and blocks until the run ends.
func runDaemon(ctx context.Context, detached bool) error {
	pidPath := cfg.Path(cfg.PIDFile)
	if err := daemon.WritePID(pidPath); err != nil {
		return err
	}
	defer daemon.RemovePID(pidPath)

	// Job output goes to the log file; the daemon's own records follow it
	// there once detached.
	logf, err := logging.OpenLogFile(cfg.Path(cfg.LogFile))
	if err != nil {
		return err
	}
	defer logf.Close()
	if detached {
		logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, logf)
	}
	logger.Info("pyra starting", "pid", os.Getpid(), "dir", cfg.WorkDir, "version", Version)

	history, err := openHistory(ctx)
	if err != nil {
		return err
	}
	defer history.Close()

	ps := params.NewStore(cfg.Path(cfg.ParamsPath), logger)
	if snap, err := ps.Read(); err == nil && snap.Has(params.KeyKillJobs) {
		logger.Warn("clearing killjobs left by a previous run")
		if err := ps.Unset(params.KeyKillJobs); err != nil {
			return fmt.Errorf("clear killjobs: %w", err)
		}
	}

	sup := executor.NewLocalSupervisor(logger,
		executor.WithShell(cfg.Shell),
		executor.WithRemoteShell(cfg.RemoteShell),
		executor.WithOutput(logf, logf),
		executor.WithWorkDir(cfg.WorkDir),
	)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickInterval = cfg.TickInterval
	schedCfg.PersistEvery = cfg.PersistEvery
	schedCfg.NodeFile = cfg.Path(cfg.NodeFile)
	schedCfg.WorkDir = cfg.WorkDir

	loop := scheduler.NewLoop(schedCfg, scheduler.Deps{
		Params:     ps,
		Batches:    store.NewBatchStore(cfg.Path(cfg.StorePath), logger),
		Supervisor: sup,
		Notifiers:  notify.DefaultRegistry(os.Getenv, logger),
		History:    history,
	}, logger)

	if cfg.StatusAddr != "" {
		srvCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		srv := server.New(loop, logger, server.WithVersion(Version))
		go func() {
			if err := srv.ListenAndServe(srvCtx, cfg.StatusAddr); err != nil {
				logger.Error("status server", "error", err)
			}
		}()
	}

	err = loop.Start(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("pyra stopped by signal; running jobs left in place")
		return nil
	}
	return err
}

func openHistory(ctx context.Context) (store.History, error) {
	if cfg.HistoryDB == "" {
		return store.NopHistory{}, nil
	}
	h, err := store.NewSQLiteHistory(cfg.Path(cfg.HistoryDB), logger)
	if err != nil {
		return nil, err
	}
	if err := h.Migrate(ctx); err != nil {
		h.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return h, nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startDaemon(cmd)
		},
	}
}

func startDaemon(cmd *cobra.Command) error {
	pidPath := cfg.Path(cfg.PIDFile)
	if pid, alive := daemon.Status(pidPath); alive {
		return fmt.Errorf("%w (pid %d)", daemon.ErrAlreadyRunning, pid)
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := append([]string{"run"}, forwardedArgs()...)
	pid, err := daemon.Detach(exe, args, cfg.WorkDir, cfg.Path(cfg.LogFile))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pyra started (pid %d)\n", pid)
	return nil
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background scheduler; running jobs keep running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := daemon.Stop(cfg.Path(cfg.PIDFile), stopTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pyra stopped (pid %d)\n", pid)
			return nil
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop then start the background scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := daemon.Stop(cfg.Path(cfg.PIDFile), stopTimeout)
			switch {
			case errors.Is(err, daemon.ErrNotRunning):
			case err != nil:
				return err
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "pyra stopped (pid %d)\n", pid)
			}
			return startDaemon(cmd)
		},
	}
}
