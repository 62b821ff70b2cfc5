package cli

import (
	"fmt"

	"github.com/me/pyra/internal/daemon"
	"github.com/me/pyra/internal/params"
	"github.com/me/pyra/internal/store"
	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the batch store, its backup, and the params file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid, alive := daemon.Status(cfg.Path(cfg.PIDFile)); alive {
				return fmt.Errorf("%w (pid %d); stop it first", daemon.ErrAlreadyRunning, pid)
			}
			if err := store.NewBatchStore(cfg.Path(cfg.StorePath), logger).Clean(); err != nil {
				return err
			}
			return paramsStore().Clean()
		},
	}
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill",
		Short: "Ask the daemon to kill every running job and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := paramsStore().Set(params.KeyKillJobs, "1"); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if _, alive := daemon.Status(cfg.Path(cfg.PIDFile)); !alive {
				fmt.Fprintln(w, "kill requested, but no daemon is running")
				return nil
			}
			fmt.Fprintf(w, "kill requested; the daemon acts on it within %s\n", cfg.TickInterval)
			return nil
		},
	}
}
