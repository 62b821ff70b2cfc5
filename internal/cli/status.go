package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/me/pyra/internal/daemon"
	"github.com/me/pyra/internal/scheduler"
	"github.com/me/pyra/internal/slots"
	"github.com/me/pyra/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type daemonInfo struct {
	PID     int  `json:"pid,omitempty" yaml:"pid,omitempty"`
	Running bool `json:"running" yaml:"running"`
}

type statusOutput struct {
	Daemon       daemonInfo        `json:"daemon" yaml:"daemon"`
	StoreUpdated *time.Time        `json:"store_updated,omitempty" yaml:"store_updated,omitempty"`
	Progress     *scheduler.Status `json:"progress" yaml:"progress"`
	Hosts        []slots.HostInfo  `json:"hosts" yaml:"hosts"`
}

func newStatusCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show batch progress from the store file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bs := store.NewBatchStore(cfg.Path(cfg.StorePath), logger)
			if err := bs.Load(); err != nil {
				return err
			}
			pool, err := slots.Load(cfg.Path(cfg.NodeFile), logger)
			if err != nil {
				return err
			}
			// The pool from disk has no busy flags; mark what the store says runs.
			for _, b := range bs.Batches {
				for _, j := range b.Jobs {
					if j.IsRunning() {
						pool.Reserve(j.Slot)
					}
				}
			}

			out := statusOutput{
				Progress: scheduler.Summarize(bs.Batches, pool, time.Now()),
				Hosts:    pool.Hosts(),
			}
			out.Daemon.PID, out.Daemon.Running = daemon.Status(cfg.Path(cfg.PIDFile))
			switch {
			case out.Progress.Totals.Remaining() == 0:
				out.Progress.Phase = scheduler.PhaseFinished
			case out.Daemon.Running:
				out.Progress.Phase = scheduler.PhaseRunning
			default:
				out.Progress.Phase = scheduler.PhaseStopped
			}
			if fi, err := os.Stat(bs.Path); err == nil {
				mt := fi.ModTime()
				out.StoreUpdated = &mt
			}

			w := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			case "yaml":
				data, err := yaml.Marshal(out)
				if err != nil {
					return err
				}
				_, err = w.Write(data)
				return err
			case "text", "":
				printStatusText(w, out, bs.Report(pool.Addr))
				return nil
			default:
				return fmt.Errorf("unknown format %q (text, json, yaml)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "text", "Output format (text, json, yaml)")
	return cmd
}

func printStatusText(w io.Writer, out statusOutput, report string) {
	if out.Daemon.Running {
		fmt.Fprintf(w, "daemon: running (pid %d)\n", out.Daemon.PID)
	} else {
		fmt.Fprintln(w, "daemon: not running")
	}
	if out.StoreUpdated != nil {
		fmt.Fprintf(w, "store:  written %s\n", humanize.Time(*out.StoreUpdated))
	} else {
		fmt.Fprintln(w, "store:  none")
	}
	fmt.Fprint(w, report)

	if !isTerminal(w) {
		return
	}
	p := out.Progress
	fmt.Fprintf(w, "  slots: %s of %s free\n", humanize.Comma(int64(p.FreeSlots)), humanize.Comma(int64(p.Slots)))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
