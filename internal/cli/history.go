package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/me/pyra/internal/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent job events from the history ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.HistoryDB == "" {
				return errors.New("history_db is not configured")
			}
			h, err := store.NewSQLiteHistory(cfg.Path(cfg.HistoryDB), logger)
			if err != nil {
				return err
			}
			defer h.Close()
			if err := h.Migrate(cmd.Context()); err != nil {
				return err
			}

			events, err := h.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-16s  %-12s  %-20s  %-5s  %-8s  %-4s  %s\n", "WHEN", "EVENT", "BATCH", "JOB", "PID", "EXIT", "DETAIL")
			for _, ev := range events {
				exit := "-"
				if ev.ExitCode != nil {
					exit = fmt.Sprint(*ev.ExitCode)
				}
				job := "-"
				if ev.JobIndex >= 0 {
					job = fmt.Sprint(ev.JobIndex)
				}
				fmt.Fprintf(w, "%-16s  %-12s  %-20s  %-5s  %-8d  %-4s  %s\n",
					humanize.Time(ev.At), ev.Kind, ev.Batch, job, ev.PID, exit, ev.Detail)
			}
			if len(events) == 0 {
				fmt.Fprintln(w, "(no events)")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
