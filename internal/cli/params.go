package cli

import (
	"fmt"

	"github.com/me/pyra/internal/params"
	"github.com/spf13/cobra"
)

func paramsStore() *params.Store {
	return params.NewStore(cfg.Path(cfg.ParamsPath), logger)
}

func newParamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Read or change runtime parameters (maxjobs, maxjobtime, notification_*)",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [key]",
			Short: "Print one parameter, or all of them",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				snap, err := paramsStore().Read()
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(args) == 1 {
					v, ok := snap.Get(args[0])
					if !ok {
						return fmt.Errorf("parameter %q is not set", args[0])
					}
					fmt.Fprintln(w, v)
					return nil
				}
				for _, k := range snap.Keys() {
					v, _ := snap.Get(k)
					fmt.Fprintf(w, "%s\t%s\n", k, v)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a parameter; the daemon picks it up on its next tick",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return paramsStore().Set(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "unset <key>",
			Short: "Remove a parameter",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return paramsStore().Unset(args[0])
			},
		},
	)
	return cmd
}
