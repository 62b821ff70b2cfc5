// Package cli implements the pyra operator commands.
package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/me/pyra/internal/config"
	"github.com/me/pyra/internal/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	flagConfig    string
	flagDir       string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.DaemonConfig
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the pyra CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pyra",
		Short: "pyra - batch job scheduler for a small cluster",
		Long: "pyra runs batches of shell commands over the cores of one or more hosts.\n" +
			"Batches live in pybatch.gz, runtime limits in pyra.params, hosts in .config.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dir") || loaded.WorkDir == "" {
				loaded.WorkDir = flagDir
			}
			if cmd.Flags().Changed("log-level") {
				loaded.LogLevel = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				loaded.LogFormat = flagLogFormat
			}
			if flagDebug {
				loaded.LogLevel = "debug"
			}
			dir, err := filepath.Abs(loaded.WorkDir)
			if err != nil {
				return fmt.Errorf("resolve work dir: %w", err)
			}
			loaded.WorkDir = dir

			cfg = loaded
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Daemon settings file (YAML)")
	root.PersistentFlags().StringVarP(&flagDir, "dir", "C", ".", "Run directory holding the batch, params and node files")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newCleanCmd(),
		newKillCmd(),
		newParamsCmd(),
		newHistoryCmd(),
	)

	return root
}

// forwardedArgs returns the global flags a detached daemon must inherit.
func forwardedArgs() []string {
	args := []string{"--dir", cfg.WorkDir, "--log-level", cfg.LogLevel, "--log-format", cfg.LogFormat}
	if flagConfig != "" {
		if abs, err := filepath.Abs(flagConfig); err == nil {
			args = append(args, "--config", abs)
		}
	}
	return args
}
