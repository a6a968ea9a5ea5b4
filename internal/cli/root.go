// Package cli implements the betpilot command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	EnvFile    string
	LogLevel   string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "betpilot",
		Short:   "Self-healing site automation and record store sync",
		Long:    "betpilot drives the betting site through a self-healing action executor\nand keeps the local record snapshot converged with the remote store.",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.ConfigFile, "config", "", "JSON or YAML config file")
	f.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	f.StringVar(&opts.LogLevel, "log-level", "", "override the log level (debug|info|warn|error)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewLocatorsCommand(opts))
	cmd.AddCommand(NewActCommand(opts))
	cmd.AddCommand(NewWithdrawCommand(opts))

	return cmd
}
