// Package commands holds the rove CLI's cobra command tree, one file per
// verb, following the teacher's cmd/devclaw/commands layout.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the `rove` root command.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rove",
		Short:   "Rove — a local agent daemon",
		Version: version,
		Long: `Rove runs a local agent daemon that accepts tasks, routes them across
LLM providers, dispatches tools through a verified Extension Host, and
enforces a tiered risk/rate-limit policy on every side-effecting
operation.`,
	}

	cmd.PersistentFlags().String("config", "", "path to rove.yaml (default: auto-discover)")
	cmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newVerifyManifestCmd(),
		newStatusCmd(),
		newResetBreakerCmd(),
	)

	return cmd
}
