package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dbPath          string
	telemetryConfig string
	jsonOutput      bool
	scriptTimeout   time.Duration
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reconf",
		Short: "reconf - apply and certify cluster reconfiguration plans",
		Long: `reconf applies reconfiguration plans on a model of a virtualized cluster
and checks placement constraints along the way.

An instance file (YAML, JSON or CUE) describes the nodes, the VMs, the
shareable resources, the constraints and the plan. The plan is either listed
in the file or produced by a Starlark script. OPA policies can be checked
next to the constraints.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "reconf.db", "run history database, empty to disable")
	rootCmd.PersistentFlags().StringVar(&telemetryConfig, "telemetry", "", "telemetry configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&scriptTimeout, "script-timeout", 10*time.Second, "plan script timeout")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
