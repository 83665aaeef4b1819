// Package cli wires cmd/partitioncache's cobra commands directly to the
// internal packages (queryproc, applycache, queue, worker).
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MPoppinga/partitioncache/internal/errutil"
)

type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

func Execute(ctx context.Context, info BuildInfo) error {
	rootCmd := newRootCommand()
	rootCmd.AddCommand(
		newFragmentsCommand(),
		newApplyCommand(),
		newPushCommand(),
		newWorkerCommand(),
		newVersionCommand(info),
	)

	return errutil.Wrap("execute command", rootCmd.ExecuteContext(ctx))
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "partitioncache",
		Short: "Fragment-cache accelerator for analytical SQL over partitioned data",
		Long: `partitioncache decomposes a SQL query into canonical sub-query fragments,
looks each fragment up in a keyed cache of partition-key sets, and rewrites
the query to scan only the partitions it can possibly touch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("partitioncache %s\n", info.Version)
			fmt.Printf("  commit:     %s\n", info.Commit)
			fmt.Printf("  built:      %s\n", info.BuildTime)
		},
	}
}
