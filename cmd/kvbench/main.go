package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piwi3910/kvbench/cmd/kvbench/commands"
	"github.com/piwi3910/kvbench/internal/metrics"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

func main() {
	metrics.Version = Version

	rootCmd := &cobra.Command{
		Use:   "kvbench",
		Short: "kvbench - asynchronous key-value device benchmark",
		Long: `kvbench loads, reads, iterates and deletes keys on a key-value device
and reports throughput and completion latency percentiles.

Paths under /dev use the kernel driver; any other path (a PCI address)
uses the user-space driver. Settings come from kvbench.yaml, KVBENCH_*
environment variables and flags, in increasing order of precedence.`,
		Version:       fmt.Sprintf("%s (commit: %s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewStatsCmd())
	rootCmd.AddCommand(commands.NewDevicesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
