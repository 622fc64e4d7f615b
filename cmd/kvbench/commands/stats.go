package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/piwi3910/kvbench/internal/api"
	"github.com/piwi3910/kvbench/internal/report"
)

type statsFlags struct {
	addr    string
	db      int
	reset   bool
	asJSON  bool
	timeout time.Duration
}

// NewStatsCmd creates the stats command
func NewStatsCmd() *cobra.Command {
	f := &statsFlags{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Query a running benchmark",
		Long: `Fetch pool occupancy, completion counts and latency percentiles from the
stats endpoint of a kvbench run started with --listen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stats(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:9100", "Stats endpoint address")
	cmd.Flags().IntVar(&f.db, "db", -1, "Show a single database")
	cmd.Flags().BoolVar(&f.reset, "reset", false, "Reset the completion counter after reading")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print raw JSON")
	cmd.Flags().DurationVar(&f.timeout, "timeout", api.DefaultClientTimeout, "Request timeout")

	return cmd
}

func stats(cmd *cobra.Command, f *statsFlags) error {
	client := api.NewClient(f.addr, f.timeout)
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if f.db >= 0 {
		db, err := client.Database(ctx, f.db)
		if err != nil {
			return err
		}
		if f.asJSON {
			return printJSON(out, db)
		}
		if err := writeDatabases(out, []api.DatabaseStats{*db}); err != nil {
			return err
		}
	} else {
		s, err := client.Stats(ctx)
		if err != nil {
			return err
		}
		if f.asJSON {
			if err := printJSON(out, s); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "run %s on %s (%s api, %s mode), %d completions\n\n",
				s.RunID, s.Device, s.API, s.Mode, s.Completions)
			if err := writeDatabases(out, s.Databases); err != nil {
				return err
			}
			fmt.Fprintln(out)
			if err := report.Write(out, nil, s.Latency); err != nil {
				return err
			}
		}
	}

	if f.reset {
		return client.ResetCompletions(ctx)
	}
	return nil
}

func writeDatabases(w io.Writer, dbs []api.DatabaseStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DB\tMODE\tCOMPLETED\tPOOL\tOUTSTANDING\tCAPACITY")
	for _, db := range dbs {
		for _, p := range db.Pools {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%d\t%d\n", db.ID, db.Mode, db.Completed, p.Name, p.Outstanding, p.Capacity)
		}
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
