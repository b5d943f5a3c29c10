package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stockflow-dev/stockflow/internal/eventlog"
)

func newEventsCommand() *cobra.Command {
	var outDir string
	var q eventlog.Query
	var allRuns bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event log of an output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listEvents(cmd.OutOrStdout(), outDir, q, allRuns)
		},
	}

	f := cmd.Flags()
	f.StringVar(&outDir, "out", "out", "output directory of the run")
	f.StringVar(&q.RunID, "run", "", "run id (default the latest run)")
	f.BoolVar(&allRuns, "all", false, "show every run in the log")
	f.StringVar(&q.Agent, "agent", "", "only events of this agent")
	f.StringVar(&q.Event, "event", "", "only events of this kind")
	f.IntVar(&q.Period, "period", 0, "only events of this period")

	return cmd
}

func listEvents(w io.Writer, outDir string, q eventlog.Query, allRuns bool) error {
	entries, err := eventlog.Read(outDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no events in %s", outDir)
	}
	if q.RunID == "" && !allRuns {
		q.RunID = eventlog.LastRun(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tPERIOD\tAGENT\tEVENT\tDETAILS")
	for _, e := range eventlog.Select(entries, q) {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", e.Timestamp.Format("2006-01-02"), e.Period, e.Agent, e.Event, e.Details)
	}
	return tw.Flush()
}
