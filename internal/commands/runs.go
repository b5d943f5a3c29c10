package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stockflow-dev/stockflow/internal/archive"
)

func newRunsCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded in an archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd.Context(), cmd.OutOrStdout(), path)
		},
	}

	cmd.Flags().StringVar(&path, "archive", "out/stockflow.db", "SQLite archive file")

	return cmd
}

func listRuns(ctx context.Context, w io.Writer, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	arc, err := archive.Open(ctx, path)
	if err != nil {
		return err
	}
	defer arc.Close()

	runs, err := arc.Runs(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSCENARIO\tSTARTED\tPERIODS\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Started, r.Periods, r.Status)
	}
	return tw.Flush()
}
