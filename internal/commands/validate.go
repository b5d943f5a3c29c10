package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stockflow-dev/stockflow/internal/journal"
)

func newValidateCommand() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the journal of a finished run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), outDir)
		},
	}

	cmd.Flags().StringVar(&outDir, "out", "out", "output directory of the run")

	return cmd
}

func runValidate(w io.Writer, outDir string) error {
	svc := journal.NewService(outDir)
	periods, err := svc.Periods()
	if err != nil {
		return err
	}
	if len(periods) == 0 {
		return fmt.Errorf("no journal periods in %s", outDir)
	}

	var failures int
	for _, p := range periods {
		postings, err := svc.ReadPeriod(p)
		if err != nil {
			return err
		}
		for _, v := range journal.ValidatePostings(postings, p) {
			fmt.Fprintf(w, "%s: %s\n", svc.PeriodPath(p), v.Error())
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d journal violations", failures)
	}
	fmt.Fprintf(w, "Journal OK: %d periods\n", len(periods))
	return nil
}
