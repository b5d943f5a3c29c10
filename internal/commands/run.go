package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/stockflow-dev/stockflow/internal/archive"
	"github.com/stockflow-dev/stockflow/internal/config"
	"github.com/stockflow-dev/stockflow/internal/gitops"
	"github.com/stockflow-dev/stockflow/internal/journal"
	"github.com/stockflow-dev/stockflow/internal/logging"
	"github.com/stockflow-dev/stockflow/internal/metrics"
	"github.com/stockflow-dev/stockflow/internal/sim"
)

// scenarioFiles are looked up in order when --config is not given.
var scenarioFiles = []string{"stockflow.yaml", "stockflow.yml", "stockflow.toml"}

type runOptions struct {
	config      string
	out         string
	archive     string
	noArchive   bool
	commit      bool
	metricsFile string
	periods     int
	policy      string
	logLevel    string
	logFormat   string
	logFile     string
}

func newRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario and write its journal, reports and archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.config, "config", "c", "", "scenario file (default stockflow.yaml or stockflow.toml)")
	f.StringVar(&opts.out, "out", "", "output directory (overrides output.dir)")
	f.StringVar(&opts.archive, "archive", "", "SQLite archive file (overrides output.archive)")
	f.BoolVar(&opts.noArchive, "no-archive", false, "do not record the run in the archive")
	f.BoolVar(&opts.commit, "commit", false, "commit the output directory to git after the run")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	f.IntVar(&opts.periods, "periods", 0, "number of periods (overrides simulation.periods)")
	f.StringVar(&opts.policy, "bankruptcy", "", "bankruptcy policy: halt, continue or restore")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (overrides logging.level)")
	f.StringVar(&opts.logFormat, "log-format", "", "log format, json or text (overrides logging.format)")
	f.StringVar(&opts.logFile, "log-file", "", "log file (overrides logging.file)")

	return cmd
}

func findScenario(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, name := range scenarioFiles {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", errors.New("no scenario found; pass --config or run stockflow init")
}

// resolve joins rel onto base unless rel is empty or absolute.
func resolve(base, rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(base, rel)
}

func runScenario(ctx context.Context, stdout io.Writer, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	path, err := findScenario(opts.config)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if opts.periods > 0 {
		cfg.Simulation.Periods = opts.periods
	}
	if opts.policy != "" {
		cfg.Simulation.Bankruptcy = opts.policy
	}

	outDir := resolve(filepath.Dir(path), cfg.Output.Dir)
	if opts.out != "" {
		outDir = opts.out
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	logOpts := logging.Options{
		Format:     cfg.Logging.Format,
		Level:      cfg.Logging.Level,
		File:       resolve(outDir, cfg.Logging.File),
		MaxSizeMB:  50,
		MaxBackups: 3,
	}
	if opts.logLevel != "" {
		logOpts.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		logOpts.Format = opts.logFormat
	}
	if opts.logFile != "" {
		logOpts.File = opts.logFile
	}
	logger, closer, err := logging.Setup("stockflow", logOpts)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	runnerOpts := []sim.Option{
		sim.WithLogger(logger),
		sim.WithMetrics(m),
		sim.WithJournal(journal.NewService(outDir)),
		sim.WithEventLog(outDir),
	}

	archivePath := resolve(outDir, cfg.Output.Archive)
	if opts.archive != "" {
		archivePath = opts.archive
	}
	if archivePath != "" && !opts.noArchive {
		arc, err := archive.Open(ctx, archivePath)
		if err != nil {
			return err
		}
		defer arc.Close()
		runnerOpts = append(runnerOpts, sim.WithArchive(arc))
	}

	runner, err := sim.NewRunner(cfg, runnerOpts...)
	if err != nil {
		return err
	}
	sum, runErr := runner.Run(ctx)
	if sum != nil {
		printSummary(stdout, sum, outDir)
	}

	metricsFile := resolve(outDir, cfg.Output.MetricsFile)
	if opts.metricsFile != "" {
		metricsFile = opts.metricsFile
	}
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			return errors.Join(runErr, fmt.Errorf("writing metrics: %w", err))
		}
	}

	status := runStatus(runErr)
	if (opts.commit || cfg.Output.Commit) && sum != nil && status != archive.StatusFailed {
		hash, err := snapshot(ctx, outDir, sum, status)
		if err != nil {
			return errors.Join(runErr, err)
		}
		fmt.Fprintf(stdout, "Committed %s\n", hash)
	}
	return runErr
}

// runStatus mirrors the status the runner archives for runErr.
func runStatus(runErr error) string {
	var be *sim.BankruptcyError
	switch {
	case runErr == nil:
		return archive.StatusCompleted
	case errors.As(runErr, &be):
		return archive.StatusHalted
	default:
		return archive.StatusFailed
	}
}

// outputIgnore keeps the archive and rotated logs out of snapshots.
const outputIgnore = "*.db\n*.db-*\n*.log\n"

func snapshot(ctx context.Context, outDir string, sum *sim.Summary, status string) (string, error) {
	ignore := filepath.Join(outDir, ".gitignore")
	if _, err := os.Stat(ignore); os.IsNotExist(err) {
		if err := os.WriteFile(ignore, []byte(outputIgnore), 0o644); err != nil {
			return "", fmt.Errorf("writing .gitignore: %w", err)
		}
	}
	msg := fmt.Sprintf("run %s: %d periods (%s)", sum.Name, sum.Periods, status)
	if sum.RunID != "" {
		msg += "\n\nrun_id: " + sum.RunID
	}
	return gitops.Snapshot(context.WithoutCancel(ctx), outDir, msg, gitops.DefaultAuthor)
}

func printSummary(w io.Writer, sum *sim.Summary, outDir string) {
	fmt.Fprintf(w, "Scenario %s: %d periods, %d postings, %d bankruptcies\n",
		sum.Name, sum.Periods, sum.Postings, len(sum.Bankruptcies))
	if sum.RunID != "" {
		fmt.Fprintf(w, "Run %s\n", sum.RunID)
	}
	for _, b := range sum.Bankruptcies {
		fmt.Fprintf(w, "  period %d: %s (%s)\n", b.Period, b.Agent, b.Reason)
	}

	classes := make([]string, 0, len(sum.NetWorth))
	for c := range sum.NetWorth {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for _, c := range classes {
		fmt.Fprintf(w, "  net worth %s: %s\n", c, sum.NetWorth[c].StringFixed(2))
	}
	fmt.Fprintf(w, "Output written to %s\n", outDir)
}
