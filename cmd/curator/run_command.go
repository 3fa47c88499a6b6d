package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/config"
	"curator/internal/curation"
	"curator/internal/logging"
	"curator/internal/services"
)

type runOverrides struct {
	input     string
	outputDir string
	workers   int
	resume    bool
	profile   string
	threshold float64
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var overrides runOverrides

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Curate the input file into accepted and rejected outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg, err := applyRunOverrides(cmd, *loaded, overrides)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Paths.Input) == "" {
				return fmt.Errorf("no input file: set paths.input or pass --input")
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := curation.Run(runCtx, cfg, curation.Options{Logger: logger})
			if err != nil {
				return fmt.Errorf("%s: %w", services.Label(err), err)
			}

			out := cmd.OutOrStdout()
			printRunResult(out, cfg, result)
			if result.Report.Interrupted {
				fmt.Fprintln(out, "Run interrupted; progress is checkpointed. Re-run with --resume to continue.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&overrides.input, "input", "i", "", "Input JSON or JSONL file")
	cmd.Flags().StringVarP(&overrides.outputDir, "output-dir", "o", "", "Directory for outputs and the checkpoint")
	cmd.Flags().IntVarP(&overrides.workers, "workers", "w", 0, "Number of concurrent workers; above 1, which of two near-duplicates is kept follows completion order, not input order")
	cmd.Flags().BoolVar(&overrides.resume, "resume", false, "Continue from the existing checkpoint")
	cmd.Flags().StringVar(&overrides.profile, "profile", "", "Quality profile name")
	cmd.Flags().Float64Var(&overrides.threshold, "threshold", 0, "Quality threshold in (0, 10] (overrides the profile)")
	return cmd
}

// applyRunOverrides returns a validated copy of cfg with the flags that were
// set on cmd applied.
func applyRunOverrides(cmd *cobra.Command, cfg config.Config, o runOverrides) (*config.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		expanded, err := config.ExpandPath(strings.TrimSpace(o.input))
		if err != nil {
			return nil, fmt.Errorf("resolve --input: %w", err)
		}
		cfg.Paths.Input = expanded
	}
	if flags.Changed("output-dir") {
		expanded, err := config.ExpandPath(strings.TrimSpace(o.outputDir))
		if err != nil {
			return nil, fmt.Errorf("resolve --output-dir: %w", err)
		}
		cfg.Paths.OutputDir = expanded
	}
	if flags.Changed("workers") {
		cfg.Pipeline.Workers = o.workers
	}
	if flags.Changed("resume") {
		cfg.Pipeline.Resume = o.resume
	}
	if flags.Changed("profile") {
		cfg.Quality.Profile = strings.TrimSpace(o.profile)
	}
	if flags.Changed("threshold") {
		// Zero in the config means "use the profile threshold", so an explicit
		// zero on the command line would be silently dropped.
		if o.threshold <= 0 || o.threshold > 10 {
			return nil, fmt.Errorf("--threshold must be in (0, 10], got %g", o.threshold)
		}
		cfg.Quality.Threshold = o.threshold
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run settings: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func printRunResult(out io.Writer, cfg *config.Config, result curation.Result) {
	report := result.Report
	fmt.Fprintf(out, "Run %s\n", result.RunID)
	rows := [][]string{
		{"Accepted", strconv.Itoa(report.Accepted)},
		{"Rejected", strconv.Itoa(report.Rejected)},
		{"Skipped (checkpointed)", strconv.Itoa(report.Skipped)},
		{"Abandoned", strconv.Itoa(report.Abandoned)},
		{"Duration", report.Duration.Round(time.Millisecond).String()},
		{"Interrupted", yesNo(report.Interrupted)},
	}
	if result.Reconciled > 0 || result.Truncated > 0 {
		rows = append(rows,
			[]string{"Reconciled from output", strconv.Itoa(result.Reconciled)},
			[]string{"Truncated bytes", strconv.FormatInt(result.Truncated, 10)},
		)
	}
	fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(report.Reasons) > 0 {
		fmt.Fprintln(out, renderReasons(report.Reasons))
	}
	fmt.Fprintf(out, "Accepted output: %s\n", cfg.AcceptedPath())
	if cfg.Sink.WriteRejects {
		fmt.Fprintf(out, "Rejected output: %s\n", cfg.RejectedPath())
	}
}

func renderReasons(reasons map[string]int) string {
	keys := make([]string, 0, len(reasons))
	for reason := range reasons {
		keys = append(keys, reason)
	}
	sort.Slice(keys, func(i, j int) bool {
		if reasons[keys[i]] != reasons[keys[j]] {
			return reasons[keys[i]] > reasons[keys[j]]
		}
		return keys[i] < keys[j]
	})
	rows := make([][]string, 0, len(keys))
	for _, reason := range keys {
		rows = append(rows, []string{reason, strconv.Itoa(reasons[reason])})
	}
	return renderTable([]string{"Rejection reason", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}
