package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-verifier/internal/application"
	"github.com/ahrav/go-verifier/internal/config"
)

// benchmarkRun is the outcome of one benchmark phase.
type benchmarkRun struct {
	SessionID       string
	Location        string
	TotalTime       float64
	ClaimsProcessed int
	AvgTimePerClaim float64
}

// comparison relates a cached run to an uncached one.
type comparison struct {
	TimeSaved  float64
	Reduction  float64
	Multiplier float64
}

// compare returns the savings of cached over uncached. Zero durations
// yield zero ratios.
func compare(cached, uncached benchmarkRun) comparison {
	c := comparison{TimeSaved: uncached.TotalTime - cached.TotalTime}
	if uncached.TotalTime > 0 {
		c.Reduction = c.TimeSaved / uncached.TotalTime * 100
	}
	if cached.TotalTime > 0 {
		c.Multiplier = uncached.TotalTime / cached.TotalTime
	}
	return c
}

func (a *app) newBenchmarkCommand() *cobra.Command {
	var pause time.Duration
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare a run with caching against one without",
		Long: `benchmark verifies the target document twice, first with prompt caching
enabled and then with it disabled, and prints the difference. The reports
are kept as benchmark-cached-<ts>.json and benchmark-uncached-<ts>.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			return a.benchmark(cmd.Context(), cfg, time.Now().Unix(), pause)
		},
	}

	d := config.Default()
	fs := cmd.Flags()
	fs.String("source-dir", d.SourceDir, "directory of source documents")
	fs.String("target-dir", d.TargetDir, "directory holding the target document")
	fs.String("results-dir", d.ResultsDir, "results store")
	fs.DurationVar(&pause, "pause", 10*time.Second, "wait between the two runs")
	bindFlag(fs, "source-dir", "source_dir")
	bindFlag(fs, "target-dir", "target_dir")
	bindFlag(fs, "results-dir", "results_dir")
	return cmd
}

func (a *app) benchmark(ctx context.Context, cfg *config.Config, ts int64, pause time.Duration) error {
	fmt.Fprintln(a.out, rule)
	fmt.Fprintln(a.out, "  Verifier Performance Benchmark")
	fmt.Fprintln(a.out, rule)

	fmt.Fprintln(a.out, "\nPhase 1: caching ENABLED")
	cached, err := a.benchmarkPhase(ctx, *cfg, true, ts)
	if err != nil {
		return err
	}

	if pause > 0 {
		fmt.Fprintf(a.out, "\nWaiting %s before the uncached run...\n", pause)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}

	fmt.Fprintln(a.out, "\nPhase 2: caching DISABLED")
	uncached, err := a.benchmarkPhase(ctx, *cfg, false, ts)
	if err != nil {
		return err
	}

	printComparison(a.out, cached, uncached)
	return nil
}

// benchmarkPhase runs one verification on a copy of cfg.
func (a *app) benchmarkPhase(ctx context.Context, cfg config.Config, caching bool, ts int64) (benchmarkRun, error) {
	label := "uncached"
	if caching {
		label = "cached"
	}
	cfg.Caching.Enabled = caching
	cfg.SessionID = "benchmark-" + label + "-" + strconv.FormatInt(ts, 10)

	outcome, err := a.verify(ctx, &cfg)
	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			err = exit.err
		}
		return benchmarkRun{}, fmt.Errorf("%s run failed: %w", label, err)
	}
	return runFromOutcome(outcome), nil
}

func runFromOutcome(o *application.Outcome) benchmarkRun {
	run := benchmarkRun{SessionID: o.SessionID, Location: o.Location}
	if perf := o.Result.Performance; perf != nil {
		run.TotalTime = perf.TotalTimeSeconds
		run.ClaimsProcessed = perf.ClaimsProcessed
		run.AvgTimePerClaim = perf.AvgTimePerClaim
	}
	return run
}

func printComparison(w io.Writer, cached, uncached benchmarkRun) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "  PERFORMANCE COMPARISON RESULTS")
	fmt.Fprintln(w, rule)

	for _, r := range []struct {
		title string
		run   benchmarkRun
	}{{"WITH CACHING", cached}, {"WITHOUT CACHING", uncached}} {
		fmt.Fprintf(w, "\n%s:\n", r.title)
		fmt.Fprintf(w, "  Total Time:       %.2f seconds\n", r.run.TotalTime)
		fmt.Fprintf(w, "  Claims Processed: %d\n", r.run.ClaimsProcessed)
		fmt.Fprintf(w, "  Avg Time/Claim:   %.2f seconds\n", r.run.AvgTimePerClaim)
		fmt.Fprintf(w, "  Session ID:       %s\n", r.run.SessionID)
	}

	c := compare(cached, uncached)
	fmt.Fprintln(w, "\nPERFORMANCE IMPROVEMENTS:")
	fmt.Fprintf(w, "  Time Saved:       %.2f seconds\n", c.TimeSaved)
	fmt.Fprintf(w, "  Time Reduction:   %.1f%%\n", c.Reduction)
	fmt.Fprintf(w, "  Speed Multiplier: %.2fx\n", c.Multiplier)
	if c.Reduction > 0 {
		fmt.Fprintln(w, "  Caching reduced the run time.")
	} else {
		fmt.Fprintln(w, "  Caching did not reduce the run time.")
	}

	fmt.Fprintln(w, "\nReports:")
	fmt.Fprintf(w, "  Cached:   %s\n", cached.Location)
	fmt.Fprintf(w, "  Uncached: %s\n", uncached.Location)
}
