package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketflow/internal/ui"
)

var (
	runAsOf          string
	runSkipPreflight bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline",
	Long: `Load both raw tables, run the data quality checks, merge the customer
dimension and click event facts, register the feature catalog and compute
features for the as-of date. The first failing step ends the run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asOf, err := parseAsOf(runAsOf)
		if err != nil {
			return err
		}
		return runPipeline(cmd.Context(), asOf, runSkipPreflight)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runAsOf, "as-of", "", "Feature as-of date (YYYY-MM-DD, default today in UTC)")
	runCmd.Flags().BoolVar(&runSkipPreflight, "skip-preflight", false, "Do not read source files from the object store before loading")
}

func parseAsOf(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	asOf, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: expected YYYY-MM-DD", value)
	}
	return asOf, nil
}

func runPipeline(ctx context.Context, asOf time.Time, skipPreflight bool) error {
	a, err := setup(ctx, appOptions{skipPreflight: skipPreflight})
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.pipeline.Run(ctx, asOf)
	a.pushMetrics(ctx)
	ui.ShowRunReport(report)
	if err != nil {
		a.log.Error("pipeline run failed", zap.Error(err))
		return err
	}
	a.log.Info("pipeline run completed", zap.Int("failed_checks", len(report.FailedChecks())))
	return nil
}
