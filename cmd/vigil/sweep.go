package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/vigil/pkg/cli"
	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/retention"
)

var sweepFlags struct {
	owner    string
	window   int
	progress bool
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evict results outside the retention window",
	Long: `Sweep one owner, or every owner with results, keeping the most recent
results and deleting the rest.

The window defaults to retention.window_size. A sweep of every owner keeps
going when one owner fails and exits non-zero afterwards.

Examples:
  # Sweep every owner with the configured window
  vigil sweep

  # Keep the 10 most recent results of alice
  vigil sweep --owner alice --window 10`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVar(&sweepFlags.owner, "owner", "", "sweep only this owner")
	sweepCmd.Flags().IntVar(&sweepFlags.window, "window", 0, "results to keep per owner (default: retention.window_size)")
	sweepCmd.Flags().BoolVar(&sweepFlags.progress, "progress", false, "show per-owner progress on stderr")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	logger, err := commandLogger(cfg)
	if err != nil {
		return err
	}

	window := cfg.Retention.WindowSize
	if cmd.Flags().Changed("window") {
		window = sweepFlags.window
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}
	defer repo.Close()

	opts := []retention.Option{retention.WithLogger(logger.Logger)}
	if sweepFlags.progress && sweepFlags.owner == "" {
		opts = append(opts, retention.WithProgress(
			cli.SweepProgress(cli.NewProgressReporter(cmd.ErrOrStderr(), "Sweeping owners"))))
	}
	sweeper := retention.NewSweeper(repo, retentionConfig(cfg), opts...)

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	var reports []detection.EvictionReport
	if sweepFlags.owner != "" {
		report, err := sweeper.SweepOwner(ctx, sweepFlags.owner, window)
		if err != nil {
			return cli.NewCommandError("sweep", err)
		}
		reports = []detection.EvictionReport{*report}
	} else {
		reports, err = sweeper.SweepAll(ctx, window)
		if err != nil {
			return cli.NewCommandError("sweep", err)
		}
	}

	if err := printer.Reports(window, reports); err != nil {
		return err
	}
	if err := detection.CheckSweep(reports); err != nil {
		return cli.NewCommandError("sweep", err)
	}
	return nil
}
