/*
Package cli provides command-line helpers for the vigil command.

Output Formatting:

Commands print owners, results and sweep reports as aligned text, JSON or
CSV:

	printer, err := cli.NewPrinter(os.Stdout, cli.FormatText)
	if err != nil {
		return err
	}
	return printer.Results(records)

Sweep Progress:

A manual sweep of every owner can report per-owner progress on a terminal:

	progress := cli.NewProgressReporter(os.Stderr, "Sweeping owners")
	sweeper := retention.NewSweeper(repo, cfg, retention.WithProgress(cli.SweepProgress(progress)))

Signal Handling:

Long-running commands stop on SIGINT or SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
