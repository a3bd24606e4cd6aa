package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/vigil/pkg/cli"
	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/export"
)

var (
	recentFlags struct {
		limit int
	}

	queryFlags struct {
		owner  string
		limit  int
		offset int
		since  string
		until  string
	}

	exportFlags struct {
		owner  string
		format string
		out    string
		pretty bool
	}
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Query and export detection results",
}

var resultsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent results across all owners",
	RunE:  runResultsRecent,
}

var resultsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query results by owner and time range",
	Long: `Query results newest first, optionally filtered by owner and by an
inclusive RFC 3339 time range.

Examples:
  vigil results query --owner alice --limit 10
  vigil results query --since 2025-06-01T00:00:00Z --until 2025-06-02T00:00:00Z -o csv`,
	RunE: runResultsQuery,
}

var resultsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all results of one owner",
	Long: `Stream every result of an owner, newest first, as JSON or CSV.

Examples:
  vigil results export --owner alice
  vigil results export --owner alice --format csv --out alice.csv`,
	RunE: runResultsExport,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsRecentCmd, resultsQueryCmd, resultsExportCmd)

	resultsRecentCmd.Flags().IntVar(&recentFlags.limit, "limit", detection.DefaultWindowSize, "number of results")

	resultsQueryCmd.Flags().StringVar(&queryFlags.owner, "owner", "", "owner key")
	resultsQueryCmd.Flags().IntVar(&queryFlags.limit, "limit", 0, "maximum number of results (0 for all)")
	resultsQueryCmd.Flags().IntVar(&queryFlags.offset, "offset", 0, "results to skip")
	resultsQueryCmd.Flags().StringVar(&queryFlags.since, "since", "", "earliest timestamp (RFC 3339)")
	resultsQueryCmd.Flags().StringVar(&queryFlags.until, "until", "", "latest timestamp (RFC 3339)")

	resultsExportCmd.Flags().StringVar(&exportFlags.owner, "owner", "", "owner key")
	resultsExportCmd.Flags().StringVar(&exportFlags.format, "format", export.FormatJSON, "export format (json, csv)")
	resultsExportCmd.Flags().StringVar(&exportFlags.out, "out", "", "output file (default: stdout)")
	resultsExportCmd.Flags().BoolVar(&exportFlags.pretty, "pretty", false, "indent JSON output")
	_ = resultsExportCmd.MarkFlagRequired("owner")
}

func runResultsRecent(cmd *cobra.Command, args []string) error {
	if recentFlags.limit < 1 {
		return cli.NewConfigError("limit", "must be at least 1")
	}

	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	repo, err := openCommandRepository()
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.ListRecent(cmd.Context(), recentFlags.limit)
	if err != nil {
		return cli.NewCommandError("results recent", err)
	}
	return printer.Results(records)
}

func runResultsQuery(cmd *cobra.Command, args []string) error {
	q := &detection.ResultQuery{
		OwnerKey: queryFlags.owner,
		Limit:    queryFlags.limit,
		Offset:   queryFlags.offset,
	}
	if q.Limit < 0 || q.Offset < 0 {
		return cli.NewConfigError("limit", "limit and offset must not be negative")
	}
	var err error
	if q.Since, err = parseTimeFlag("since", queryFlags.since); err != nil {
		return err
	}
	if q.Until, err = parseTimeFlag("until", queryFlags.until); err != nil {
		return err
	}

	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	repo, err := openCommandRepository()
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.QueryResults(cmd.Context(), q)
	if err != nil {
		return cli.NewCommandError("results query", err)
	}
	return printer.Results(records)
}

func runResultsExport(cmd *cobra.Command, args []string) error {
	exporter, err := export.ForFormat(exportFlags.format, exportFlags.pretty)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	repo, err := openCommandRepository()
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := cmd.Context()
	if _, err := repo.GetOwner(ctx, exportFlags.owner); err != nil {
		return cli.NewCommandError("results export", err)
	}

	w := cmd.OutOrStdout()
	if exportFlags.out != "" {
		f, err := os.Create(exportFlags.out)
		if err != nil {
			return cli.NewCommandError("results export", err)
		}
		defer f.Close()
		w = f
	}

	if err := exporter.ExportSeq(ctx, repo.ListByOwnerOrdered(ctx, exportFlags.owner), w); err != nil {
		return cli.NewCommandError("results export", err)
	}
	if exportFlags.out != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported results of %s to %s\n", exportFlags.owner, exportFlags.out)
	}
	return nil
}

func openCommandRepository() (detection.Repository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return nil, cli.NewCommandError("open storage", err)
	}
	return repo, nil
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, cli.NewConfigError(name, fmt.Sprintf("invalid RFC 3339 timestamp %q", value))
	}
	return &t, nil
}
