package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/export"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is aligned columns for a terminal (default).
	FormatText OutputFormat = "text"
	// FormatJSON is indented JSON.
	FormatJSON OutputFormat = "json"
	// FormatCSV is CSV with a header row.
	FormatCSV OutputFormat = "csv"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", NewConfigError("output", fmt.Sprintf("unknown format %q (valid: text, json, csv)", s))
	}
}

// Printer writes command results in one format.
type Printer struct {
	w      io.Writer
	format OutputFormat
}

// NewPrinter creates a Printer for format.
func NewPrinter(w io.Writer, format OutputFormat) (*Printer, error) {
	f, err := ParseOutputFormat(string(format))
	if err != nil {
		return nil, err
	}
	return &Printer{w: w, format: f}, nil
}

// Results prints result records in the order given.
func (p *Printer) Results(records []*detection.ResultRecord) error {
	switch p.format {
	case FormatJSON:
		return export.NewJSONExporter(true).Export(context.Background(), records, p.w)
	case FormatCSV:
		return export.NewCSVExporter(true).Export(context.Background(), records, p.w)
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tTIMESTAMP\tRESULT\tIMAGE")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			r.ID, r.OwnerKey, r.Timestamp.UTC().Format(time.RFC3339), r.Result, dash(r.ImageRef))
	}
	return tw.Flush()
}

// Owners prints owners.
func (p *Printer) Owners(owners []*detection.Owner) error {
	switch p.format {
	case FormatJSON:
		return p.json(owners)
	case FormatCSV:
		rows := [][]string{{"key", "monitoring_enabled", "streaming_url", "email", "created_at"}}
		for _, o := range owners {
			rows = append(rows, []string{
				o.Key,
				strconv.FormatBool(o.MonitoringEnabled),
				o.StreamingURL,
				o.Email,
				o.CreatedAt.UTC().Format(time.RFC3339Nano),
			})
		}
		return p.csv(rows)
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tMONITORING\tSTREAM\tEMAIL")
	for _, o := range owners {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", o.Key, o.MonitoringEnabled, dash(o.StreamingURL), dash(o.Email))
	}
	return tw.Flush()
}

// Reports prints sweep reports followed, in text form, by a totals line.
func (p *Printer) Reports(windowSize int, reports []detection.EvictionReport) error {
	switch p.format {
	case FormatJSON:
		return p.json(reports)
	case FormatCSV:
		rows := [][]string{{"owner_key", "evicted", "retained", "status", "error"}}
		for _, r := range reports {
			rows = append(rows, []string{
				r.OwnerKey,
				strconv.Itoa(r.Evicted),
				strconv.Itoa(r.Retained),
				r.Status,
				r.Error,
			})
		}
		return p.csv(rows)
	}

	var evicted, failed int
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tEVICTED\tRETAINED\tSTATUS")
	for _, r := range reports {
		status := r.Status
		if r.Failed() {
			status += ": " + r.Error
			failed++
		}
		evicted += r.Evicted
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.OwnerKey, r.Evicted, r.Retained, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(p.w, "\nwindow %d: %d owners, %d evicted, %d failed\n",
		windowSize, len(reports), evicted, failed)
	return err
}

// Value prints v as JSON, or with %v in text form.
func (p *Printer) Value(v any) error {
	if p.format == FormatText {
		_, err := fmt.Fprintf(p.w, "%v\n", v)
		return err
	}
	return p.json(v)
}

func (p *Printer) json(v any) error {
	encoder := json.NewEncoder(p.w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (p *Printer) csv(rows [][]string) error {
	w := csv.NewWriter(p.w)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
