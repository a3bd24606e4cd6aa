package export

import (
	"context"
	"fmt"
	"io"
	"iter"

	"mercator-hq/vigil/pkg/detection"
)

// Supported export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// StreamExporter is an Exporter that can also consume a lazy sequence.
type StreamExporter interface {
	detection.Exporter
	ExportSeq(ctx context.Context, seq iter.Seq2[*detection.ResultRecord, error], w io.Writer) error
}

// ForFormat returns the exporter for a format name.
func ForFormat(format string, pretty bool) (StreamExporter, error) {
	switch format {
	case FormatJSON, "":
		return NewJSONExporter(pretty), nil
	case FormatCSV:
		return NewCSVExporter(true), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (supported: json, csv)", format)
	}
}

// ContentType returns the HTTP content type for a format name.
func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}
