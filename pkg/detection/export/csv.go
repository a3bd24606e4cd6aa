package export

import (
	"context"
	"encoding/csv"
	"io"
	"iter"
	"strconv"
	"time"

	"mercator-hq/vigil/pkg/detection"
)

// flushEvery is how many streamed rows are buffered between flushes.
const flushEvery = 100

// CSVExporter exports result records as CSV rows.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{
		IncludeHeader: includeHeader,
	}
}

// Export writes the records to w, one row per record.
func (e *CSVExporter) Export(ctx context.Context, records []*detection.ResultRecord, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(headerRow()); err != nil {
			return detection.NewExportError("csv", len(records), err)
		}
	}

	for _, record := range records {
		if err := writer.Write(recordToRow(record)); err != nil {
			return detection.NewExportError("csv", len(records), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return detection.NewExportError("csv", len(records), err)
	}
	return nil
}

// ExportSeq streams records from seq to w, flushing periodically.
func (e *CSVExporter) ExportSeq(ctx context.Context, seq iter.Seq2[*detection.ResultRecord, error], w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(headerRow()); err != nil {
			return detection.NewExportError("csv", 0, err)
		}
	}

	recordCount := 0
	for record, err := range seq {
		if err != nil {
			return detection.NewExportError("csv", recordCount, err)
		}
		if err := ctx.Err(); err != nil {
			return detection.NewExportError("csv", recordCount, err)
		}

		if err := writer.Write(recordToRow(record)); err != nil {
			return detection.NewExportError("csv", recordCount, err)
		}
		recordCount++

		if recordCount%flushEvery == 0 {
			writer.Flush()
			if err := writer.Error(); err != nil {
				return detection.NewExportError("csv", recordCount, err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return detection.NewExportError("csv", recordCount, err)
	}
	return nil
}

func headerRow() []string {
	return []string{"id", "owner_key", "timestamp", "result", "image_ref", "config", "created_at"}
}

func recordToRow(record *detection.ResultRecord) []string {
	formatTime := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	}

	return []string{
		strconv.FormatInt(record.ID, 10),
		record.OwnerKey,
		formatTime(record.Timestamp),
		strconv.Itoa(record.Result),
		record.ImageRef,
		record.Config,
		formatTime(record.CreatedAt),
	}
}
