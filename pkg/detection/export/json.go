package export

import (
	"context"
	"encoding/json"
	"io"
	"iter"

	"mercator-hq/vigil/pkg/detection"
)

// JSONExporter exports result records as a JSON array.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{
		Pretty: pretty,
	}
}

// Export writes the records to w as a JSON array. An empty slice is
// written as "[]".
func (e *JSONExporter) Export(ctx context.Context, records []*detection.ResultRecord, w io.Writer) error {
	if records == nil {
		records = []*detection.ResultRecord{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return detection.NewExportError("json", len(records), err)
	}

	if _, err := w.Write(data); err != nil {
		return detection.NewExportError("json", len(records), err)
	}
	return nil
}

// ExportSeq streams records from seq to w as a JSON array without holding
// them all in memory. It stops at the first error yielded by seq.
func (e *JSONExporter) ExportSeq(ctx context.Context, seq iter.Seq2[*detection.ResultRecord, error], w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return detection.NewExportError("json", 0, err)
	}

	recordCount := 0
	for record, err := range seq {
		if err != nil {
			return detection.NewExportError("json", recordCount, err)
		}
		if err := ctx.Err(); err != nil {
			return detection.NewExportError("json", recordCount, err)
		}

		if recordCount > 0 {
			sep := ","
			if e.Pretty {
				sep = ",\n"
			}
			if _, err := io.WriteString(w, sep); err != nil {
				return detection.NewExportError("json", recordCount, err)
			}
		}

		data, err := e.serializeRecord(record)
		if err != nil {
			return detection.NewExportError("json", recordCount, err)
		}
		if _, err := w.Write(data); err != nil {
			return detection.NewExportError("json", recordCount, err)
		}

		recordCount++
	}

	if _, err := io.WriteString(w, "]"); err != nil {
		return detection.NewExportError("json", recordCount, err)
	}
	return nil
}

func (e *JSONExporter) serializeRecord(record *detection.ResultRecord) ([]byte, error) {
	if e.Pretty {
		return json.MarshalIndent(record, "  ", "  ")
	}
	return json.Marshal(record)
}
