package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"mercator-hq/vigil/pkg/detection"
)

var ts = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testRecords() []*detection.ResultRecord {
	return []*detection.ResultRecord{
		{ID: 2, OwnerKey: "alice", Timestamp: ts.Add(time.Minute), Result: 1, ImageRef: "img/2.jpg"},
		{ID: 1, OwnerKey: "alice", Timestamp: ts, Result: 0},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOutputFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestPrinter_Results tests result output in every format.
func TestPrinter_Results(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		p, _ := NewPrinter(buf, FormatText)
		if err := p.Results(testRecords()); err != nil {
			t.Fatal(err)
		}

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf)
		}
		if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[1], "img/2.jpg") {
			t.Errorf("unexpected table:\n%s", buf)
		}
		if !strings.HasSuffix(lines[2], "-") {
			t.Errorf("empty image not shown as dash: %q", lines[2])
		}
	})

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		p, _ := NewPrinter(buf, FormatJSON)
		if err := p.Results(testRecords()); err != nil {
			t.Fatal(err)
		}

		var got []detection.ResultRecord
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, buf)
		}
		if len(got) != 2 || got[0].ID != 2 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("csv", func(t *testing.T) {
		buf := &bytes.Buffer{}
		p, _ := NewPrinter(buf, FormatCSV)
		if err := p.Results(testRecords()); err != nil {
			t.Fatal(err)
		}

		rows, err := csv.NewReader(buf).ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 3 || rows[0][1] != "owner_key" || rows[1][0] != "2" {
			t.Errorf("rows = %v", rows)
		}
	})
}

func TestPrinter_Owners(t *testing.T) {
	owners := []*detection.Owner{
		{Key: "alice", MonitoringEnabled: true, Email: "alice@example.com"},
		{Key: "bob"},
	}

	buf := &bytes.Buffer{}
	p, _ := NewPrinter(buf, FormatCSV)
	if err := p.Owners(owners); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[1][0] != "alice" || rows[1][1] != "true" || rows[2][3] != "" {
		t.Errorf("rows = %v", rows)
	}

	buf.Reset()
	p, _ = NewPrinter(buf, FormatText)
	if err := p.Owners(owners); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "alice@example.com") {
		t.Errorf("text output:\n%s", buf)
	}
}

// TestPrinter_Reports tests the sweep report table and totals.
func TestPrinter_Reports(t *testing.T) {
	reports := []detection.EvictionReport{
		{OwnerKey: "alice", Evicted: 6, Retained: 24, Status: detection.StatusOK},
		{OwnerKey: "bob", Status: detection.StatusFailed, Error: "database is locked"},
	}

	buf := &bytes.Buffer{}
	p, _ := NewPrinter(buf, FormatText)
	if err := p.Reports(24, reports); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "failed: database is locked") {
		t.Errorf("failure not shown:\n%s", out)
	}
	if !strings.Contains(out, "window 24: 2 owners, 6 evicted, 1 failed") {
		t.Errorf("totals missing:\n%s", out)
	}
}

func TestNewPrinter_InvalidFormat(t *testing.T) {
	if _, err := NewPrinter(&bytes.Buffer{}, "xml"); err == nil {
		t.Error("NewPrinter(xml) succeeded")
	}
}
