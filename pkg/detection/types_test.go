package detection

import (
	"errors"
	"testing"
	"time"
)

// TestNewer tests the retention order.
func TestNewer(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b ResultRecord
		want bool
	}{
		{"later timestamp wins", ResultRecord{ID: 1, Timestamp: t0.Add(time.Second)}, ResultRecord{ID: 2, Timestamp: t0}, true},
		{"earlier timestamp loses", ResultRecord{ID: 2, Timestamp: t0}, ResultRecord{ID: 1, Timestamp: t0.Add(time.Second)}, false},
		{"tie broken by higher id", ResultRecord{ID: 5, Timestamp: t0}, ResultRecord{ID: 4, Timestamp: t0}, true},
		{"tie lower id", ResultRecord{ID: 4, Timestamp: t0}, ResultRecord{ID: 5, Timestamp: t0}, false},
		{"same record", ResultRecord{ID: 4, Timestamp: t0}, ResultRecord{ID: 4, Timestamp: t0}, false},
		{"equal instant in other zone", ResultRecord{ID: 5, Timestamp: t0.In(time.FixedZone("X", 3600))}, ResultRecord{ID: 4, Timestamp: t0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Newer(&tt.a, &tt.b); got != tt.want {
				t.Errorf("Newer() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestOwnerUpdate_Apply tests partial owner updates.
func TestOwnerUpdate_Apply(t *testing.T) {
	owner := Owner{Key: "alice", StreamingURL: "rtsp://cam/1", Email: "alice@example.com"}

	enabled := true
	email := "ops@example.com"
	OwnerUpdate{MonitoringEnabled: &enabled, Email: &email}.Apply(&owner)

	if !owner.MonitoringEnabled {
		t.Error("MonitoringEnabled not applied")
	}
	if owner.Email != email {
		t.Errorf("Email = %q, want %q", owner.Email, email)
	}
	if owner.StreamingURL != "rtsp://cam/1" {
		t.Errorf("StreamingURL changed to %q", owner.StreamingURL)
	}
	if owner.Key != "alice" {
		t.Errorf("Key changed to %q", owner.Key)
	}
}

// TestResultUpdate_Apply tests that only payload fields change.
func TestResultUpdate_Apply(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	record := ResultRecord{ID: 7, OwnerKey: "alice", Timestamp: ts, Result: 0, ImageRef: "a.jpg"}

	result := 1
	ResultUpdate{Result: &result}.Apply(&record)

	if record.Result != 1 {
		t.Errorf("Result = %d, want 1", record.Result)
	}
	if record.ImageRef != "a.jpg" {
		t.Errorf("ImageRef changed to %q", record.ImageRef)
	}
	if record.OwnerKey != "alice" || !record.Timestamp.Equal(ts) || record.ID != 7 {
		t.Errorf("immutable fields changed: %+v", record)
	}
}

// TestResultQuery_Matches tests owner and time filters.
func TestResultQuery_Matches(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	since := t0
	until := t0.Add(time.Hour)

	record := &ResultRecord{OwnerKey: "alice", Timestamp: t0.Add(30 * time.Minute)}

	tests := []struct {
		name  string
		query *ResultQuery
		want  bool
	}{
		{"nil query", nil, true},
		{"empty query", &ResultQuery{}, true},
		{"owner match", &ResultQuery{OwnerKey: "alice"}, true},
		{"owner mismatch", &ResultQuery{OwnerKey: "bob"}, false},
		{"inside range", &ResultQuery{Since: &since, Until: &until}, true},
		{"before since", &ResultQuery{Since: &until}, false},
		{"after until", &ResultQuery{Until: &since}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.Matches(record); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestValidateTimestamp tests the storable timestamp range.
func TestValidateTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		ts      time.Time
		wantErr bool
	}{
		{"now", time.Now(), false},
		{"min", MinTimestamp, false},
		{"max", MaxTimestamp, false},
		{"before min", MinTimestamp.Add(-time.Nanosecond), true},
		{"after max", MaxTimestamp.Add(time.Nanosecond), true},
		{"year 3000", time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"zero", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimestamp(tt.ts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTimestamp() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrTimestampOutOfRange) {
				t.Errorf("error %v does not wrap ErrTimestampOutOfRange", err)
			}
		})
	}
}
