package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeScheduler struct {
	running  bool
	schedule string
}

func (s fakeScheduler) IsRunning() bool  { return s.running }
func (s fakeScheduler) Schedule() string { return s.schedule }

// TestNew tests checker creation and timeout defaulting.
func TestNew(t *testing.T) {
	if got := New(0).checkTimeout; got != DefaultCheckTimeout {
		t.Errorf("default timeout = %v, want %v", got, DefaultCheckTimeout)
	}
	if got := New(time.Second).checkTimeout; got != time.Second {
		t.Errorf("timeout = %v, want 1s", got)
	}
}

// TestCheckReadiness tests aggregation of component checks.
func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
		wantFailed []string
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: StatusReady,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"storage":   StorageCheck(fakePinger{}),
				"scheduler": SchedulerCheck(fakeScheduler{running: true, schedule: "*/15 * * * *"}),
			},
			wantStatus: StatusReady,
		},
		{
			name: "storage down",
			checks: map[string]CheckFunc{
				"storage":   StorageCheck(fakePinger{err: errors.New("database is locked")}),
				"scheduler": SchedulerCheck(fakeScheduler{running: true, schedule: "*/15 * * * *"}),
			},
			wantStatus: StatusDegraded,
			wantFailed: []string{"storage"},
		},
		{
			name: "scheduler stopped",
			checks: map[string]CheckFunc{
				"scheduler": SchedulerCheck(fakeScheduler{running: false, schedule: "0 * * * *"}),
			},
			wantStatus: StatusDegraded,
			wantFailed: []string{"scheduler"},
		},
		{
			name: "no schedule configured",
			checks: map[string]CheckFunc{
				"scheduler": SchedulerCheck(fakeScheduler{}),
			},
			wantStatus: StatusReady,
		},
		{
			name: "lock backend down",
			checks: map[string]CheckFunc{
				"sweep_lock": LockCheck(fakePinger{err: errors.New("connection refused")}),
			},
			wantStatus: StatusDegraded,
			wantFailed: []string{"sweep_lock"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(time.Second)
			for name, check := range tt.checks {
				checker.RegisterCheck(name, check)
			}

			status := checker.CheckReadiness(context.Background())

			if status.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(status.Checks), len(tt.checks))
			}
			for _, name := range tt.wantFailed {
				if status.Checks[name].Status != StatusUnhealthy {
					t.Errorf("check %q = %+v, want unhealthy", name, status.Checks[name])
				}
				if status.Checks[name].Message == "" {
					t.Errorf("check %q has no message", name)
				}
			}
		})
	}
}

// TestCheckReadiness_Timeout tests that slow checks are reported unhealthy.
func TestCheckReadiness_Timeout(t *testing.T) {
	checker := New(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	checker.RegisterCheck("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	status := checker.CheckReadiness(context.Background())

	result := status.Checks["slow"]
	if result.Status != StatusUnhealthy || result.Message != ErrCheckTimeout.Error() {
		t.Errorf("slow check = %+v, want timeout", result)
	}
}

// TestUnregisterCheck tests check removal.
func TestUnregisterCheck(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("storage", StorageCheck(fakePinger{err: errors.New("down")}))
	checker.UnregisterCheck("storage")

	if n := len(checker.ListChecks()); n != 0 {
		t.Errorf("ListChecks() = %d entries, want 0", n)
	}
	if status := checker.CheckReadiness(context.Background()); !status.Ready() {
		t.Errorf("Status = %q, want ready", status.Status)
	}
}

// TestHandlers tests the probe endpoints through a ServeMux.
func TestHandlers(t *testing.T) {
	checker := New(time.Second)
	mux := http.NewServeMux()
	checker.Register(mux, Paths{Liveness: "/health", Readiness: "/ready", Version: "/version"},
		NewVersionInfo("1.2.3", "abc123", "2025-11-20"))

	tests := []struct {
		name     string
		method   string
		path     string
		failing  bool
		wantCode int
		wantBody bool
	}{
		{name: "liveness", method: http.MethodGet, path: "/health", wantCode: http.StatusOK, wantBody: true},
		{name: "liveness head", method: http.MethodHead, path: "/health", wantCode: http.StatusOK},
		{name: "ready", method: http.MethodGet, path: "/ready", wantCode: http.StatusOK, wantBody: true},
		{name: "not ready", method: http.MethodGet, path: "/ready", failing: true, wantCode: http.StatusServiceUnavailable, wantBody: true},
		{name: "version", method: http.MethodGet, path: "/version", wantCode: http.StatusOK, wantBody: true},
		{name: "post rejected", method: http.MethodPost, path: "/health", wantCode: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.failing {
				checker.RegisterCheck("storage", StorageCheck(fakePinger{err: errors.New("down")}))
				defer checker.UnregisterCheck("storage")
			}

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody && rec.Body.Len() == 0 {
				t.Error("empty body")
			}
			if !tt.wantBody && tt.method == http.MethodHead && rec.Body.Len() != 0 {
				t.Error("HEAD response has a body")
			}
		})
	}
}

// TestVersionHandler tests the version payload.
func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler(NewVersionInfo("1.2.3", "abc123", "2025-11-20")).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("info = %+v", info)
	}
}
