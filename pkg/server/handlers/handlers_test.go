package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/retention"
	"mercator-hq/vigil/pkg/detection/storage"
	"mercator-hq/vigil/pkg/server/types"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// failingRepo fails every sweep transaction of one owner.
type failingRepo struct {
	*storage.MemoryStorage
	failOwner string
}

func (f *failingRepo) WithinOwnerTx(ctx context.Context, ownerKey string, fn func(tx detection.Tx) error) error {
	if ownerKey == f.failOwner {
		return detection.NewStorageError("memory", "begin_tx", errors.New("disk I/O error"))
	}
	return f.MemoryStorage.WithinOwnerTx(ctx, ownerKey, fn)
}

func newTestMux(t *testing.T, repo detection.Repository, cache *RecentCache) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	New(Options{
		Repository:    repo,
		Sweeper:       retention.NewSweeper(repo, &retention.Config{WindowSize: 24}),
		Cache:         cache,
		DefaultWindow: 24,
		MaxBodyBytes:  1024,
	}).Register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[types.ErrorResponse](t, rec).Error.Code
}

func seed(t *testing.T, repo detection.Repository, owner string, n int) {
	t.Helper()
	ctx := context.Background()
	if _, err := repo.GetOwner(ctx, owner); errors.Is(err, detection.ErrOwnerNotFound) {
		if err := repo.CreateOwner(ctx, &detection.Owner{Key: owner}); err != nil {
			t.Fatalf("CreateOwner(%s): %v", owner, err)
		}
	}
	for i := 0; i < n; i++ {
		record := &detection.ResultRecord{
			OwnerKey:  owner,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Result:    i,
		}
		if err := repo.CreateResult(ctx, record); err != nil {
			t.Fatalf("CreateResult: %v", err)
		}
	}
}

// TestOwners tests the owner lifecycle, including refused deletion.
func TestOwners(t *testing.T) {
	repo := storage.NewMemoryStorage()
	h := newTestMux(t, repo, nil)

	steps := []struct {
		name     string
		method   string
		path     string
		body     string
		setup    func()
		wantCode int
		wantErr  string
	}{
		{name: "create", method: http.MethodPost, path: "/v1/owners", body: `{"key":"alice","monitoring_enabled":true,"email":"alice@example.com"}`, wantCode: http.StatusCreated},
		{name: "duplicate", method: http.MethodPost, path: "/v1/owners", body: `{"key":"alice"}`, wantCode: http.StatusConflict, wantErr: types.CodeOwnerExists},
		{name: "missing key", method: http.MethodPost, path: "/v1/owners", body: `{"email":"x@example.com"}`, wantCode: http.StatusBadRequest, wantErr: types.CodeMissingField},
		{name: "unknown field", method: http.MethodPost, path: "/v1/owners", body: `{"key":"bob","nickname":"b"}`, wantCode: http.StatusBadRequest, wantErr: types.CodeInvalidJSON},
		{name: "empty body", method: http.MethodPost, path: "/v1/owners", wantCode: http.StatusBadRequest, wantErr: types.CodeInvalidJSON},
		{name: "too large", method: http.MethodPost, path: "/v1/owners", body: `{"key":"` + strings.Repeat("a", 2048) + `"}`, wantCode: http.StatusRequestEntityTooLarge, wantErr: types.CodeRequestTooLarge},
		{name: "get", method: http.MethodGet, path: "/v1/owners/alice", wantCode: http.StatusOK},
		{name: "get missing", method: http.MethodGet, path: "/v1/owners/nobody", wantCode: http.StatusNotFound, wantErr: types.CodeOwnerNotFound},
		{name: "patch", method: http.MethodPatch, path: "/v1/owners/alice", body: `{"email":"new@example.com"}`, wantCode: http.StatusOK},
		{name: "patch missing", method: http.MethodPatch, path: "/v1/owners/nobody", body: `{"email":"x@example.com"}`, wantCode: http.StatusNotFound, wantErr: types.CodeOwnerNotFound},
		{name: "list", method: http.MethodGet, path: "/v1/owners", wantCode: http.StatusOK},
		{name: "delete with results", method: http.MethodDelete, path: "/v1/owners/alice", setup: func() { seed(t, repo, "alice", 2) }, wantCode: http.StatusConflict, wantErr: types.CodeOwnerHasRecords},
		{name: "delete results", method: http.MethodDelete, path: "/v1/owners/alice/results", wantCode: http.StatusOK},
		{name: "delete results again", method: http.MethodDelete, path: "/v1/owners/alice/results", wantCode: http.StatusNotFound, wantErr: types.CodeNoResults},
		{name: "owner survives result deletion", method: http.MethodGet, path: "/v1/owners/alice", wantCode: http.StatusOK},
		{name: "delete", method: http.MethodDelete, path: "/v1/owners/alice", wantCode: http.StatusNoContent},
		{name: "delete missing", method: http.MethodDelete, path: "/v1/owners/alice", wantCode: http.StatusNotFound, wantErr: types.CodeOwnerNotFound},
	}

	for _, step := range steps {
		if step.setup != nil {
			step.setup()
		}
		rec := do(t, h, step.method, step.path, step.body)
		if rec.Code != step.wantCode {
			t.Fatalf("%s: code = %d, want %d (body %s)", step.name, rec.Code, step.wantCode, rec.Body)
		}
		if step.wantErr != "" {
			if got := errorCode(t, rec); got != step.wantErr {
				t.Errorf("%s: error code = %q, want %q", step.name, got, step.wantErr)
			}
		}
	}

	owner, err := repo.GetOwner(context.Background(), "alice")
	if err == nil {
		t.Errorf("owner still present after delete: %+v", owner)
	}
}

// TestOwners_PatchKeepsOtherFields tests partial updates.
func TestOwners_PatchKeepsOtherFields(t *testing.T) {
	repo := storage.NewMemoryStorage()
	h := newTestMux(t, repo, nil)

	do(t, h, http.MethodPost, "/v1/owners", `{"key":"alice","monitoring_enabled":true,"streaming_url":"rtsp://cam/1"}`)
	rec := do(t, h, http.MethodPatch, "/v1/owners/alice", `{"monitoring_enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	owner := decode[detection.Owner](t, rec)
	if owner.MonitoringEnabled || owner.StreamingURL != "rtsp://cam/1" {
		t.Errorf("owner = %+v, want monitoring off and stream kept", owner)
	}
}

// TestOwners_LocationEscapesKey tests that the Location of a created owner
// routes back to that owner.
func TestOwners_LocationEscapesKey(t *testing.T) {
	repo := storage.NewMemoryStorage()
	h := newTestMux(t, repo, nil)

	for _, key := range []string{"alice", "alice/cam", "bob cam?1"} {
		body, _ := json.Marshal(map[string]string{"key": key})
		rec := do(t, h, http.MethodPost, "/v1/owners", string(body))
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %q: code = %d", key, rec.Code)
		}

		location := rec.Header().Get("Location")
		rec = do(t, h, http.MethodGet, location, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: code = %d, want 200", location, rec.Code)
		}
		if got := decode[detection.Owner](t, rec); got.Key != key {
			t.Errorf("GET %s returned owner %q, want %q", location, got.Key, key)
		}
	}
}

// TestResults tests result CRUD.
func TestResults(t *testing.T) {
	repo := storage.NewMemoryStorage()
	h := newTestMux(t, repo, nil)
	seed(t, repo, "alice", 0)

	rec := do(t, h, http.MethodPost, "/v1/results", `{"owner_key":"ghost","result":1}`)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != types.CodeOwnerNotFound {
		t.Fatalf("create for unknown owner: code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/v1/results", `{"result":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("create without owner: code = %d", rec.Code)
	}

	for _, ts := range []string{"3000-01-01T00:00:00Z", "1600-01-01T00:00:00Z"} {
		rec = do(t, h, http.MethodPost, "/v1/results", `{"owner_key":"alice","timestamp":"`+ts+`","result":1}`)
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != types.CodeInvalidTimestamp {
			t.Fatalf("create at %s: code = %d, body %s", ts, rec.Code, rec.Body)
		}
	}
	if has, _ := repo.OwnerHasRecords(context.Background(), "alice"); has {
		t.Fatal("out of range timestamps were stored")
	}

	rec = do(t, h, http.MethodPost, "/v1/results", `{"owner_key":"alice","timestamp":"2025-06-01T12:00:00Z","result":3,"image_ref":"img/1.jpg"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: code = %d, body %s", rec.Code, rec.Body)
	}
	created := decode[detection.ResultRecord](t, rec)
	if created.ID == 0 || !created.Timestamp.Equal(base) {
		t.Fatalf("created = %+v", created)
	}
	path := fmt.Sprintf("/v1/results/%d", created.ID)

	rec = do(t, h, http.MethodPatch, path, `{"result":7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: code = %d", rec.Code)
	}
	updated := decode[detection.ResultRecord](t, rec)
	if updated.Result != 7 || updated.ImageRef != "img/1.jpg" || !updated.Timestamp.Equal(base) {
		t.Errorf("updated = %+v", updated)
	}

	rec = do(t, h, http.MethodPatch, path, `{"timestamp":"2030-01-01T00:00:00Z"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("patching the timestamp: code = %d, want 400", rec.Code)
	}

	tests := []struct {
		method   string
		path     string
		wantCode int
	}{
		{http.MethodGet, path, http.StatusOK},
		{http.MethodGet, "/v1/results/abc", http.StatusBadRequest},
		{http.MethodGet, "/v1/results/0", http.StatusBadRequest},
		{http.MethodDelete, path, http.StatusNoContent},
		{http.MethodGet, path, http.StatusNotFound},
		{http.MethodDelete, path, http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := do(t, h, tt.method, tt.path, ""); rec.Code != tt.wantCode {
			t.Errorf("%s %s: code = %d, want %d", tt.method, tt.path, rec.Code, tt.wantCode)
		}
	}
}

// TestListOwnerResults tests filtering and paging of an owner's results.
func TestListOwnerResults(t *testing.T) {
	repo := storage.NewMemoryStorage()
	h := newTestMux(t, repo, nil)
	seed(t, repo, "alice", 10)
	seed(t, repo, "bob", 3)

	tests := []struct {
		name       string
		query      string
		wantCode   int
		wantCount  int
		wantFirstR int
	}{
		{name: "all", query: "", wantCode: http.StatusOK, wantCount: 10, wantFirstR: 9},
		{name: "limit", query: "?limit=3", wantCode: http.StatusOK, wantCount: 3, wantFirstR: 9},
		{name: "offset", query: "?limit=3&offset=2", wantCode: http.StatusOK, wantCount: 3, wantFirstR: 7},
		{name: "since", query: "?since=2025-06-01T12:08:00Z", wantCode: http.StatusOK, wantCount: 2, wantFirstR: 9},
		{name: "until", query: "?until=2025-06-01T12:01:00Z", wantCode: http.StatusOK, wantCount: 2, wantFirstR: 1},
		{name: "bad limit", query: "?limit=-1", wantCode: http.StatusBadRequest},
		{name: "bad since", query: "?since=yesterday", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/v1/owners/alice/results"+tt.query, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			list := decode[types.ListResponse[detection.ResultRecord]](t, rec)
			if list.Count != tt.wantCount {
				t.Fatalf("count = %d, want %d", list.Count, tt.wantCount)
			}
			if list.Data[0].Result != tt.wantFirstR {
				t.Errorf("first result = %d, want %d", list.Data[0].Result, tt.wantFirstR)
			}
			for _, r := range list.Data {
				if r.OwnerKey != "alice" {
					t.Errorf("result of %q in alice's listing", r.OwnerKey)
				}
			}
		})
	}

	if rec := do(t, h, http.MethodGet, "/v1/owners/ghost/results", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown owner: code = %d, want 404", rec.Code)
	}
}

// TestListRecent tests the global recent read and its cache.
func TestListRecent(t *testing.T) {
	repo := storage.NewMemoryStorage()
	cache := NewRecentCache(time.Minute, time.Minute, nil)
	h := newTestMux(t, repo, cache)
	seed(t, repo, "alice", 20)
	seed(t, repo, "bob", 20)

	rec := do(t, h, http.MethodGet, "/v1/results/recent", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if list := decode[types.ListResponse[detection.ResultRecord]](t, rec); list.Count != detection.DefaultWindowSize {
		t.Errorf("default count = %d, want %d", list.Count, detection.DefaultWindowSize)
	}
	if cache.Len() != 1 {
		t.Errorf("cache entries = %d, want 1", cache.Len())
	}

	rec = do(t, h, http.MethodPost, "/v1/results", `{"owner_key":"bob","timestamp":"2030-01-01T00:00:00Z","result":99}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: code = %d", rec.Code)
	}
	if cache.Len() != 0 {
		t.Error("create did not flush the recent cache")
	}

	rec = do(t, h, http.MethodGet, "/v1/results/recent?limit=1", "")
	list := decode[types.ListResponse[detection.ResultRecord]](t, rec)
	if list.Count != 1 || list.Data[0].Result != 99 {
		t.Errorf("recent = %+v, want the new result", list.Data)
	}

	for _, q := range []string{"?limit=0", "?limit=1001", "?limit=x"} {
		if rec := do(t, h, http.MethodGet, "/v1/results/recent"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d, want 400", q, rec.Code)
		}
	}
}

// TestSweep tests the manual sweep endpoints.
func TestSweep(t *testing.T) {
	repo := storage.NewMemoryStorage()
	h := newTestMux(t, repo, nil)
	seed(t, repo, "alice", 30)
	seed(t, repo, "bob", 3)

	rec := do(t, h, http.MethodPost, "/v1/retention/sweep", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep all: code = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[types.SweepResponse](t, rec)
	if resp.WindowSize != 24 || resp.Owners != 2 || resp.Evicted != 6 || resp.Failed != 0 {
		t.Errorf("sweep all = %+v", resp)
	}

	rec = do(t, h, http.MethodPost, "/v1/retention/sweep/alice?window=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep owner: code = %d", rec.Code)
	}
	report := decode[detection.EvictionReport](t, rec)
	if report.Evicted != 14 || report.Retained != 10 || report.Status != detection.StatusOK {
		t.Errorf("sweep owner = %+v", report)
	}

	rec = do(t, h, http.MethodPost, "/v1/retention/sweep/ghost?window=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep unknown owner: code = %d", rec.Code)
	}
	if report := decode[detection.EvictionReport](t, rec); report.Evicted != 0 || report.Retained != 0 {
		t.Errorf("unknown owner report = %+v", report)
	}

	for _, path := range []string{
		"/v1/retention/sweep?window=0",
		"/v1/retention/sweep?window=-3",
		"/v1/retention/sweep?window=abc",
		"/v1/retention/sweep/alice?window=0",
	} {
		rec := do(t, h, http.MethodPost, path, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d, want 400", path, rec.Code)
			continue
		}
		if code := errorCode(t, rec); code != types.CodeInvalidWindow {
			t.Errorf("%s: error code = %q", path, code)
		}
	}

	keys, _ := repo.ListOwnerKeys(context.Background())
	if len(keys) != 2 {
		t.Errorf("owners with results = %v; rejected sweeps must not delete", keys)
	}
}

// TestSweep_PartialFailure tests the 207 response.
func TestSweep_PartialFailure(t *testing.T) {
	repo := &failingRepo{MemoryStorage: storage.NewMemoryStorage(), failOwner: "bob"}
	h := newTestMux(t, repo, nil)
	seed(t, repo, "alice", 26)
	seed(t, repo, "bob", 26)
	seed(t, repo, "carol", 26)

	rec := do(t, h, http.MethodPost, "/v1/retention/sweep?window=24", "")
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("code = %d, want 207", rec.Code)
	}

	resp := decode[types.SweepResponse](t, rec)
	if resp.Owners != 3 || resp.Failed != 1 || resp.Evicted != 4 {
		t.Errorf("resp = %+v", resp)
	}
	for _, r := range resp.Reports {
		if r.OwnerKey == "bob" && (r.Status != detection.StatusFailed || r.Error == "") {
			t.Errorf("bob report = %+v, want failed with error", r)
		}
	}

	rec = do(t, h, http.MethodPost, "/v1/retention/sweep/bob", "")
	if rec.Code != http.StatusInternalServerError || errorCode(t, rec) != types.CodeStorageError {
		t.Errorf("sweep failing owner: code = %d", rec.Code)
	}
}

// TestSweep_AllOwnersFailed tests that a sweep in which every owner fails
// answers 500 and still reports each owner.
func TestSweep_AllOwnersFailed(t *testing.T) {
	repo := &failingRepo{MemoryStorage: storage.NewMemoryStorage(), failOwner: "bob"}
	h := newTestMux(t, repo, nil)
	seed(t, repo, "bob", 26)

	rec := do(t, h, http.MethodPost, "/v1/retention/sweep?window=24", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}

	resp := decode[types.SweepResponse](t, rec)
	if resp.Owners != 1 || resp.Failed != 1 || resp.Evicted != 0 || len(resp.Reports) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if r := resp.Reports[0]; r.OwnerKey != "bob" || r.Status != detection.StatusFailed {
		t.Errorf("report = %+v, want bob failed", r)
	}
}

// TestSweep_NoOwners tests that sweeping an empty store succeeds.
func TestSweep_NoOwners(t *testing.T) {
	h := newTestMux(t, storage.NewMemoryStorage(), nil)

	rec := do(t, h, http.MethodPost, "/v1/retention/sweep", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if resp := decode[types.SweepResponse](t, rec); resp.Owners != 0 || resp.Failed != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

// TestExport tests owner result downloads.
func TestExport(t *testing.T) {
	repo := storage.NewMemoryStorage()
	h := newTestMux(t, repo, nil)
	seed(t, repo, "alice", 5)
	seed(t, repo, "bob", 2)

	rec := do(t, h, http.MethodGet, "/v1/owners/alice/results/export?format=csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("csv: code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "alice-results.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 6 || rows[0][0] != "id" || rows[1][3] != "4" {
		t.Errorf("rows = %v, want header plus 5 rows newest first", rows)
	}

	rec = do(t, h, http.MethodGet, "/v1/owners/alice/results/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("json: code = %d", rec.Code)
	}
	records := decode[[]detection.ResultRecord](t, rec)
	if len(records) != 5 || records[0].Result != 4 {
		t.Errorf("json export = %+v", records)
	}

	if rec := do(t, h, http.MethodGet, "/v1/owners/alice/results/export?format=xml", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("xml: code = %d, want 400", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/owners/ghost/results/export", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown owner: code = %d, want 404", rec.Code)
	}
}

// TestSchedule_NoScheduler tests the schedule endpoint without a scheduler.
func TestSchedule_NoScheduler(t *testing.T) {
	h := newTestMux(t, storage.NewMemoryStorage(), nil)

	rec := do(t, h, http.MethodGet, "/v1/retention/schedule", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	resp := decode[types.ScheduleResponse](t, rec)
	if resp.Running || resp.Schedule != "" || resp.WindowSize != 24 || resp.NextRun != nil {
		t.Errorf("resp = %+v", resp)
	}
}

// TestSafeFilename tests download name sanitizing.
func TestSafeFilename(t *testing.T) {
	tests := map[string]string{
		"alice":         "alice",
		"bob.smith_01":  "bob.smith_01",
		"../etc/passwd": ".._etc_passwd",
		`a"b c`:         "a_b_c",
	}
	for in, want := range tests {
		if got := safeFilename(in); got != want {
			t.Errorf("safeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
