package types

import (
	"time"

	"mercator-hq/vigil/pkg/detection"
)

// ListResponse wraps collection responses.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

// NewListResponse creates a ListResponse. A nil slice encodes as [].
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Count: len(items)}
}

// DeleteResponse reports how many results a bulk delete removed.
type DeleteResponse struct {
	OwnerKey string `json:"owner_key"`
	Deleted  int64  `json:"deleted"`
}

// SweepResponse is returned by the retention sweep endpoints.
type SweepResponse struct {
	WindowSize int                        `json:"window_size"`
	Owners     int                        `json:"owners"`
	Evicted    int                        `json:"evicted"`
	Failed     int                        `json:"failed"`
	Reports    []detection.EvictionReport `json:"reports"`
}

// NewSweepResponse aggregates per-owner reports.
func NewSweepResponse(windowSize int, reports []detection.EvictionReport) *SweepResponse {
	resp := &SweepResponse{
		WindowSize: windowSize,
		Owners:     len(reports),
		Reports:    reports,
	}
	if resp.Reports == nil {
		resp.Reports = []detection.EvictionReport{}
	}
	for _, r := range reports {
		resp.Evicted += r.Evicted
		if r.Failed() {
			resp.Failed++
		}
	}
	return resp
}

// ScheduleResponse describes the retention scheduler.
type ScheduleResponse struct {
	Schedule   string      `json:"schedule"`
	Running    bool        `json:"running"`
	WindowSize int         `json:"window_size"`
	NextRun    *time.Time  `json:"next_run,omitempty"`
	LastRun    *RunSummary `json:"last_run,omitempty"`
}

// RunSummary mirrors retention.RunSummary with the duration in milliseconds.
type RunSummary struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Owners     int       `json:"owners"`
	Evicted    int       `json:"evicted"`
	Failed     int       `json:"failed"`
	Skipped    bool      `json:"skipped,omitempty"`
	Error      string    `json:"error,omitempty"`
}
