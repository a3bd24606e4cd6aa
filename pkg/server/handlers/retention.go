package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/server/types"
)

// window resolves the sweep window: the window query parameter, else the
// scheduler's current window, else the configured default. Values below one
// are passed through so the sweeper rejects them.
func (a *API) window(r *http.Request) (int, *types.APIError) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		if a.scheduler != nil {
			return a.scheduler.WindowSize(), nil
		}
		return a.defaultWindow, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.NewInvalidRequestError(types.CodeInvalidWindow, "window must be an integer", "window")
	}
	return n, nil
}

// sweepAll answers 200 when every owner was swept, 207 when some failed and
// 500 when all failed. The body always carries the per-owner reports.
func (a *API) sweepAll(w http.ResponseWriter, r *http.Request) {
	window, apiErr := a.window(r)
	if apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	reports, err := a.sweeper.SweepAll(r.Context(), window)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := types.NewSweepResponse(window, reports)
	if resp.Evicted > 0 {
		a.invalidateRecent()
	}

	status := http.StatusOK
	var partial *detection.PartialSweepError
	if err := detection.CheckSweep(reports); errors.As(err, &partial) {
		status = http.StatusMultiStatus
		if len(partial.Failed) == partial.Total {
			status = http.StatusInternalServerError
		}
		a.logger.WarnContext(r.Context(), "manual sweep completed with failures",
			"failed", len(partial.Failed),
			"owners", partial.Total,
			"error", err,
		)
	}
	writeJSON(w, status, resp)
}

func (a *API) sweepOwner(w http.ResponseWriter, r *http.Request) {
	key, r := a.ownerKey(r)

	window, apiErr := a.window(r)
	if apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	report, err := a.sweeper.SweepOwner(r.Context(), key, window)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if report.Evicted > 0 {
		a.invalidateRecent()
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) schedule(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeJSON(w, http.StatusOK, types.ScheduleResponse{WindowSize: a.defaultWindow})
		return
	}

	resp := types.ScheduleResponse{
		Schedule:   a.scheduler.Schedule(),
		Running:    a.scheduler.IsRunning(),
		WindowSize: a.scheduler.WindowSize(),
		NextRun:    a.scheduler.NextRun(),
	}
	if last := a.scheduler.LastRun(); last != nil {
		resp.LastRun = &types.RunSummary{
			StartedAt:  last.StartedAt,
			DurationMS: last.Duration.Milliseconds(),
			Owners:     last.Owners,
			Evicted:    last.Evicted,
			Failed:     last.Failed,
			Skipped:    last.Skipped,
			Error:      last.Error,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
