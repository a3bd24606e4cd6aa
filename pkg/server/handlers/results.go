package handlers

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/server/types"
	"mercator-hq/vigil/pkg/telemetry/tracing"
)

// maxRecentLimit caps GET /v1/results/recent.
const maxRecentLimit = 1000

func (a *API) createResult(w http.ResponseWriter, r *http.Request) {
	var req types.CreateResultRequest
	if apiErr := a.decodeJSON(w, r, &req); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}
	if apiErr := req.Validate(); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	record := req.Record(a.now().UTC())
	if err := a.repo.CreateResult(r.Context(), record); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.invalidateRecent()
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int64(tracing.AttrResultID, record.ID))
	w.Header().Set("Location", "/v1/results/"+strconv.FormatInt(record.ID, 10))
	writeJSON(w, http.StatusCreated, record)
}

// listRecent returns the most recent results across all owners, regardless
// of retention windows.
func (a *API) listRecent(w http.ResponseWriter, r *http.Request) {
	limit, apiErr := intParam(r, "limit", detection.DefaultWindowSize)
	if apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}
	if limit == 0 || limit > maxRecentLimit {
		a.writeError(w, r, types.NewInvalidRequestError(types.CodeInvalidValue,
			"limit must be between 1 and "+strconv.Itoa(maxRecentLimit), "limit"))
		return
	}

	if a.cache != nil {
		if records, ok := a.cache.Get(limit); ok {
			writeJSON(w, http.StatusOK, types.NewListResponse(records))
			return
		}
	}

	records, err := a.repo.ListRecent(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if a.cache != nil {
		a.cache.Set(limit, records)
	}
	writeJSON(w, http.StatusOK, types.NewListResponse(records))
}

func (a *API) getResult(w http.ResponseWriter, r *http.Request) {
	id, apiErr := resultID(r)
	if apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	record, err := a.repo.GetResult(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// updateResult changes payload fields only; owner and timestamp are fixed
// so an update never reorders retention.
func (a *API) updateResult(w http.ResponseWriter, r *http.Request) {
	id, apiErr := resultID(r)
	if apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	var update detection.ResultUpdate
	if apiErr := a.decodeJSON(w, r, &update); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	record, err := a.repo.UpdateResult(r.Context(), id, update)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.invalidateRecent()
	writeJSON(w, http.StatusOK, record)
}

func (a *API) deleteResult(w http.ResponseWriter, r *http.Request) {
	id, apiErr := resultID(r)
	if apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	if err := a.repo.DeleteResult(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.invalidateRecent()
	w.WriteHeader(http.StatusNoContent)
}

func resultID(r *http.Request) (int64, *types.APIError) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewInvalidRequestError(types.CodeInvalidValue, "result id must be a positive integer", "id")
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int64(tracing.AttrResultID, id))
	return id, nil
}
