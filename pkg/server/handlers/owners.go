package handlers

import (
	"fmt"
	"net/http"
	"net/url"

	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/export"
	"mercator-hq/vigil/pkg/server/types"
)

func (a *API) createOwner(w http.ResponseWriter, r *http.Request) {
	var req types.CreateOwnerRequest
	if apiErr := a.decodeJSON(w, r, &req); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}
	if apiErr := req.Validate(); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	owner := req.Owner()
	if err := a.repo.CreateOwner(r.Context(), owner); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.logger.InfoContext(r.Context(), "owner created", "owner_key", owner.Key)
	w.Header().Set("Location", "/v1/owners/"+url.PathEscape(owner.Key))
	writeJSON(w, http.StatusCreated, owner)
}

func (a *API) listOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := a.repo.ListOwners(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewListResponse(owners))
}

func (a *API) getOwner(w http.ResponseWriter, r *http.Request) {
	key, r := a.ownerKey(r)

	owner, err := a.repo.GetOwner(r.Context(), key)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, owner)
}

func (a *API) updateOwner(w http.ResponseWriter, r *http.Request) {
	key, r := a.ownerKey(r)

	var update detection.OwnerUpdate
	if apiErr := a.decodeJSON(w, r, &update); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	owner, err := a.repo.UpdateOwner(r.Context(), key, update)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, owner)
}

// deleteOwner never cascades: an owner with results is refused with 409.
func (a *API) deleteOwner(w http.ResponseWriter, r *http.Request) {
	key, r := a.ownerKey(r)

	if err := a.repo.DeleteOwner(r.Context(), key); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.logger.InfoContext(r.Context(), "owner deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listOwnerResults(w http.ResponseWriter, r *http.Request) {
	key, r := a.ownerKey(r)

	q := &detection.ResultQuery{OwnerKey: key}
	var apiErr *types.APIError
	if q.Limit, apiErr = intParam(r, "limit", 0); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}
	if q.Offset, apiErr = intParam(r, "offset", 0); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}
	if q.Since, apiErr = timeParam(r, "since"); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}
	if q.Until, apiErr = timeParam(r, "until"); apiErr != nil {
		a.writeError(w, r, apiErr)
		return
	}

	if _, err := a.repo.GetOwner(r.Context(), key); err != nil {
		a.writeError(w, r, err)
		return
	}

	records, err := a.repo.QueryResults(r.Context(), q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewListResponse(records))
}

// deleteOwnerResults removes every result of the owner but keeps the owner.
// It answers 404 when there was nothing to delete.
func (a *API) deleteOwnerResults(w http.ResponseWriter, r *http.Request) {
	key, r := a.ownerKey(r)

	deleted, err := a.repo.DeleteResultsByOwner(r.Context(), key)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if deleted == 0 {
		a.writeError(w, r, types.NewNotFoundError(types.CodeNoResults,
			fmt.Sprintf("no results found for owner %q", key)))
		return
	}

	a.invalidateRecent()
	a.logger.InfoContext(r.Context(), "owner results deleted", "deleted", deleted)
	writeJSON(w, http.StatusOK, types.DeleteResponse{OwnerKey: key, Deleted: deleted})
}

// exportOwnerResults streams the owner's results newest first as a JSON
// array or CSV download. Once streaming has started, a storage failure can
// only truncate the body.
func (a *API) exportOwnerResults(w http.ResponseWriter, r *http.Request) {
	key, r := a.ownerKey(r)

	format := r.URL.Query().Get("format")
	if format == "" {
		format = export.FormatJSON
	}
	exporter, err := export.ForFormat(format, r.URL.Query().Get("pretty") == "true")
	if err != nil {
		a.writeError(w, r, types.NewInvalidRequestError(types.CodeInvalidValue, err.Error(), "format"))
		return
	}

	if _, err := a.repo.GetOwner(r.Context(), key); err != nil {
		a.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", safeFilename(key)+"-results."+format))
	w.WriteHeader(http.StatusOK)

	if err := exporter.ExportSeq(r.Context(), a.repo.ListByOwnerOrdered(r.Context(), key), w); err != nil {
		a.logger.ErrorContext(r.Context(), "export failed after response started",
			"format", format,
			"error", err,
		)
		return
	}
	_ = http.NewResponseController(w).Flush()
}

// safeFilename replaces characters that are not safe in a download name.
func safeFilename(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
