package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/retention"
	"mercator-hq/vigil/pkg/server/types"
	"mercator-hq/vigil/pkg/telemetry/logging"
	"mercator-hq/vigil/pkg/telemetry/tracing"
)

// DefaultMaxBodyBytes limits JSON request bodies when Options leaves it unset.
const DefaultMaxBodyBytes = 1 << 20

// Options holds the dependencies of the API handlers.
type Options struct {
	// Repository stores owners and results. Required.
	Repository detection.Repository

	// Sweeper runs manual retention sweeps. Required.
	Sweeper *retention.Sweeper

	// Scheduler reports the sweep schedule and supplies the current window.
	// Optional.
	Scheduler *retention.Scheduler

	// Cache caches GET /v1/results/recent. Optional.
	Cache *RecentCache

	// DefaultWindow is used for sweeps without a window parameter when no
	// scheduler is configured.
	DefaultWindow int

	// MaxBodyBytes limits JSON request bodies.
	MaxBodyBytes int64

	Logger *slog.Logger
}

// API serves the /v1 routes.
type API struct {
	repo          detection.Repository
	sweeper       *retention.Sweeper
	scheduler     *retention.Scheduler
	cache         *RecentCache
	defaultWindow int
	maxBodyBytes  int64
	logger        *slog.Logger
	now           func() time.Time
}

// New creates the API handlers.
func New(opts Options) *API {
	a := &API{
		repo:          opts.Repository,
		sweeper:       opts.Sweeper,
		scheduler:     opts.Scheduler,
		cache:         opts.Cache,
		defaultWindow: opts.DefaultWindow,
		maxBodyBytes:  opts.MaxBodyBytes,
		logger:        opts.Logger,
		now:           time.Now,
	}
	if a.defaultWindow <= 0 {
		a.defaultWindow = detection.DefaultWindowSize
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = DefaultMaxBodyBytes
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "http.api")
	return a
}

// Register mounts every /v1 route on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/owners", a.createOwner)
	mux.HandleFunc("GET /v1/owners", a.listOwners)
	mux.HandleFunc("GET /v1/owners/{key}", a.getOwner)
	mux.HandleFunc("PATCH /v1/owners/{key}", a.updateOwner)
	mux.HandleFunc("DELETE /v1/owners/{key}", a.deleteOwner)
	mux.HandleFunc("GET /v1/owners/{key}/results", a.listOwnerResults)
	mux.HandleFunc("DELETE /v1/owners/{key}/results", a.deleteOwnerResults)
	mux.HandleFunc("GET /v1/owners/{key}/results/export", a.exportOwnerResults)

	mux.HandleFunc("POST /v1/results", a.createResult)
	mux.HandleFunc("GET /v1/results/recent", a.listRecent)
	mux.HandleFunc("GET /v1/results/{id}", a.getResult)
	mux.HandleFunc("PATCH /v1/results/{id}", a.updateResult)
	mux.HandleFunc("DELETE /v1/results/{id}", a.deleteResult)

	mux.HandleFunc("POST /v1/retention/sweep", a.sweepAll)
	mux.HandleFunc("POST /v1/retention/sweep/{key}", a.sweepOwner)
	mux.HandleFunc("GET /v1/retention/schedule", a.schedule)
}

// ownerKey reads the {key} path value and tags the request context and
// span with it.
func (a *API) ownerKey(r *http.Request) (string, *http.Request) {
	key := r.PathValue("key")
	tracing.SetOwner(trace.SpanFromContext(r.Context()), key)
	return key, r.WithContext(logging.WithOwner(r.Context(), key))
}

// invalidateRecent flushes the recent results cache after a write.
func (a *API) invalidateRecent() {
	if a.cache != nil {
		a.cache.Flush()
	}
}

func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, v any) *types.APIError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return types.NewAPIError(http.StatusRequestEntityTooLarge, types.CodeRequestTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return types.NewInvalidRequestError(types.CodeInvalidJSON, "request body is empty", "")
		default:
			return types.NewInvalidRequestError(types.CodeInvalidJSON, "invalid JSON: "+err.Error(), "")
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to an API error and writes it. Unexpected errors are
// logged and reported without internal detail.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := a.toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "error", err)
		tracing.SetError(trace.SpanFromContext(r.Context()), err)
	}
	writeJSON(w, apiErr.Status, apiErr.Body)
}

func (a *API) toAPIError(err error) *types.APIError {
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var windowErr *detection.InvalidWindowSizeError
	switch {
	case errors.As(err, &windowErr):
		return types.NewInvalidRequestError(types.CodeInvalidWindow,
			fmt.Sprintf("window must be at least 1, got %d", windowErr.WindowSize), "window")
	case errors.Is(err, detection.ErrInvalidWindowSize):
		return types.NewInvalidRequestError(types.CodeInvalidWindow, err.Error(), "window")
	case errors.Is(err, detection.ErrTimestampOutOfRange):
		return types.NewInvalidRequestError(types.CodeInvalidTimestamp, err.Error(), "timestamp")
	case errors.Is(err, detection.ErrOwnerNotFound):
		return types.NewNotFoundError(types.CodeOwnerNotFound, err.Error())
	case errors.Is(err, detection.ErrResultNotFound):
		return types.NewNotFoundError(types.CodeResultNotFound, err.Error())
	case errors.Is(err, detection.ErrOwnerExists):
		return types.NewConflictError(types.CodeOwnerExists, err.Error())
	case errors.Is(err, detection.ErrOwnerHasRecords):
		return types.NewConflictError(types.CodeOwnerHasRecords, err.Error())
	default:
		return types.NewServerError(types.CodeStorageError, "storage operation failed")
	}
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, *types.APIError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, types.NewInvalidRequestError(types.CodeInvalidValue,
			fmt.Sprintf("%s must be a non-negative integer", name), name)
	}
	return n, nil
}

// timeParam parses an optional RFC 3339 query parameter.
func timeParam(r *http.Request, name string) (*time.Time, *types.APIError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, types.NewInvalidRequestError(types.CodeInvalidValue,
			fmt.Sprintf("%s must be an RFC 3339 timestamp", name), name)
	}
	return &t, nil
}
