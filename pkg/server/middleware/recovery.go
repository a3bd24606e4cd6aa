package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/vigil/pkg/server/types"
)

// RecoveryMiddleware recovers from panics in HTTP handlers and returns a 500
// error body. The panic and stack trace are logged but never sent to the
// client. http.ErrAbortHandler is re-raised so net/http can abort the
// connection.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			slog.ErrorContext(r.Context(), "panic in handler",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)

			apiErr := types.NewServerError(types.CodeInternalError,
				"An internal error occurred. Please try again later.")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(apiErr.Status)
			_ = json.NewEncoder(w).Encode(apiErr.Body)
		}()

		next.ServeHTTP(w, r)
	})
}
