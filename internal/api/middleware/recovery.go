package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/scholarrelay/inkgate/internal/api/response"
)

// Recovery converts a handler panic into a 500 envelope. A panic in one
// partner's request must never take down the gateway for the rest.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic while serving request",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
					"stack", string(debug.Stack()),
				)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
