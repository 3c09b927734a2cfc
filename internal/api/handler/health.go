package handler

import (
	"context"
	"net/http"

	"github.com/scholarrelay/inkgate/internal/api/response"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker reports whether the downstream analysis service is up.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// NewHealthHandler checks database, cache, and analysis-service connectivity.
func NewHealthHandler(db, cache Pinger, analysis ReadyChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"analysis": "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if analysis != nil {
			if err := analysis.Ready(r.Context()); err != nil {
				checks["analysis"] = "degraded"
			}
		}

		// The gateway keeps accepting submissions while analysis is down:
		// jobs queue up and retry, so only the local stores gate health.
		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
