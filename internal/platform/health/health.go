// Package health serves the liveness endpoint with dependency pings.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"cookieconsent/pkg/platform/httputil"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

type response struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Handler reports "ok" when every check passes and 503 "degraded" otherwise.
// Each check gets timeout to answer.
func Handler(checks map[string]Check, timeout time.Duration) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok"}
		if len(names) > 0 {
			resp.Dependencies = make(map[string]string, len(names))
		}
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := checks[name](ctx)
			cancel()
			if err != nil {
				resp.Status = "degraded"
				resp.Dependencies[name] = "unavailable"
				continue
			}
			resp.Dependencies[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
