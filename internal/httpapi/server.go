// Package httpapi serves the toolkit's operational endpoints: health,
// readiness and Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/book-expert/voice-toolkit/internal/observability"
	"github.com/go-chi/chi/v5"
)

// Status describes the inference server behind the toolkit.
type Status struct {
	Ready    bool   `json:"ready"`
	Endpoint string `json:"endpoint,omitempty"`
	Pid      int    `json:"pid,omitempty"`
}

// StatusFunc reports the current server status.
type StatusFunc func() Status

// NewRouter returns the operational HTTP handler.
func NewRouter(metrics *observability.Metrics, status StatusFunc) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		current := status()

		code := http.StatusOK
		if !current.Ready {
			code = http.StatusServiceUnavailable
		}

		respondJSON(w, code, current)
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(body)
}
