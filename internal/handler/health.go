package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/codequerydev/codequery/internal/model"
)

// HealthMessage is returned by GET /.
const HealthMessage = "CodeQuery Gateway is running"

// Health reports liveness. It never touches the stores.
// GET /
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: HealthMessage})
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ready returns a handler that reports 503 while p cannot be reached.
// GET /readyz
func Ready(p Pinger, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, model.StatusResponse{Status: "unavailable", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, model.StatusResponse{Status: "ok", Message: "store reachable"})
	}
}
