package handlers

import (
	"net/http"
	"time"

	"github.com/researchflow/researchflow/api"
)

// HealthHandler answers liveness probes.
type HealthHandler struct {
	version string
	started time.Time
}

// NewHealthHandler creates the handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, started: time.Now()}
}

// Register mounts the health route on mux.
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Health)
}

// Health reports process liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, api.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}
