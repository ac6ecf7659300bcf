package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is anything the health check can ping, e.g. the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers GET /healthz.
type HealthHandler struct {
	backend string
	db      Pinger // nil when storage is disabled
	logger  *slog.Logger
}

func NewHealthHandler(backend string, db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{backend: backend, db: db, logger: logger}
}

type healthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	Database string `json:"database"`
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Backend: h.backend, Database: "disabled"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp.Database = "ok"
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("health check: database ping failed", slog.String("error", err.Error()))
			resp.Status, resp.Database = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}
