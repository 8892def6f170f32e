package handler

import (
	"net/http"
	"time"

	"github.com/quantfold/tradecost/internal/service"
)

// StatusHandler serves the runtime status export: operating mode, uptime,
// and the training state of every online model.
type StatusHandler struct {
	mode      string
	symbols   []string
	startedAt time.Time
	svc       *service.EstimateService
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, symbols []string, startedAt time.Time, svc *service.EstimateService) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		symbols:   symbols,
		startedAt: startedAt,
		svc:       svc,
	}
}

// GetStatus responds with the current mode, tracked symbols, uptime, and
// model training statuses.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"symbols":        h.symbols,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"models":         h.svc.Statuses(),
	}
	if n, err := h.svc.HistoryCount(r.Context()); err == nil && n >= 0 {
		resp["estimates_stored"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}
