package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantfold/tradecost/internal/domain"
	"github.com/quantfold/tradecost/internal/service"
)

// EstimateHandler serves the cost estimation endpoints.
type EstimateHandler struct {
	svc    *service.EstimateService
	logger *slog.Logger
}

// NewEstimateHandler creates an EstimateHandler.
func NewEstimateHandler(svc *service.EstimateService, logger *slog.Logger) *EstimateHandler {
	return &EstimateHandler{
		svc:    svc,
		logger: logger.With(slog.String("handler", "estimate")),
	}
}

// CreateEstimate computes a cost estimate for the trade described in the
// request body.
// POST /api/estimates
func (h *EstimateHandler) CreateEstimate(w http.ResponseWriter, r *http.Request) {
	var req domain.TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	est, err := h.svc.Estimate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTradeRequest),
			errors.Is(err, domain.ErrInvalidHorizon):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "symbol not tracked or book not ready: "+req.Symbol)
		default:
			h.logger.ErrorContext(r.Context(), "estimate failed",
				slog.String("symbol", req.Symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "estimation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, est)
}

// GetEstimate returns one previously produced estimate from history.
// GET /api/estimates/{id}
func (h *EstimateHandler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing estimate id")
		return
	}

	est, err := h.svc.GetEstimate(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "estimate not found: "+id)
			return
		}
		h.logger.ErrorContext(r.Context(), "get estimate failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load estimate")
		return
	}

	writeJSON(w, http.StatusOK, est)
}

// ListEstimates returns stored estimates for a symbol, newest first, with
// limit/offset pagination and optional since/until time filtering.
// GET /api/estimates?symbol=BTC-USDT-SWAP&limit=50&offset=0
func (h *EstimateHandler) ListEstimates(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing required query parameter: symbol")
		return
	}

	opts := parseListOpts(r)
	estimates, err := h.svc.ListEstimates(r.Context(), symbol, opts)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "estimate history is not enabled")
			return
		}
		h.logger.ErrorContext(r.Context(), "list estimates failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list estimates")
		return
	}

	if estimates == nil {
		estimates = []domain.CostEstimate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"count":     len(estimates),
		"estimates": estimates,
	})
}
