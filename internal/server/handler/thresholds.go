package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/service"
)

// ThresholdHandler serves threshold configuration endpoints.
type ThresholdHandler struct {
	thresholds *service.ThresholdService
	logger     *slog.Logger
}

// NewThresholdHandler creates a ThresholdHandler.
func NewThresholdHandler(thresholds *service.ThresholdService, logger *slog.Logger) *ThresholdHandler {
	return &ThresholdHandler{
		thresholds: thresholds,
		logger:     logHandler(logger, "thresholds"),
	}
}

// GetThreshold returns the effective threshold for a category and severity,
// honoring a per-user override when user_id is given.
// GET /api/thresholds/{category}/{severity}?user_id=
func (h *ThresholdHandler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	category := domain.AlertCategory(pathParam(r, "category"))
	severity := domain.AlertSeverity(pathParam(r, "severity"))
	userID := r.URL.Query().Get("user_id")

	value, err := h.thresholds.GetThreshold(category, severity, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no threshold configured")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"severity": severity,
		"user_id":  userID,
		"value":    value,
	})
}

// thresholdRequest is the body of a threshold update.
type thresholdRequest struct {
	Category domain.AlertCategory `json:"category"`
	Severity domain.AlertSeverity `json:"severity"`
	Value    float64              `json:"value"`
}

// UpdateGlobalThreshold replaces one global threshold band.
// PUT /api/thresholds
func (h *ThresholdHandler) UpdateGlobalThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.thresholds.UpdateGlobalThreshold(req.Category, req.Severity, req.Value); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "global threshold updated",
		slog.String("category", string(req.Category)),
		slog.String("severity", string(req.Severity)),
		slog.Float64("value", req.Value),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetUserThreshold sets a per-user threshold override.
// PUT /api/users/{id}/thresholds
func (h *ThresholdHandler) SetUserThreshold(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "id")

	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.thresholds.SetUserThreshold(userID, req.Category, req.Severity, req.Value); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "user threshold set",
		slog.String("user_id", userID),
		slog.String("category", string(req.Category)),
		slog.String("severity", string(req.Severity)),
		slog.Float64("value", req.Value),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
