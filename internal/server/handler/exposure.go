package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/service"
)

// ExposureHandler serves position and exposure snapshot endpoints.
type ExposureHandler struct {
	ledger   *service.PositionLedger
	exposure *service.ExposureService
	logger   *slog.Logger
}

// NewExposureHandler creates an ExposureHandler.
func NewExposureHandler(ledger *service.PositionLedger, exposure *service.ExposureService, logger *slog.Logger) *ExposureHandler {
	return &ExposureHandler{
		ledger:   ledger,
		exposure: exposure,
		logger:   logHandler(logger, "exposure"),
	}
}

// GetPosition returns a user's current position.
// GET /api/positions/{user_id}
func (h *ExposureHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "user_id")

	pos, err := h.ledger.GetUserPosition(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CreateSnapshot computes a fresh exposure snapshot for a user.
// POST /api/exposure/{user_id}/snapshot
func (h *ExposureHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "user_id")

	snap, err := h.exposure.CreateSnapshot(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListSnapshots returns recent exposure snapshots, oldest first.
// GET /api/exposure/snapshots?limit=
func (h *ExposureHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	snaps := h.exposure.GetRecentSnapshots(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}
