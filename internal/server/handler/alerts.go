package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/service"
)

// AlertHandler serves the alert lifecycle endpoints.
type AlertHandler struct {
	alerts *service.AlertService
	notes  *service.NotificationService
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(alerts *service.AlertService, notes *service.NotificationService, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		notes:  notes,
		logger: logHandler(logger, "alerts"),
	}
}

// ListAlerts returns current alerts, filterable by user or category.
// GET /api/alerts?user_id=&category=
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var alerts []domain.RiskAlert
	switch {
	case q.Get("user_id") != "":
		alerts = h.alerts.GetAlertsByUser(q.Get("user_id"))
	case q.Get("category") != "":
		alerts = h.alerts.GetAlertsByCategory(domain.AlertCategory(q.Get("category")))
	default:
		alerts = h.alerts.GetActiveAlerts()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert returns one alert by id.
// GET /api/alerts/{id}
func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	alert, ok := h.alerts.GetAlert(id)
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// ackRequest is the body of an acknowledge request.
type ackRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging a resolved or
// already acknowledged alert is a no-op; the current state is returned either
// way.
// POST /api/alerts/{id}/acknowledge
func (h *AlertHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, ok := h.alerts.GetAlert(id); !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AcknowledgedBy == "" {
		writeError(w, http.StatusBadRequest, "acknowledged_by is required")
		return
	}

	h.alerts.AcknowledgeAlert(r.Context(), id, req.AcknowledgedBy)

	alert, _ := h.alerts.GetAlert(id)
	writeJSON(w, http.StatusOK, alert)
}

// ResolveAlert marks an alert resolved. Resolving a resolved alert is a
// no-op.
// POST /api/alerts/{id}/resolve
func (h *AlertHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, ok := h.alerts.GetAlert(id); !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	h.alerts.ResolveAlert(r.Context(), id)

	alert, _ := h.alerts.GetAlert(id)
	writeJSON(w, http.StatusOK, alert)
}

// GetStatistics returns aggregate alert and notification counts.
// GET /api/alerts/statistics
func (h *AlertHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.alerts.GetAlertStatistics())
}

// ListNotifications returns the delivery history for one alert.
// GET /api/alerts/{id}/notifications
func (h *AlertHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, ok := h.alerts.GetAlert(id); !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	notes := h.notes.ListByAlert(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notes,
		"count":         len(notes),
	})
}
