package handler

import (
	"log/slog"
	"net/http"

	"github.com/tradewatch/sentinel/internal/domain"
)

// AuditHandler serves the audit log endpoint.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. audit may be nil when Postgres is
// disabled; the endpoint then returns 503.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logHandler(logger, "audit"),
	}
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?limit=&offset=
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
