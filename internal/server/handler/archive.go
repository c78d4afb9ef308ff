package handler

import (
	"log/slog"
	"net/http"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/pipeline"
)

// ArchiveHandler serves cold-storage archive endpoints.
type ArchiveHandler struct {
	reader   domain.BlobReader
	archiver *pipeline.Archiver
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. reader and archiver may be
// nil when S3 is disabled; affected endpoints then return 503.
func NewArchiveHandler(reader domain.BlobReader, archiver *pipeline.Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		reader:   reader,
		archiver: archiver,
		logger:   logHandler(logger, "archive"),
	}
}

// ListArchives returns metadata for all archived alert files.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	infos, err := h.reader.List(r.Context(), "archive/alerts/")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"archives": infos,
		"count":    len(infos),
	})
}

// TriggerArchive starts an archive run immediately instead of waiting for
// the cron schedule.
// POST /api/archives/run
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "archiver not configured")
		return
	}

	if err := h.archiver.Run(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "manual archive run failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
