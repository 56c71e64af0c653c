package stats

import (
	"encoding/json"
	"net/http"
	"time"

	"idea-tracker/internal/auth"
	"idea-tracker/internal/observability"
)

type Handler struct {
	repo   *Repository
	logger *observability.Logger
	now    func() time.Time
}

func NewHandler(repo *Repository, logger *observability.Logger) *Handler {
	return &Handler{repo: repo, logger: logger, now: time.Now}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	summary, err := h.repo.Summary(r.Context(), auth.UserIDFromContext(r.Context()), h.now())
	if err != nil {
		h.logger.Error("stats_failed", map[string]any{"error": err.Error()})
		observability.CaptureError(err, map[string]string{"component": "stats"})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch statistics"})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
