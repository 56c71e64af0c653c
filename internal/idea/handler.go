package idea

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"idea-tracker/internal/attachment"
	"idea-tracker/internal/auth"
	"idea-tracker/internal/observability"
)

const (
	maxJSONBodyBytes  = 1 << 20
	maxTitleLength    = 200
	maxDescriptionLen = 10000
	maxTagsLength     = 500
)

type Handler struct {
	repo        *Repository
	attachments *attachment.Service
	logger      *observability.Logger
	now         func() time.Time
}

func NewHandler(repo *Repository, attachments *attachment.Service, logger *observability.Logger) *Handler {
	return &Handler{repo: repo, attachments: attachments, logger: logger, now: time.Now}
}

type ideaResponse struct {
	Message string `json:"message"`
	Idea    Idea   `json:"idea"`
}

type detailResponse struct {
	Idea        Idea                    `json:"idea"`
	Attachments []attachment.Attachment `json:"attachments"`
	Stats       detailStats             `json:"stats"`
}

type detailStats struct {
	DaysSinceCreated int64 `json:"days_since_created"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := strconv.Atoi(query.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	filter := Filter{
		Search: query.Get("search"),
		Status: strings.TrimSpace(query.Get("status")),
		Tag:    query.Get("tag"),
		Page:   page,
	}
	if filter.Status != "" && !ValidStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	result, err := h.repo.List(r.Context(), auth.UserIDFromContext(r.Context()), filter)
	if err != nil {
		h.internalError(w, "list_ideas_failed", err, "Failed to fetch ideas")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if !decodeJSON(w, r, &input) {
		return
	}

	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}
	if input.Status == "" {
		input.Status = StatusDraft
	}
	input.Description = normalizeOptional(input.Description)
	input.Tags = normalizeOptional(input.Tags)
	if msg := validateFields(input.Title, input.Description, input.Tags, input.Status); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := h.repo.Create(r.Context(), auth.UserIDFromContext(r.Context()), input, h.now())
	if err != nil {
		h.internalError(w, "create_idea_failed", err, "Failed to create idea")
		return
	}

	writeJSON(w, http.StatusCreated, ideaResponse{Message: "Idea created successfully", Idea: created})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ideaID(w, r)
	if !ok {
		return
	}

	found, err := h.repo.Get(r.Context(), id, auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeRepoError(w, "get_idea_failed", err, "Failed to fetch idea")
		return
	}

	attachments, err := h.attachments.ListByIdea(r.Context(), id)
	if err != nil {
		h.internalError(w, "list_attachments_failed", err, "Failed to fetch idea")
		return
	}

	days := int64(h.now().Sub(found.CreatedAt) / (24 * time.Hour))
	writeJSON(w, http.StatusOK, detailResponse{
		Idea:        found,
		Attachments: attachments,
		Stats:       detailStats{DaysSinceCreated: days},
	})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ideaID(w, r)
	if !ok {
		return
	}

	var input UpdateInput
	if !decodeJSON(w, r, &input) {
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	current, err := h.repo.Get(r.Context(), id, userID)
	if err != nil {
		h.writeRepoError(w, "update_idea_failed", err, "Failed to update idea")
		return
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "Title cannot be empty")
			return
		}
		current.Title = title
	}
	if input.Description != nil {
		current.Description = normalizeOptional(input.Description)
	}
	if input.Tags != nil {
		current.Tags = normalizeOptional(input.Tags)
	}
	if input.Status != nil {
		current.Status = strings.TrimSpace(*input.Status)
	}
	if msg := validateFields(current.Title, current.Description, current.Tags, current.Status); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	updated, err := h.repo.Save(r.Context(), current, h.now())
	if err != nil {
		h.writeRepoError(w, "update_idea_failed", err, "Failed to update idea")
		return
	}

	writeJSON(w, http.StatusOK, ideaResponse{Message: "Idea updated successfully", Idea: updated})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ideaID(w, r)
	if !ok {
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	if _, err := h.repo.Get(r.Context(), id, userID); err != nil {
		h.writeRepoError(w, "delete_idea_failed", err, "Failed to delete idea")
		return
	}
	if err := h.attachments.PurgeIdea(r.Context(), userID, id); err != nil {
		h.internalError(w, "delete_idea_failed", err, "Failed to delete idea")
		return
	}
	if err := h.repo.Delete(r.Context(), id, userID); err != nil {
		h.writeRepoError(w, "delete_idea_failed", err, "Failed to delete idea")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Idea deleted successfully"})
}

func (h *Handler) writeRepoError(w http.ResponseWriter, event string, err error, message string) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Idea not found")
		return
	}
	h.internalError(w, event, err, message)
}

func (h *Handler) internalError(w http.ResponseWriter, event string, err error, message string) {
	h.logger.Error(event, map[string]any{"error": err.Error()})
	observability.CaptureError(err, map[string]string{"component": "idea"})
	writeError(w, http.StatusInternalServerError, message)
}

func ideaID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid idea id")
		return "", false
	}
	return id, true
}

func validateFields(title string, description, tags *string, status string) string {
	if !utf8.ValidString(title) || utf8.RuneCountInString(title) > maxTitleLength {
		return "title is invalid"
	}
	if description != nil && (!utf8.ValidString(*description) || utf8.RuneCountInString(*description) > maxDescriptionLen) {
		return "description is invalid"
	}
	if tags != nil && (!utf8.ValidString(*tags) || utf8.RuneCountInString(*tags) > maxTagsLength) {
		return "tags are invalid"
	}
	if !ValidStatus(status) {
		return "Invalid status"
	}
	return ""
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
