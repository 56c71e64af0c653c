package attachment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idea-tracker/internal/auth"
	"idea-tracker/internal/blob"
	"idea-tracker/internal/observability"
	"idea-tracker/internal/quota"
)

const (
	maxJSONBodyBytes = 1 << 20
	// multipart framing around the file part
	multipartOverhead = 1 << 20
)

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type attachmentResponse struct {
	Message    string     `json:"message"`
	Attachment Attachment `json:"attachment"`
}

func (h *Handler) AddURL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input AddURLInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	created, err := h.service.AddURL(r.Context(), auth.UserIDFromContext(r.Context()), input)
	if err != nil {
		h.writeServiceError(w, "add_url_failed", err, "Failed to add URL")
		return
	}

	writeJSON(w, http.StatusCreated, attachmentResponse{Message: "URL added successfully", Attachment: created})
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	maxUpload := h.service.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartOverhead)

	if err := r.ParseMultipartForm(maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "File size exceeds "+FormatSize(maxUpload)+" limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	created, err := h.service.Upload(r.Context(), auth.UserIDFromContext(r.Context()), UploadInput{
		IdeaID:      r.FormValue("idea_id"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.writeServiceError(w, "upload_failed", err, "Failed to upload file")
		return
	}

	writeJSON(w, http.StatusCreated, attachmentResponse{Message: "File uploaded successfully", Attachment: created})
}

func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := h.service.Open(r.Context(), auth.UserIDFromContext(r.Context()), name)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		h.internalError(w, "get_file_failed", err, "Failed to get file")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", ContentTypeFor(name))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("file_stream_interrupted", map[string]any{"name": name, "error": err})
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "delete_attachment_failed", err, "Failed to delete attachment")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Attachment deleted successfully"})
}

func (h *Handler) Storage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.StorageInfo(r.Context(), auth.UserIDFromContext(r.Context())))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, event string, err error, message string) {
	var (
		invalid  *ValidationError
		exceeded *quota.ExceededError
	)
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Message)
	case errors.As(err, &exceeded):
		writeError(w, http.StatusBadRequest, exceeded.Reason)
	case errors.Is(err, ErrIdeaNotFound):
		writeError(w, http.StatusNotFound, "Idea not found or access denied")
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Attachment not found")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "Access denied")
	default:
		h.internalError(w, event, err, message)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, event string, err error, message string) {
	h.logger.Error(event, map[string]any{"error": err.Error()})
	observability.CaptureError(err, map[string]string{"component": "attachment"})
	writeError(w, http.StatusInternalServerError, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
