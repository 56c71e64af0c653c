package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"idea-tracker/internal/blob"
	"idea-tracker/internal/observability"
	"idea-tracker/internal/quota"
)

const DefaultMaxUploadBytes int64 = 10 << 20

type UploadInput struct {
	IdeaID      string
	FileName    string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
}

type Service struct {
	repo          *Repository
	blobs         blob.Store
	quota         *quota.Service
	logger        *observability.Logger
	publicBaseURL string
	maxUpload     int64
	now           func() time.Time
}

func NewService(repo *Repository, blobs blob.Store, quotas *quota.Service, logger *observability.Logger) *Service {
	return &Service{
		repo:      repo,
		blobs:     blobs,
		quota:     quotas,
		logger:    logger,
		maxUpload: DefaultMaxUploadBytes,
		now:       time.Now,
	}
}

// WithPublicBaseURL prefixes generated file URLs, e.g. "https://ideas.example.com".
func (s *Service) WithPublicBaseURL(base string) *Service {
	s.publicBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	return s
}

func (s *Service) WithMaxUploadBytes(n int64) *Service {
	if n > 0 {
		s.maxUpload = n
	}
	return s
}

func (s *Service) MaxUploadBytes() int64 {
	return s.maxUpload
}

func (s *Service) AddURL(ctx context.Context, userID string, input AddURLInput) (Attachment, error) {
	input.IdeaID = strings.TrimSpace(input.IdeaID)
	input.URL = strings.TrimSpace(input.URL)
	if input.IdeaID == "" || input.URL == "" {
		return Attachment{}, &ValidationError{Message: "URL and idea_id are required"}
	}
	if !validLink(input.URL) {
		return Attachment{}, &ValidationError{Message: "Invalid URL format"}
	}
	if err := s.requireIdea(ctx, input.IdeaID, userID); err != nil {
		return Attachment{}, err
	}

	name := strings.TrimSpace(input.Title)
	if name == "" {
		name = input.URL
	}
	return s.repo.Create(ctx, Attachment{
		IdeaID:   input.IdeaID,
		FileName: name,
		FileURL:  input.URL,
		Type:     TypeURL,
	}, s.now())
}

// Upload validates the file, enforces the per-idea and per-user budgets,
// stores the bytes and records the attachment.
func (s *Service) Upload(ctx context.Context, userID string, input UploadInput) (Attachment, error) {
	if strings.TrimSpace(input.IdeaID) == "" {
		return Attachment{}, &ValidationError{Message: "idea_id is required"}
	}
	if err := s.requireIdea(ctx, input.IdeaID, userID); err != nil {
		return Attachment{}, err
	}
	if input.Size > s.maxUpload {
		return Attachment{}, &ValidationError{Message: "File size exceeds " + FormatSize(s.maxUpload) + " limit"}
	}
	if input.Size == 0 {
		return Attachment{}, &ValidationError{Message: "File is empty"}
	}

	header := make([]byte, headerLen)
	n, err := io.ReadFull(input.Body, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Attachment{}, fmt.Errorf("read file header: %w", err)
	}
	if err := ValidateFile(input.FileName, input.ContentType, header[:n]); err != nil {
		return Attachment{}, err
	}
	if _, err := input.Body.Seek(0, io.SeekStart); err != nil {
		return Attachment{}, fmt.Errorf("rewind file: %w", err)
	}

	count, err := s.repo.CountByIdea(ctx, input.IdeaID, TypeFile)
	if err != nil {
		s.logger.Error("idea_file_limit_check_failed", map[string]any{"idea_id": input.IdeaID, "error": err})
	} else if err := s.quota.CheckIdea(count); err != nil {
		return Attachment{}, err
	}
	if err := s.quota.Check(ctx, userID, input.Size); err != nil {
		return Attachment{}, err
	}

	now := s.now()
	key := GenerateFileName(input.FileName, now)
	written, err := s.blobs.Put(ctx, key, input.Body, NormalizeMIME(input.ContentType))
	if err != nil {
		return Attachment{}, fmt.Errorf("store blob: %w", err)
	}
	if written <= 0 {
		written = input.Size
	}

	created, err := s.repo.Create(ctx, Attachment{
		IdeaID:   input.IdeaID,
		FileName: input.FileName,
		FileURL:  s.fileURL(key),
		BlobKey:  key,
		Size:     written,
		Type:     TypeFile,
	}, now)
	if err != nil {
		s.removeBlob(ctx, key)
		return Attachment{}, err
	}

	s.quota.Adjust(ctx, userID, written, 1)
	return created, nil
}

// Open streams a stored file by its generated name.
func (s *Service) Open(ctx context.Context, userID, name string) (io.ReadCloser, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, blob.ErrNotFound
	}
	owned, err := s.repo.BlobOwnedBy(ctx, name, userID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, blob.ErrNotFound
	}
	return s.blobs.Open(ctx, name)
}

// Delete removes an attachment owned by userID along with its blob.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	a, ownerID, err := s.repo.GetWithOwner(ctx, id)
	if err != nil {
		return err
	}
	if ownerID != userID {
		return ErrForbidden
	}

	if a.Type == TypeFile && a.BlobKey != "" {
		if err := s.blobs.Delete(ctx, a.BlobKey); err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if a.Type == TypeFile {
		s.quota.Adjust(ctx, userID, -a.Size, -1)
	}
	return nil
}

func (s *Service) ListByIdea(ctx context.Context, ideaID string) ([]Attachment, error) {
	return s.repo.ListByIdea(ctx, ideaID)
}

// PurgeIdea removes every attachment of an idea about to be deleted. Blob
// failures are logged and do not stop the purge.
func (s *Service) PurgeIdea(ctx context.Context, userID, ideaID string) error {
	attachments, err := s.repo.ListByIdea(ctx, ideaID)
	if err != nil {
		return err
	}

	var size, files int64
	for _, a := range attachments {
		if a.Type != TypeFile {
			continue
		}
		size += a.Size
		files++
		if a.BlobKey != "" {
			s.removeBlob(ctx, a.BlobKey)
		}
	}

	if err := s.repo.DeleteByIdea(ctx, ideaID); err != nil {
		return err
	}
	if files > 0 {
		s.quota.Adjust(ctx, userID, -size, -files)
	}
	return nil
}

func (s *Service) StorageInfo(ctx context.Context, userID string) quota.Info {
	return s.quota.Info(ctx, userID)
}

func (s *Service) requireIdea(ctx context.Context, ideaID, userID string) error {
	owned, err := s.repo.IdeaOwnedBy(ctx, ideaID, userID)
	if err != nil {
		return err
	}
	if !owned {
		return ErrIdeaNotFound
	}
	return nil
}

func (s *Service) fileURL(key string) string {
	return s.publicBaseURL + "/api/attachments/file/" + url.PathEscape(key)
}

func (s *Service) removeBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Error("blob_delete_failed", map[string]any{"key": key, "error": err})
	}
}

func validLink(raw string) bool {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
