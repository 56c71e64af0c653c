package quota

import (
	"context"
	"fmt"
	"math"
	"time"

	"idea-tracker/internal/observability"
)

const (
	DefaultMaxBytes        int64 = 100 * 1024 * 1024
	DefaultMaxFiles              = 50
	DefaultMaxFilesPerIdea       = 10
)

type Limits struct {
	MaxBytes        int64
	MaxFiles        int64
	MaxFilesPerIdea int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxBytes:        DefaultMaxBytes,
		MaxFiles:        DefaultMaxFiles,
		MaxFilesPerIdea: DefaultMaxFilesPerIdea,
	}
}

type Info struct {
	TotalSize   int64   `json:"total_size"`
	FileCount   int64   `json:"file_count"`
	MaxSize     int64   `json:"max_size"`
	MaxFiles    int64   `json:"max_files"`
	PercentUsed float64 `json:"percent_used"`
	CanUpload   bool    `json:"can_upload"`
}

// ExceededError is returned by Check when an upload would not fit.
type ExceededError struct {
	Reason string
}

func (e *ExceededError) Error() string {
	return e.Reason
}

type Service struct {
	repo   *Repository
	limits Limits
	logger *observability.Logger
	now    func() time.Time
}

func NewService(repo *Repository, limits Limits, logger *observability.Logger) *Service {
	return &Service{
		repo:   repo,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Limits() Limits {
	return s.limits
}

// Info reports usage. A store fault yields an empty, uploadable report.
func (s *Service) Info(ctx context.Context, userID string) Info {
	usage, err := s.usage(ctx, userID)
	if err != nil {
		s.fault("info", userID, err)
		usage = Usage{}
	}
	return s.info(usage)
}

// Check refuses an upload of size bytes that would exceed the file count or
// the byte budget. Store faults admit the upload.
func (s *Service) Check(ctx context.Context, userID string, size int64) error {
	usage, err := s.usage(ctx, userID)
	if err != nil {
		s.fault("check", userID, err)
		return nil
	}

	if usage.FileCount >= s.limits.MaxFiles {
		return &ExceededError{Reason: fmt.Sprintf("Maximum file limit reached (%d files)", s.limits.MaxFiles)}
	}
	if usage.TotalSize+size > s.limits.MaxBytes {
		available := float64(s.limits.MaxBytes-usage.TotalSize) / (1024 * 1024)
		return &ExceededError{Reason: fmt.Sprintf("Storage quota exceeded. Available: %.2fMB", math.Max(available, 0))}
	}
	return nil
}

// CheckIdea refuses another file on an idea that already holds count files.
func (s *Service) CheckIdea(count int64) error {
	if count >= s.limits.MaxFilesPerIdea {
		return &ExceededError{Reason: fmt.Sprintf("Maximum %d files per idea", s.limits.MaxFilesPerIdea)}
	}
	return nil
}

// Adjust records an upload (positive deltas) or a removal (negative deltas)
// after the attachment row has changed. When no usage row exists yet the
// row is seeded from the attachments table, which already includes the
// change, so the deltas are not applied on top.
func (s *Service) Adjust(ctx context.Context, userID string, sizeDelta, countDelta int64) {
	existing, err := s.repo.Get(ctx, userID)
	if err != nil {
		s.fault("adjust", userID, err)
		return
	}
	if existing == nil {
		_, inserted, err := s.repo.Seed(ctx, userID, s.now())
		if err != nil {
			s.fault("adjust", userID, err)
			return
		}
		if inserted {
			return
		}
	}
	if _, err := s.repo.Adjust(ctx, userID, sizeDelta, countDelta, s.now()); err != nil {
		s.fault("adjust", userID, err)
	}
}

func (s *Service) usage(ctx context.Context, userID string) (Usage, error) {
	usage, err := s.repo.Get(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	if usage != nil {
		return *usage, nil
	}
	seeded, _, err := s.repo.Seed(ctx, userID, s.now())
	return seeded, err
}

func (s *Service) info(usage Usage) Info {
	percent := 0.0
	if s.limits.MaxBytes > 0 {
		percent = math.Round(float64(usage.TotalSize)/float64(s.limits.MaxBytes)*10000) / 100
	}
	return Info{
		TotalSize:   usage.TotalSize,
		FileCount:   usage.FileCount,
		MaxSize:     s.limits.MaxBytes,
		MaxFiles:    s.limits.MaxFiles,
		PercentUsed: percent,
		CanUpload:   usage.TotalSize < s.limits.MaxBytes && usage.FileCount < s.limits.MaxFiles,
	}
}

func (s *Service) fault(op, userID string, err error) {
	s.logger.Error("storage_quota_fault", map[string]any{
		"op":      op,
		"user_id": userID,
		"error":   err,
	})
	observability.CaptureError(err, map[string]string{"component": "quota", "op": op})
}
