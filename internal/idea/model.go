package idea

import (
	"errors"
	"time"
)

const (
	StatusDraft      = "draft"
	StatusInProgress = "in_progress"
	StatusReady      = "ready"
	StatusPublished  = "published"
)

const PageSize = 10

var ErrNotFound = errors.New("idea not found")

// Statuses lists every valid status in workflow order.
var Statuses = []string{StatusDraft, StatusInProgress, StatusReady, StatusPublished}

func ValidStatus(status string) bool {
	for _, s := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

type Idea struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Tags        *string   `json:"tags"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ListItem struct {
	Idea
	AttachmentCount int64 `json:"attachment_count"`
}

type Filter struct {
	Search string
	Status string
	Tag    string
	Page   int
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

type Page struct {
	Ideas      []ListItem `json:"ideas"`
	Pagination Pagination `json:"pagination"`
}

type CreateInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Tags        *string `json:"tags"`
	Status      string  `json:"status"`
}

// UpdateInput leaves fields that are nil unchanged. An empty description or
// tags value clears the field.
type UpdateInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Tags        *string `json:"tags"`
	Status      *string `json:"status"`
}
