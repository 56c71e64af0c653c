package attachment

import "time"

const (
	TypeFile = "file"
	TypeURL  = "url"
)

type Attachment struct {
	ID        string    `json:"id"`
	IdeaID    string    `json:"idea_id"`
	FileName  string    `json:"file_name"`
	FileURL   string    `json:"file_url"`
	BlobKey   string    `json:"-"`
	Size      int64     `json:"size"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type AddURLInput struct {
	IdeaID string `json:"idea_id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}
