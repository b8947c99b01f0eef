package models

import "time"

// ItemStatus SavedItem 的生命周期状态
type ItemStatus string

const (
	StatusPending    ItemStatus = "PENDING"
	StatusProcessing ItemStatus = "PROCESSING"
	StatusCompleted  ItemStatus = "COMPLETED"
	StatusFailed     ItemStatus = "FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further writes are allowed.
func (s ItemStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SavedItem represents one imported page in a user's library
type SavedItem struct {
	ID          string     `json:"id" db:"id"`
	URL         string     `json:"url" db:"url"`
	UserID      string     `json:"user_id" db:"user_id"`
	Status      ItemStatus `json:"status" db:"status"`
	Title       *string    `json:"title" db:"title"`
	Content     *string    `json:"content" db:"content"`
	OGImage     *string    `json:"og_image" db:"og_image"`
	Author      *string    `json:"author" db:"author"`
	PublishedAt *time.Time `json:"published_at" db:"published_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Extraction holds the fields written together with COMPLETED.
// Nil fields are stored as NULL.
type Extraction struct {
	Title       *string
	Content     *string
	OGImage     *string
	Author      *string
	PublishedAt *time.Time
}

// Apply copies the extracted fields onto item and marks it completed.
func (e Extraction) Apply(item *SavedItem) {
	item.Title = e.Title
	item.Content = e.Content
	item.OGImage = e.OGImage
	item.Author = e.Author
	item.PublishedAt = e.PublishedAt
	item.Status = StatusCompleted
}
