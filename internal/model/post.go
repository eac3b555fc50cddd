package model

import "time"

type Post struct {
	ID         string    `json:"id"`
	EventID    *string   `json:"eventId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName,omitempty"`
	Content    string    `json:"content"`
	Media      []Media   `json:"media"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const (
	MediaPending = "pending"
	MediaReady   = "ready"
	MediaFailed  = "failed"
)

type Media struct {
	ID          string    `json:"id"`
	PostID      *string   `json:"postId"`
	OwnerID     string    `json:"ownerId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	Checksum    string    `json:"checksum"`
	StoragePath string    `json:"-"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
