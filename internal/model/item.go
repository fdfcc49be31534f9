package model

import "time"

// ItemSummary is the lightweight record cached in category list caches.
// Counter fields are mutable; identity fields never change after creation.
type ItemSummary struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	ViewCount    int64     `json:"view_count"`
	LikeCount    int64     `json:"like_count"`
	CommentCount int64     `json:"comment_count"`
	AuthorID     int64     `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	CreatedAt    time.Time `json:"created_at"`
	Notice       bool      `json:"notice"`
}

// ItemDetail is the full record cached per item, independently of the summary.
type ItemDetail struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	ViewCount    int64     `json:"view_count"`
	LikeCount    int64     `json:"like_count"`
	CommentCount int64     `json:"comment_count"`
	AuthorID     int64     `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	CreatedAt    time.Time `json:"created_at"`
	Notice       bool      `json:"notice"`
	LikedByMe    bool      `json:"liked_by_me"`
}

// Summary projects a detail record down to its list-cache form.
func (d ItemDetail) Summary() ItemSummary {
	return ItemSummary{
		ID:           d.ID,
		Title:        d.Title,
		ViewCount:    d.ViewCount,
		LikeCount:    d.LikeCount,
		CommentCount: d.CommentCount,
		AuthorID:     d.AuthorID,
		AuthorName:   d.AuthorName,
		CreatedAt:    d.CreatedAt,
		Notice:       d.Notice,
	}
}
