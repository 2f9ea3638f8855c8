package models

import "time"

// FavoritePost is a bookmarked placeholder post.
type FavoritePost struct {
	PostID int    `gorm:"primaryKey" json:"post_id"`
	Title  string `gorm:"size:512" json:"title"`
	Body   string `json:"body"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
