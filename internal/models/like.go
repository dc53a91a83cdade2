package models

import (
	"time"
)

type PostLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index;uniqueIndex:idx_like_user_post" json:"user_id"`
	PostID    uint      `gorm:"not null;index;uniqueIndex:idx_like_user_post" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (PostLike) TableName() string { return "post_likes" }

type MemoryLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index;uniqueIndex:idx_like_user_memory" json:"user_id"`
	MemoryID  uint      `gorm:"not null;index;uniqueIndex:idx_like_user_memory" json:"memory_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (MemoryLike) TableName() string { return "memory_likes" }
