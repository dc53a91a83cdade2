package models

import (
	"time"
)

type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"uniqueIndex;size:32;not null" json:"username"` // Username can be modified
	Email       string    `gorm:"uniqueIndex;not null" json:"-"`
	Password    string    `gorm:"not null" json:"-"` // Hash
	DisplayName string    `gorm:"size:64" json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	AvatarKey   string    `json:"-"` // storage key of the current avatar
	Bio         string    `gorm:"size:200" json:"bio"`
	Premium     bool      `gorm:"default:false;not null" json:"premium"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Never hard-deleted
}
