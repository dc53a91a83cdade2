package models

import (
	"time"
)

type MemorialPage struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Slug            string     `gorm:"uniqueIndex;size:128;not null" json:"slug"`
	DisplayName     string     `gorm:"size:128;not null" json:"display_name"`
	Bio             string     `gorm:"type:text" json:"bio"`
	BirthDate       *time.Time `json:"birth_date"`
	PassingDate     *time.Time `json:"passing_date"`
	AnniversaryDate *time.Time `json:"anniversary_date"`
	AvatarURL       string     `json:"avatar_url"`
	AvatarKey       string     `json:"-"`
	CreatorID       uint       `gorm:"not null;index" json:"creator_id"`
	Creator         User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"creator"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Memory is one entry left on a memorial page.
type Memory struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MemorialID uint      `gorm:"not null;index" json:"memorial_id"`
	AuthorID   uint      `gorm:"not null;index" json:"author_id"`
	Author     User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	ImageURL   string    `json:"image_url"`
	ImageKey   string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Memory) TableName() string { return "memorial_memories" }

// Flower is a virtual flower; one per (user, memorial page).
type Flower struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index;uniqueIndex:idx_flower_user_memorial" json:"user_id"`
	MemorialID uint      `gorm:"not null;index;uniqueIndex:idx_flower_user_memorial" json:"memorial_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Flower) TableName() string { return "memorial_flowers" }

type MemorialComment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MemorialID uint      `gorm:"not null;index" json:"memorial_id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	User       User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"user"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
