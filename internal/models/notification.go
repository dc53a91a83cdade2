package models

import (
	"time"
)

type NotificationType string

const (
	NotificationTypeFollow          NotificationType = "follow"
	NotificationTypeLikePost        NotificationType = "like_post"
	NotificationTypeCommentPost     NotificationType = "comment_post"
	NotificationTypeLikeMemory      NotificationType = "like_memory"
	NotificationTypeFlower          NotificationType = "flower"
	NotificationTypeMemory          NotificationType = "memory"
	NotificationTypeCommentMemorial NotificationType = "comment_memorial"
)

type Notification struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"not null;index" json:"user_id"` // Receiver
	ActorID   uint             `gorm:"index" json:"actor_id"`         // Sender
	Actor     User             `gorm:"foreignKey:ActorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"actor"`
	Type      NotificationType `gorm:"type:varchar(20);not null" json:"type"`
	Message   string           `gorm:"size:255" json:"message"`
	Link      string           `json:"link"`
	IsRead    bool             `gorm:"default:false;index" json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}
