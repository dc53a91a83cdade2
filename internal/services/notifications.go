package services

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"memoria/internal/errs"
	"memoria/internal/models"
)

const notificationListLimit = 50

type NotificationService struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewNotificationService(db *gorm.DB, log *slog.Logger) *NotificationService {
	return &NotificationService{db: db, log: log.With("component", "notifications")}
}

// Notify records a notification for receiver. Self-notifications are
// skipped. Failures are logged and never surface to the caller: the action
// that triggered the notification has already been committed.
func (s *NotificationService) Notify(ctx context.Context, receiverID, actorID uint, typ models.NotificationType, message, link string) {
	if receiverID == 0 || receiverID == actorID {
		return
	}
	n := models.Notification{
		UserID:  receiverID,
		ActorID: actorID,
		Type:    typ,
		Message: message,
		Link:    link,
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		s.log.Error("create notification", "receiver", receiverID, "type", typ, "error", err)
	}
}

// List returns the newest notifications for the actor.
func (s *NotificationService) List(ctx context.Context, actorID uint) ([]models.Notification, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	var list []models.Notification
	err := s.db.WithContext(ctx).
		Preload("Actor").
		Where("user_id = ?", actorID).
		Order("created_at desc, id desc").
		Limit(notificationListLimit).
		Find(&list).Error
	if err != nil {
		return nil, errs.Upstreamf(err, "list notifications")
	}
	return list, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, actorID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", actorID, false).
		Count(&count).Error
	if err != nil {
		return 0, errs.Upstreamf(err, "count unread notifications")
	}
	return count, nil
}

func (s *NotificationService) load(ctx context.Context, actorID, id uint) (*models.Notification, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Errorf(errs.NotFound, "notification not found")
		}
		return nil, errs.Upstreamf(err, "load notification %d", id)
	}
	if err := RequireOwner(actorID, n.UserID); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, actorID, id uint) error {
	n, err := s.load(ctx, actorID, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(n).Update("is_read", true).Error; err != nil {
		return errs.Upstreamf(err, "mark notification %d read", id)
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, actorID uint) error {
	if err := RequireActor(actorID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", actorID, false).
		Update("is_read", true).Error
	if err != nil {
		return errs.Upstreamf(err, "mark notifications read")
	}
	return nil
}

func (s *NotificationService) Delete(ctx context.Context, actorID, id uint) error {
	n, err := s.load(ctx, actorID, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(n).Error; err != nil {
		return errs.Upstreamf(err, "delete notification %d", id)
	}
	return nil
}
