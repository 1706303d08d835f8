package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"maintenance-push-backend/internal/model"
)

// EnqueuePending persists a notification before any delivery attempt.
func (s *gormStore) EnqueuePending(ctx context.Context, n *model.PendingNotification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to enqueue notification for user %d: %w", n.UserID, err)
	}
	return nil
}

// ListPending returns the user's queued notifications, oldest first.
func (s *gormStore) ListPending(ctx context.Context, userID int64) ([]model.PendingNotification, error) {
	var pending []model.PendingNotification
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").Order("id ASC").
		Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending notifications for user %d: %w", userID, err)
	}
	return pending, nil
}

// RecordDelivery adds endpoint to the notification's confirmed set. Repeated
// or concurrent calls for the same pair are no-ops.
func (s *gormStore) RecordDelivery(ctx context.Context, notificationID int64, endpoint string, at time.Time) error {
	row := model.PendingDelivery{
		NotificationID: notificationID,
		Endpoint:       endpoint,
		DeliveredAt:    at,
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record delivery of notification %d: %w", notificationID, err)
	}
	return nil
}

func (s *gormStore) DeliveredEndpoints(ctx context.Context, notificationID int64) ([]string, error) {
	var endpoints []string
	if err := s.db.WithContext(ctx).
		Model(&model.PendingDelivery{}).
		Where("notification_id = ?", notificationID).
		Pluck("endpoint", &endpoints).Error; err != nil {
		return nil, fmt.Errorf("failed to load deliveries of notification %d: %w", notificationID, err)
	}
	return endpoints, nil
}

func (s *gormStore) CompletePending(ctx context.Context, notificationID, userID int64, activeSince time.Time) (bool, error) {
	completed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		confirmed := tx.Model(&model.PendingDelivery{}).
			Select("endpoint").
			Where("notification_id = ?", notificationID)

		var missing int64
		if err := tx.Model(&model.PushSubscription{}).
			Where("user_id = ? AND last_used > ?", userID, activeSince).
			Where("endpoint NOT IN (?)", confirmed).
			Count(&missing).Error; err != nil {
			return fmt.Errorf("failed to compare deliveries of notification %d: %w", notificationID, err)
		}
		if missing > 0 {
			return nil
		}

		n, err := deletePending(tx, []int64{notificationID})
		if err != nil {
			return err
		}
		completed = n > 0
		return nil
	})
	return completed, err
}

// ExpirePending drops notifications created before the cutoff, with their confirmations.
func (s *gormStore) ExpirePending(ctx context.Context, before time.Time) (int64, error) {
	var expired int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&model.PendingNotification{}).
			Where("created_at < ?", before).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to select expired notifications: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		n, err := deletePending(tx, ids)
		expired = n
		return err
	})
	return expired, err
}

// UsersWithPending lists every user that still has queued notifications.
func (s *gormStore) UsersWithPending(ctx context.Context) ([]int64, error) {
	var userIDs []int64
	if err := s.db.WithContext(ctx).
		Model(&model.PendingNotification{}).
		Distinct().
		Pluck("user_id", &userIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to list users with pending notifications: %w", err)
	}
	return userIDs, nil
}

func deletePending(tx *gorm.DB, ids []int64) (int64, error) {
	if err := tx.Where("notification_id IN ?", ids).Delete(&model.PendingDelivery{}).Error; err != nil {
		return 0, fmt.Errorf("failed to delete deliveries: %w", err)
	}
	res := tx.Where("id IN ?", ids).Delete(&model.PendingNotification{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete pending notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}
