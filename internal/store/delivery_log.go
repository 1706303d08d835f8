package store

import (
	"context"
	"fmt"
	"time"

	"maintenance-push-backend/internal/model"
)

func (s *gormStore) AppendDeliveryLog(ctx context.Context, entry *model.DeliveryLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append delivery log for user %d: %w", entry.UserID, err)
	}
	return nil
}

// RecentDeliverySuccess reports whether the user already got a notification
// for contextRef after since.
func (s *gormStore) RecentDeliverySuccess(ctx context.Context, userID int64, contextRef string, since time.Time) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&model.DeliveryLog{}).
		Where("user_id = ? AND context_ref = ? AND status = ? AND created_at >= ?",
			userID, contextRef, model.DeliverySuccess, since).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query delivery log: %w", err)
	}
	return count > 0, nil
}
