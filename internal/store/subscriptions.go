package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"maintenance-push-backend/internal/model"
)

// RegisterSubscription upserts the subscription keyed by endpoint. An existing
// endpoint is updated in place, possibly moving to another user. The cap is
// enforced afterwards for the owning user by evicting the least recently used rows.
func (s *gormStore) RegisterSubscription(ctx context.Context, p RegisterParams) (bool, error) {
	p = p.normalized()
	now := s.now()
	isNew := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.PushSubscription
		err := tx.Select("id").Where("endpoint = ?", p.Endpoint).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			isNew = true
		case err != nil:
			return fmt.Errorf("failed to look up subscription: %w", err)
		}

		subscription := model.PushSubscription{
			UserID:     p.UserID,
			Endpoint:   p.Endpoint,
			P256DH:     p.P256DH,
			Auth:       p.Auth,
			DeviceType: p.DeviceType,
			DeviceName: p.DeviceName,
			LastUsed:   now,
			CreatedAt:  now,
		}
		// The unique endpoint index settles concurrent registrations of the same device.
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth", "device_type", "device_name", "last_used"}),
		}).Create(&subscription).Error; err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		return s.enforceDeviceCap(tx, p.UserID, p.Endpoint)
	})
	if err != nil {
		return false, err
	}
	return isNew, nil
}

// enforceDeviceCap deletes the user's oldest subscriptions by last_used
// (ties broken by id) until at most maxDevices remain. keep is never evicted.
func (s *gormStore) enforceDeviceCap(tx *gorm.DB, userID int64, keep string) error {
	var subscriptions []model.PushSubscription
	if err := tx.Select("id", "endpoint").
		Where("user_id = ?", userID).
		Order("last_used ASC").Order("id ASC").
		Find(&subscriptions).Error; err != nil {
		return fmt.Errorf("failed to list subscriptions for user %d: %w", userID, err)
	}

	excess := len(subscriptions) - s.maxDevices
	for _, sub := range subscriptions {
		if excess <= 0 {
			break
		}
		if sub.Endpoint == keep {
			continue
		}
		if err := tx.Delete(&model.PushSubscription{}, sub.ID).Error; err != nil {
			return fmt.Errorf("failed to evict subscription %d: %w", sub.ID, err)
		}
		excess--
	}
	return nil
}

// UnregisterSubscription deletes the endpoint only if it belongs to userID.
func (s *gormStore) UnregisterSubscription(ctx context.Context, userID int64, endpoint string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&model.PushSubscription{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListSubscriptions returns every live subscription of the user, most recently used first.
func (s *gormStore) ListSubscriptions(ctx context.Context, userID int64) ([]model.PushSubscription, error) {
	var subscriptions []model.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_used DESC").
		Find(&subscriptions).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for user %d: %w", userID, err)
	}
	return subscriptions, nil
}

// ListActiveSubscriptions returns the subscriptions used after since.
func (s *gormStore) ListActiveSubscriptions(ctx context.Context, userID int64, since time.Time) ([]model.PushSubscription, error) {
	var subscriptions []model.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND last_used > ?", userID, since).
		Order("id ASC").
		Find(&subscriptions).Error; err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions for user %d: %w", userID, err)
	}
	return subscriptions, nil
}

func (s *gormStore) HasSubscription(ctx context.Context, userID int64, endpoint string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&model.PushSubscription{}).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}
	return count > 0, nil
}

// TouchSubscription records a successful delivery time on the endpoint.
func (s *gormStore) TouchSubscription(ctx context.Context, endpoint string, at time.Time) error {
	if err := s.db.WithContext(ctx).
		Model(&model.PushSubscription{}).
		Where("endpoint = ?", endpoint).
		Update("last_used", at).Error; err != nil {
		return fmt.Errorf("failed to touch subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes an endpoint regardless of owner. Used when the
// push service reports the endpoint as gone.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Delete(&model.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
