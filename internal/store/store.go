package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"maintenance-push-backend/internal/model"
)

// DefaultMaxDevices is the per-user subscription cap.
const DefaultMaxDevices = 5

// Store defines the interface for all database operations.
type Store interface {
	SubscriptionStore
	PendingQueue
	DeliveryLog

	Ping(ctx context.Context) error
}

// SubscriptionStore is the durable registry of device subscriptions.
type SubscriptionStore interface {
	// RegisterSubscription inserts or updates the row for p.Endpoint and
	// reports whether the endpoint was unknown before the call.
	RegisterSubscription(ctx context.Context, p RegisterParams) (bool, error)
	UnregisterSubscription(ctx context.Context, userID int64, endpoint string) (bool, error)
	ListSubscriptions(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	ListActiveSubscriptions(ctx context.Context, userID int64, since time.Time) ([]model.PushSubscription, error)
	HasSubscription(ctx context.Context, userID int64, endpoint string) (bool, error)
	TouchSubscription(ctx context.Context, endpoint string, at time.Time) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// PendingQueue holds notifications until every current endpoint confirmed them.
type PendingQueue interface {
	EnqueuePending(ctx context.Context, n *model.PendingNotification) error
	ListPending(ctx context.Context, userID int64) ([]model.PendingNotification, error)
	RecordDelivery(ctx context.Context, notificationID int64, endpoint string, at time.Time) error
	DeliveredEndpoints(ctx context.Context, notificationID int64) ([]string, error)
	// CompletePending deletes the notification when every subscription of the
	// user active since the given time has a confirmation row.
	CompletePending(ctx context.Context, notificationID, userID int64, activeSince time.Time) (bool, error)
	ExpirePending(ctx context.Context, before time.Time) (int64, error)
	UsersWithPending(ctx context.Context) ([]int64, error)
}

// DeliveryLog is the append-only audit of delivery outcomes.
type DeliveryLog interface {
	AppendDeliveryLog(ctx context.Context, entry *model.DeliveryLog) error
	RecentDeliverySuccess(ctx context.Context, userID int64, contextRef string, since time.Time) (bool, error)
}

// Option configures a gormStore.
type Option func(*gormStore)

// WithMaxDevices overrides the per-user subscription cap.
func WithMaxDevices(n int) Option {
	return func(s *gormStore) {
		if n > 0 {
			s.maxDevices = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *gormStore) {
		if now != nil {
			s.now = now
		}
	}
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db         *gorm.DB
	maxDevices int
	now        func() time.Time
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, opts ...Option) Store {
	s := &gormStore{
		db:         db,
		maxDevices: DefaultMaxDevices,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that the database answers.
func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
