package model

import "time"

// PushSubscription is one browser/device registration for web push.
// Endpoint identifies the physical registration and is unique across users.
type PushSubscription struct {
	ID         int64     `gorm:"primaryKey"`
	UserID     int64     `gorm:"index;not null"`
	Endpoint   string    `gorm:"uniqueIndex;not null"`
	P256DH     string    `gorm:"column:p256dh;not null"`
	Auth       string    `gorm:"not null"`
	DeviceType string    `gorm:"size:64"`
	DeviceName string    `gorm:"size:128"`
	LastUsed   time.Time `gorm:"index;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}
