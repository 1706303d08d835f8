package model

import (
	"time"

	"gorm.io/datatypes"
)

// PendingNotification is a notification not yet confirmed on every endpoint
// the user currently owns.
type PendingNotification struct {
	ID         int64  `gorm:"primaryKey"`
	UserID     int64  `gorm:"index;not null"`
	Title      string `gorm:"size:128;not null"`
	Body       string `gorm:"size:256;not null"`
	Icon       string `gorm:"size:512"`
	Badge      string `gorm:"size:512"`
	Data       datatypes.JSON
	Actions    datatypes.JSON
	ContextRef string    `gorm:"size:64"`
	CreatedAt  time.Time `gorm:"index;not null"`
}

// PendingDelivery confirms that a pending notification reached one endpoint.
// The composite key makes confirmation an idempotent insert.
type PendingDelivery struct {
	NotificationID int64     `gorm:"primaryKey;autoIncrement:false"`
	Endpoint       string    `gorm:"primaryKey"`
	DeliveredAt    time.Time `gorm:"not null"`
}
