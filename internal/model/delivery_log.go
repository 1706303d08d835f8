package model

import "time"

// DeliveryStatus is the outcome recorded for a delivery attempt.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryError   DeliveryStatus = "error"
)

// DeliveryLog is an append-only audit row. The delivery path never reads it back.
type DeliveryLog struct {
	ID           int64          `gorm:"primaryKey"`
	UserID       int64          `gorm:"index;not null"`
	ContextRef   string         `gorm:"size:64;index"`
	Status       DeliveryStatus `gorm:"size:16;not null"`
	ErrorMessage string
	CreatedAt    time.Time `gorm:"index;not null"`
}
