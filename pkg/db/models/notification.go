package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

// Notification stores in-app notification payloads addressed to a user.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID              `gorm:"type:uuid;not null"`
	Type      enums.NotificationType `gorm:"type:notification_type;not null"`
	Title     string                 `gorm:"type:text;not null"`
	Message   string                 `gorm:"type:text;not null"`
	Data      json.RawMessage        `gorm:"type:jsonb"`
	DedupeKey *string                `gorm:"type:text;uniqueIndex:ux_notifications_dedupe_key"`
	ReadAt    *time.Time             `gorm:"type:timestamptz"`
	CreatedAt time.Time              `gorm:"type:timestamptz;autoCreateTime"`
}
