package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

// TripProgress is the independently tracked progress signal for an assignment.
type TripProgress struct {
	AssignmentID uuid.UUID            `gorm:"column:assignment_id;type:uuid;primaryKey"`
	Status       enums.TripStatus     `gorm:"column:status;type:trip_status;not null"`
	Source       enums.ProgressSource `gorm:"column:source;not null"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;not null"`
}

func (TripProgress) TableName() string { return "trip_progress" }
