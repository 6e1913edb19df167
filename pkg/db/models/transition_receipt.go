package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

// TransitionReceipt records the outcome of an applied transition keyed by the client request id.
type TransitionReceipt struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RequestID       string           `gorm:"column:request_id;not null;uniqueIndex:ux_transition_receipts_request"`
	AssignmentID    uuid.UUID        `gorm:"column:assignment_id;type:uuid;not null"`
	ActorID         uuid.UUID        `gorm:"column:actor_id;type:uuid;not null"`
	FromStatus      enums.TripStatus `gorm:"column:from_status;type:trip_status;not null"`
	TargetStatus    enums.TripStatus `gorm:"column:target_status;type:trip_status;not null"`
	EffectiveStatus enums.TripStatus `gorm:"column:effective_status;type:trip_status;not null"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
}

func (TransitionReceipt) TableName() string { return "transition_receipts" }
