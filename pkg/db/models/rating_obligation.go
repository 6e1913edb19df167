package models

import (
	"time"

	"github.com/google/uuid"
)

// RatingObligation is feedback a driver owes once an assignment completes.
type RatingObligation struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AssignmentID   uuid.UUID  `gorm:"column:assignment_id;type:uuid;not null"`
	FreightOrderID uuid.UUID  `gorm:"column:freight_order_id;type:uuid;not null"`
	RaterID        uuid.UUID  `gorm:"column:rater_id;type:uuid;not null"`
	RateeID        uuid.UUID  `gorm:"column:ratee_id;type:uuid;not null"`
	Score          *int       `gorm:"column:score"`
	Comment        *string    `gorm:"column:comment"`
	SatisfiedAt    *time.Time `gorm:"column:satisfied_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (RatingObligation) TableName() string { return "rating_obligations" }
