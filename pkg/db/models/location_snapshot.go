package models

import (
	"time"

	"github.com/google/uuid"
)

// LocationSnapshot is a historical position of a driver while serving an order.
type LocationSnapshot struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FreightOrderID uuid.UUID `gorm:"column:freight_order_id;type:uuid;not null"`
	AssignmentID   uuid.UUID `gorm:"column:assignment_id;type:uuid;not null"`
	DriverID       uuid.UUID `gorm:"column:driver_id;type:uuid;not null"`
	Lat            float64   `gorm:"column:lat;not null"`
	Lng            float64   `gorm:"column:lng;not null"`
	CapturedAt     time.Time `gorm:"column:captured_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (LocationSnapshot) TableName() string { return "location_snapshots" }
