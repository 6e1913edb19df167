package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

// Assignment is one slot of a freight order held by one driver.
type Assignment struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FreightOrderID     uuid.UUID          `gorm:"column:freight_order_id;type:uuid;not null"`
	DriverID           uuid.UUID          `gorm:"column:driver_id;type:uuid;not null"`
	CompanyID          *uuid.UUID         `gorm:"column:company_id;type:uuid"`
	AgreedPrice        decimal.Decimal    `gorm:"column:agreed_price;type:numeric(12,2);not null"`
	PricingBasis       enums.PricingBasis `gorm:"column:pricing_basis;type:pricing_basis;not null"`
	Status             enums.TripStatus   `gorm:"column:status;type:trip_status;not null"`
	AcceptedAt         time.Time          `gorm:"column:accepted_at;not null"`
	StatusUpdatedAt    time.Time          `gorm:"column:status_updated_at;not null"`
	DeliveredPendingAt *time.Time         `gorm:"column:delivered_pending_at"`
	LastNotes          *string            `gorm:"column:last_notes"`
	LastLat            *float64           `gorm:"column:last_lat"`
	LastLng            *float64           `gorm:"column:last_lng"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Assignment) TableName() string { return "assignments" }
