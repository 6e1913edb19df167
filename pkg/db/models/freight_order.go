package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/types"
)

// FreightOrder is a shippable unit of work split into transport slots.
type FreightOrder struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShipperID        uuid.UUID                `gorm:"column:shipper_id;type:uuid;not null"`
	Reference        string                   `gorm:"column:reference;not null"`
	ServiceClass     string                   `gorm:"column:service_class;not null;default:standard"`
	RequiredSlots    int                      `gorm:"column:required_slots;not null"`
	GrantedSlots     int                      `gorm:"column:granted_slots;not null;default:0"`
	Status           enums.FreightOrderStatus `gorm:"column:status;type:freight_order_status;not null;default:open"`
	BasePrice        decimal.Decimal          `gorm:"column:base_price;type:numeric(12,2);not null"`
	Currency         string                   `gorm:"column:currency;not null;default:BRL"`
	OriginLabel      string                   `gorm:"column:origin_label;not null"`
	DestinationLabel string                   `gorm:"column:destination_label;not null"`
	OriginPoint      *types.GeographyPoint    `gorm:"column:origin_point;type:geography(Point,4326)"`
	DestinationPoint *types.GeographyPoint    `gorm:"column:destination_point;type:geography(Point,4326)"`
	FallbackPoint    *types.GeographyPoint    `gorm:"column:fallback_point;type:geography(Point,4326)"`
	BoundDriverID    *uuid.UUID               `gorm:"column:bound_driver_id;type:uuid"`

	// Legacy aggregate fields, mirrored best-effort from assignment transitions.
	TripStatus          *enums.TripStatus `gorm:"column:trip_status;type:trip_status"`
	TripStatusUpdatedAt *time.Time        `gorm:"column:trip_status_updated_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (FreightOrder) TableName() string { return "freight_orders" }

// AvailableSlots returns how many slots can still be granted.
func (o FreightOrder) AvailableSlots() int {
	if o.GrantedSlots >= o.RequiredSlots {
		return 0
	}
	return o.RequiredSlots - o.GrantedSlots
}
