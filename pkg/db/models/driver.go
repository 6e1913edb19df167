package models

import (
	"time"

	"github.com/google/uuid"
)

// Driver is the eligibility record of a user able to hold assignments.
type Driver struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID       *uuid.UUID `gorm:"column:company_id;type:uuid"`
	DisplayName     string     `gorm:"column:display_name;not null"`
	Active          bool       `gorm:"column:active;not null;default:true"`
	CapacityEnabled bool       `gorm:"column:capacity_enabled;not null;default:true"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Driver) TableName() string { return "drivers" }
