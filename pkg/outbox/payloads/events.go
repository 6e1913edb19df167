package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

// AssignmentCreatedEvent is emitted once per assignment created by an allocation.
type AssignmentCreatedEvent struct {
	AssignmentID     uuid.UUID          `json:"assignmentId"`
	FreightOrderID   uuid.UUID          `json:"freightOrderId"`
	DriverID         uuid.UUID          `json:"driverId"`
	CompanyID        *uuid.UUID         `json:"companyId,omitempty"`
	AgreedPrice      decimal.Decimal    `json:"agreedPrice"`
	PricingBasis     enums.PricingBasis `json:"pricingBasis"`
	RepeatAcceptance bool               `json:"repeatAcceptance"`
}

// CapacityReservedEvent summarises a successful reservation against an order.
type CapacityReservedEvent struct {
	FreightOrderID uuid.UUID                `json:"freightOrderId"`
	Granted        int                      `json:"granted"`
	GrantedSlots   int                      `json:"grantedSlots"`
	RequiredSlots  int                      `json:"requiredSlots"`
	OrderStatus    enums.FreightOrderStatus `json:"orderStatus"`
}

// TripStatusChangedEvent is emitted for every applied trip transition.
type TripStatusChangedEvent struct {
	AssignmentID   uuid.UUID        `json:"assignmentId"`
	FreightOrderID uuid.UUID        `json:"freightOrderId"`
	DriverID       uuid.UUID        `json:"driverId"`
	From           enums.TripStatus `json:"from"`
	To             enums.TripStatus `json:"to"`
	ChangedAt      time.Time        `json:"changedAt"`
	RequestID      string           `json:"requestId,omitempty"`
}

// DeliveryConfirmationRequestedEvent asks the shipper to confirm a delivery.
type DeliveryConfirmationRequestedEvent struct {
	AssignmentID   uuid.UUID `json:"assignmentId"`
	FreightOrderID uuid.UUID `json:"freightOrderId"`
	ShipperID      uuid.UUID `json:"shipperId"`
	AutoConfirmAt  time.Time `json:"autoConfirmAt"`
}

// DeliveryConfirmedEvent records who confirmed a delivery. Automatic is true
// when the confirmation window elapsed without a shipper response.
type DeliveryConfirmedEvent struct {
	AssignmentID   uuid.UUID  `json:"assignmentId"`
	FreightOrderID uuid.UUID  `json:"freightOrderId"`
	ConfirmedBy    *uuid.UUID `json:"confirmedBy,omitempty"`
	Automatic      bool       `json:"automatic"`
	ConfirmedAt    time.Time  `json:"confirmedAt"`
}

// FreightOrderCompletedEvent fires once every assignment of an order has finished.
type FreightOrderCompletedEvent struct {
	FreightOrderID uuid.UUID `json:"freightOrderId"`
	CompletedAt    time.Time `json:"completedAt"`
}
