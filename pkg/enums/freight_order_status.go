package enums

import "slices"

// FreightOrderStatus is the aggregate lifecycle of a freight order.
type FreightOrderStatus string

const (
	FreightOrderStatusOpen       FreightOrderStatus = "open"
	FreightOrderStatusInProgress FreightOrderStatus = "in_progress"
	FreightOrderStatusCompleted  FreightOrderStatus = "completed"
	FreightOrderStatusCancelled  FreightOrderStatus = "cancelled"
)

var validFreightOrderStatuses = []FreightOrderStatus{
	FreightOrderStatusOpen,
	FreightOrderStatusInProgress,
	FreightOrderStatusCompleted,
	FreightOrderStatusCancelled,
}

// String implements fmt.Stringer.
func (s FreightOrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known FreightOrderStatus.
func (s FreightOrderStatus) IsValid() bool { return slices.Contains(validFreightOrderStatuses, s) }

// ParseFreightOrderStatus converts raw input into a FreightOrderStatus.
func ParseFreightOrderStatus(value string) (FreightOrderStatus, error) {
	return parseOneOf(validFreightOrderStatuses, "freight order status", value)
}
