package enums

import (
	"fmt"
	"slices"
)

// TripStatus is the lifecycle state of a single assignment.
type TripStatus string

const (
	TripStatusAccepted                     TripStatus = "accepted"
	TripStatusLoading                      TripStatus = "loading"
	TripStatusLoaded                       TripStatus = "loaded"
	TripStatusInTransit                    TripStatus = "in_transit"
	TripStatusDeliveredPendingConfirmation TripStatus = "delivered_pending_confirmation"
	TripStatusDelivered                    TripStatus = "delivered"
	TripStatusCompleted                    TripStatus = "completed"
	TripStatusCancelled                    TripStatus = "cancelled"
)

// tripProgression is the total order of progress. Cancelled sits outside it.
var tripProgression = []TripStatus{
	TripStatusAccepted,
	TripStatusLoading,
	TripStatusLoaded,
	TripStatusInTransit,
	TripStatusDeliveredPendingConfirmation,
	TripStatusDelivered,
	TripStatusCompleted,
}

// TripProgression returns a copy of the lifecycle ordering.
func TripProgression() []TripStatus {
	out := make([]TripStatus, len(tripProgression))
	copy(out, tripProgression)
	return out
}

// String implements fmt.Stringer.
func (s TripStatus) String() string {
	return string(s)
}

// Rank returns the position of s in the progression, or -1 for cancelled and unknown values.
func (s TripStatus) Rank() int {
	return slices.Index(tripProgression, s)
}

// IsValid reports whether s is a known status.
func (s TripStatus) IsValid() bool {
	return s == TripStatusCancelled || s.Rank() >= 0
}

// IsTerminal reports whether no further transition is possible.
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

// IsActive reports whether the assignment still holds its slot.
func (s TripStatus) IsActive() bool {
	return s.IsValid() && !s.IsTerminal()
}

// IsAfter reports whether s is strictly later than other in the progression.
func (s TripStatus) IsAfter(other TripStatus) bool {
	return s.Rank() > other.Rank() && s.Rank() >= 0
}

// AtLeast reports whether s has reached other in the progression.
func (s TripStatus) AtLeast(other TripStatus) bool {
	return s.Rank() >= other.Rank() && s.Rank() >= 0
}

// MaxTripStatus returns the more advanced of a and b. Cancelled wins over everything
// except completed, and empty or unknown values lose to any known status.
func MaxTripStatus(a, b TripStatus) TripStatus {
	switch {
	case !a.IsValid():
		if b.IsValid() {
			return b
		}
		return a
	case !b.IsValid():
		return a
	case a == TripStatusCancelled:
		if b == TripStatusCompleted {
			return b
		}
		return a
	case b == TripStatusCancelled:
		if a == TripStatusCompleted {
			return a
		}
		return b
	case b.Rank() > a.Rank():
		return b
	default:
		return a
	}
}

// ParseTripStatus converts raw input into a TripStatus.
func ParseTripStatus(value string) (TripStatus, error) {
	s := TripStatus(value)
	if s.IsValid() {
		return s, nil
	}
	return "", fmt.Errorf("invalid trip status %q", value)
}
