package trips

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

// AwaitingConfirmationMessage is shown when a driver acts on a trip the
// shipper still has to confirm.
const AwaitingConfirmationMessage = "this trip is already delivered and awaiting confirmation"

// Merge reconciles the stored assignment status with the independently
// tracked progress signal. The more advanced status wins.
func Merge(stored, progress enums.TripStatus) enums.TripStatus {
	return enums.MaxTripStatus(stored, progress)
}

// party is who is asking for a transition, relative to the assignment.
type party int

const (
	partyCarrier party = iota // assigned driver or its company
	partyShipper
	partyAdmin
	partySystem
)

// checkTransition validates target for the given party. It returns nil when
// the move is allowed.
//
// Targets are judged against the effective status. A target equal to an
// effective status that only the progress signal has reached reconciles the
// stored row, so it is judged against the stored status instead.
func checkTransition(stored, effective, target enums.TripStatus, who party) error {
	base := effective
	if target == effective && effective.IsAfter(stored) {
		base = stored
	}
	if base.IsTerminal() {
		return invalidTransition(effective, target)
	}

	switch target {
	case enums.TripStatusCancelled:
		if effective == enums.TripStatusDeliveredPendingConfirmation && who == partyCarrier {
			return invalidTransition(effective, target)
		}
		return nil
	case enums.TripStatusDelivered:
		if base != enums.TripStatusDeliveredPendingConfirmation {
			if base.AtLeast(enums.TripStatusDelivered) {
				return invalidTransition(effective, target)
			}
			if who == partyCarrier {
				return pkgerrors.New(pkgerrors.CodeForbidden, "delivery must be confirmed by the shipper")
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery has not been reported yet").
				WithDetails(details(effective, target))
		}
		if who == partyCarrier {
			return invalidTransition(effective, target)
		}
		return nil
	}

	if who == partyShipper {
		return pkgerrors.New(pkgerrors.CodeForbidden, "shippers may only confirm or cancel a trip")
	}
	if base == enums.TripStatusDeliveredPendingConfirmation && who != partyAdmin {
		return invalidTransition(effective, target)
	}
	if !target.IsAfter(base) {
		return invalidTransition(effective, target)
	}
	if target == enums.TripStatusCompleted && base != enums.TripStatusDelivered {
		return invalidTransition(effective, target)
	}
	return nil
}

func invalidTransition(effective, target enums.TripStatus) error {
	var msg string
	switch {
	case effective == enums.TripStatusCancelled:
		msg = "this trip was cancelled"
	case effective == enums.TripStatusCompleted:
		msg = "this trip is already completed"
	case effective.AtLeast(enums.TripStatusDeliveredPendingConfirmation):
		msg = AwaitingConfirmationMessage
	case target == enums.TripStatusCompleted:
		msg = "this trip has not been delivered yet"
	default:
		msg = fmt.Sprintf("this trip has already moved past %s", humanize(target))
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, msg).WithDetails(details(effective, target))
}

func details(effective, target enums.TripStatus) map[string]any {
	return map[string]any{
		"effectiveStatus": string(effective),
		"requestedStatus": string(target),
	}
}

func humanize(status enums.TripStatus) string {
	return strings.ReplaceAll(string(status), "_", " ")
}
