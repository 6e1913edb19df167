package enums

import "slices"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeAssignmentAccepted   NotificationType = "assignment_accepted"
	NotificationTypeDeliveryConfirmation NotificationType = "delivery_confirmation_required"
	NotificationTypeDeliveryConfirmed    NotificationType = "delivery_confirmed"
	NotificationTypeTripStatus           NotificationType = "trip_status"
	NotificationTypeTripCancelled        NotificationType = "trip_cancelled"
	NotificationTypeSystemAnnouncement   NotificationType = "system_announcement"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeAssignmentAccepted,
	NotificationTypeDeliveryConfirmation,
	NotificationTypeDeliveryConfirmed,
	NotificationTypeTripStatus,
	NotificationTypeTripCancelled,
	NotificationTypeSystemAnnouncement,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool { return slices.Contains(validNotificationTypes, n) }

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	return parseOneOf(validNotificationTypes, "notification type", value)
}
