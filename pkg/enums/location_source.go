package enums

// LocationSource names where a resolved position came from.
type LocationSource string

const (
	LocationSourceLive     LocationSource = "live"
	LocationSourceSnapshot LocationSource = "snapshot"
	LocationSourceFallback LocationSource = "fallback"
)

// ProgressSource names who reported a trip-progress signal.
type ProgressSource string

const (
	ProgressSourceDriverApp ProgressSource = "driver_app"
	ProgressSourceTelemetry ProgressSource = "telemetry"
	ProgressSourceGeofence  ProgressSource = "geofence"
)

func (p ProgressSource) IsValid() bool {
	switch p {
	case ProgressSourceDriverApp, ProgressSourceTelemetry, ProgressSourceGeofence:
		return true
	}
	return false
}
