package instance

import (
	"os"

	"github.com/angelmondragon/freightlane-backend/pkg/env"
)

// GetID names this replica, e.g. in MQTT client ids and cron logs.
// FREIGHTLANE_INSTANCE_ID wins over the hostname.
func GetID() string {
	if id := env.Get("INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "instance-0"
}
